package remote

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// RetryConfig holds retry configuration for a RetryStore.
type RetryConfig struct {
	Attempts int           // total attempts per call, at least 1
	Delay    time.Duration // wait before the first retry, doubled per attempt
	MaxDelay time.Duration
}

// RetryStore retries failed store calls with exponential backoff.
// Not-found, trashed and ambiguous-path errors are final.
type RetryStore struct {
	Store
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryStore wraps store. A config with fewer than two attempts returns store unchanged.
func NewRetryStore(store Store, cfg RetryConfig, logger *zap.Logger) Store {
	if cfg.Attempts < 2 {
		return store
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RetryStore{Store: store, cfg: cfg, logger: logger}
}

func isFinal(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrTrashed) ||
		errors.Is(err, model.ErrAmbiguousPath) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *RetryStore) do(ctx context.Context, op string, fn func() error) error {
	wait := s.cfg.Delay
	var err error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if err = fn(); err == nil || isFinal(err) {
			return err
		}
		if attempt == s.cfg.Attempts {
			break
		}
		s.logger.Warn("remote call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if wait > s.cfg.MaxDelay {
			wait = s.cfg.MaxDelay
		}
	}
	return err
}

func (s *RetryStore) Root(ctx context.Context) (id string, err error) {
	err = s.do(ctx, "root", func() (e error) {
		id, e = s.Store.Root(ctx)
		return e
	})
	return id, err
}

func (s *RetryStore) List(ctx context.Context, parentID, pageToken string) (page *Page, err error) {
	err = s.do(ctx, "list", func() (e error) {
		page, e = s.Store.List(ctx, parentID, pageToken)
		return e
	})
	return page, err
}

func (s *RetryStore) Get(ctx context.Context, id string) (obj *Object, err error) {
	err = s.do(ctx, "get", func() (e error) {
		obj, e = s.Store.Get(ctx, id)
		return e
	})
	return obj, err
}

// Create is never retried. A repeated create can leave a remote duplicate.
func (s *RetryStore) Create(ctx context.Context, parentID, name, metadata string, content []byte) (string, error) {
	return s.Store.Create(ctx, parentID, name, metadata, content)
}

func (s *RetryStore) Update(ctx context.Context, id, metadata string, content []byte) error {
	return s.do(ctx, "update", func() error {
		return s.Store.Update(ctx, id, metadata, content)
	})
}

func (s *RetryStore) Remove(ctx context.Context, id string) error {
	return s.do(ctx, "remove", func() error {
		return s.Store.Remove(ctx, id)
	})
}

func (s *RetryStore) Download(ctx context.Context, id string) (data []byte, err error) {
	err = s.do(ctx, "download", func() (e error) {
		data, e = s.Store.Download(ctx, id)
		return e
	})
	return data, err
}
