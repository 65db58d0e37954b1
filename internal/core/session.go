package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Session guards one named backup against concurrent runs and owns its cache file.
//
// INVARIANTS:
// - The pid file exists for the whole run; a second run refuses to start unless forced
// - The lock file exists while the remote store may differ from the cache
// - Release writes the cache before removing the lock
type Session struct {
	fs     afero.Fs
	dir    string
	name   string
	logger *zap.Logger
	now    func() time.Time

	locked       bool
	inconsistent bool
}

// NewSession creates a session for backup name with its files in dir.
func NewSession(fs afero.Fs, dir, name string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{fs: fs, dir: dir, name: name, logger: logger, now: time.Now}
}

func (s *Session) file(ext string) string {
	return filepath.Join(s.dir, ".cloudsync_"+s.name+"."+ext)
}

// PIDPath returns the path of the pid file.
func (s *Session) PIDPath() string { return s.file("pid") }

// LockPath returns the path of the lock file.
func (s *Session) LockPath() string { return s.file("lock") }

// CachePath returns the path of the snapshot file.
func (s *Session) CachePath() string { return s.file("cache") }

func (s *Session) exists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

// Start claims the run. A present pid file means another run is active or crashed.
func (s *Session) Start(force bool) error {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return &model.FilesystemError{Op: "create cache directory", Path: s.dir, Err: err}
	}
	if !force && s.exists(s.PIDPath()) {
		return fmt.Errorf("%w: other job is running or previous job has crashed, use --forcestart if you are sure no other job is running",
			model.ErrLocked)
	}
	pid := []byte(strconv.Itoa(os.Getpid()))
	if err := afero.WriteFile(s.fs, s.PIDPath(), pid, 0o600); err != nil {
		return &model.FilesystemError{Op: "create pid file", Path: s.PIDPath(), Err: err}
	}
	if s.exists(s.LockPath()) {
		s.logger.Warn("found an inconsistent cache state, previous job has possibly crashed; forcing a remote walk")
		s.inconsistent = true
	}
	return nil
}

// Inconsistent reports whether a lock file from an earlier run was found at start.
func (s *Session) Inconsistent() bool {
	return s.inconsistent
}

// Lock marks the cache as out of date. It is idempotent.
func (s *Session) Lock() error {
	if s.locked {
		return nil
	}
	pid := []byte(strconv.Itoa(os.Getpid()))
	if err := afero.WriteFile(s.fs, s.LockPath(), pid, 0o600); err != nil {
		return &model.FilesystemError{Op: "create lock file", Path: s.LockPath(), Err: err}
	}
	s.locked = true
	return nil
}

// Locked reports whether this session holds the lock.
func (s *Session) Locked() bool {
	return s.locked
}

// Release writes root to the cache and drops the lock. Without a held lock it does nothing.
func (s *Session) Release(root *model.Item) error {
	if !s.locked {
		return nil
	}
	if err := SaveSnapshot(s.fs, s.CachePath(), root); err != nil {
		return err
	}
	if err := s.fs.Remove(s.LockPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.FilesystemError{Op: "remove lock file", Path: s.LockPath(), Err: err}
	}
	s.locked = false
	s.inconsistent = false
	return nil
}

// Discard removes the cache and the lock. A tree with duplicates is never
// cached, so later runs walk the remote store until clean resolves them.
func (s *Session) Discard() error {
	for _, path := range []string{s.CachePath(), s.LockPath()} {
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &model.FilesystemError{Op: "remove", Path: path, Err: err}
		}
	}
	s.locked = false
	s.inconsistent = false
	return nil
}

// Settle persists tree when it is free of duplicates and discards the cache otherwise.
func (s *Session) Settle(tree *Tree) error {
	if len(tree.Duplicates) > 0 {
		s.logger.Warn("remote tree has duplicates, not caching it", zap.Int("duplicates", len(tree.Duplicates)))
		return s.Discard()
	}
	return s.Release(tree.Root)
}

// Finish removes the pid file.
func (s *Session) Finish() error {
	if err := s.fs.Remove(s.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.FilesystemError{Op: "remove pid file", Path: s.PIDPath(), Err: err}
	}
	return nil
}

// LoadOptions selects where LoadTree takes the remote tree from.
type LoadOptions struct {
	// Live forces a remote walk.
	Live bool
	// MaxAge expires the cache; zero never expires it.
	MaxAge time.Duration
}

// LoadTree returns the remote tree from the cache when it is usable, otherwise
// walks the remote store and persists the result.
func (s *Session) LoadTree(ctx context.Context, walker *RemoteWalker, opts LoadOptions) (*Tree, error) {
	if !opts.Live && !s.inconsistent {
		tree, ok, err := s.loadCache(opts.MaxAge)
		if err != nil {
			return nil, err
		}
		if ok {
			return tree, nil
		}
	}

	s.logger.Info("load structure from remote store")
	if err := s.Lock(); err != nil {
		return nil, err
	}
	tree, err := walker.Walk(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Settle(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s *Session) loadCache(maxAge time.Duration) (*Tree, bool, error) {
	stale, err := SnapshotStale(s.fs, s.CachePath(), maxAge, s.now())
	if err != nil {
		return nil, false, err
	}
	if stale {
		return nil, false, nil
	}
	root, err := LoadSnapshot(s.fs, s.CachePath())
	if err != nil {
		var fe *model.FormatError
		if errors.As(err, &fe) {
			s.logger.Warn("discarding unreadable cache file", zap.String("path", s.CachePath()), zap.Error(err))
			return nil, false, nil
		}
		return nil, false, err
	}
	s.logger.Info("load structure from cache file", zap.String("path", s.CachePath()))
	return TreeFromSnapshot(root), true, nil
}
