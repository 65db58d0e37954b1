package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Request describes one run of a named backup.
type Request struct {
	Operation  model.Operation
	Name       string
	DryRun     bool
	ForceStart bool
	NoCache    bool
	MaxAge     time.Duration

	// Visit receives every listed item of a list run.
	Visit func(*model.Item) error
}

// Runner ties a session, a remote walker and a reconciler together for one run.
type Runner struct {
	session    *Session
	walker     *RemoteWalker
	reconciler *Reconciler
	journal    *Journal
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner creates a runner.
func NewRunner(session *Session, walker *RemoteWalker, reconciler *Reconciler, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		session:    session,
		walker:     walker,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// SetJournal records runs in j.
func (r *Runner) SetJournal(j *Journal) {
	r.journal = j
}

// SetMetrics counts items and run times on m.
func (r *Runner) SetMetrics(m *Metrics) {
	r.metrics = m
	r.reconciler.SetMetrics(m)
}

// Execute runs req. The cache is rewritten only when the run succeeded and the
// tree has no duplicates; after a failed mutating run the lock file stays and
// the next run walks the remote store.
func (r *Runner) Execute(ctx context.Context, req Request) (c Counts, err error) {
	if err := r.session.Start(req.ForceStart); err != nil {
		return c, err
	}
	defer func() {
		if ferr := r.session.Finish(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	runID, err := r.begin(ctx, req)
	if err != nil {
		return c, err
	}
	defer func() { r.end(ctx, runID, c, err) }()

	live := req.NoCache || req.Operation == model.OperationRestore || req.Operation == model.OperationClean
	tree, err := r.session.LoadTree(ctx, r.walker, LoadOptions{Live: live, MaxAge: req.MaxAge})
	if err != nil {
		return c, err
	}

	r.reconciler.OnMutation(r.session.Lock)

	switch req.Operation {
	case model.OperationBackup:
		c, err = r.reconciler.Backup(ctx, tree)
	case model.OperationRestore:
		c, err = r.reconciler.Restore(ctx, tree)
	case model.OperationClean:
		c, err = r.reconciler.Clean(ctx, tree)
	case model.OperationList:
		visit := req.Visit
		if visit == nil {
			visit = func(*model.Item) error { return nil }
		}
		err = r.reconciler.List(ctx, tree, visit)
	default:
		err = &model.ConfigError{Msg: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
	if err != nil {
		return c, err
	}

	if err := r.session.Settle(tree); err != nil {
		return c, err
	}
	r.metrics.Finished(req.Operation, r.now())
	return c, nil
}

func (r *Runner) begin(ctx context.Context, req Request) (string, error) {
	if r.journal == nil || req.Operation == model.OperationList {
		return "", nil
	}
	return r.journal.Begin(ctx, req.Operation, req.Name, req.DryRun)
}

func (r *Runner) end(ctx context.Context, runID string, c Counts, runErr error) {
	if runID == "" {
		return
	}
	// the run context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	var err error
	if runErr != nil {
		err = r.journal.Fail(ctx, runID, c, runErr)
	} else {
		err = r.journal.Commit(ctx, runID, c)
	}
	if err != nil {
		r.logger.Error("failed to record run", zap.String("run_id", runID), zap.Error(err))
	}
}
