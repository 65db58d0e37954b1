package core

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Counts summarizes the decisions of one operation.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Total is created + updated + skipped; removals are reported on their own.
func (c Counts) Total() int {
	return c.Created + c.Updated + c.Skipped
}

// Options configures a Reconciler.
type Options struct {
	DryRun bool

	// Limit restricts restore and list to paths matching it (anchored).
	// A non-matching item is skipped together with its subtree.
	Limit *regexp.Regexp

	// RemoveRemote lets clean delete resolved duplicates remotely.
	RemoveRemote bool
}

// CompileLimit anchors pattern as ^pattern$. An empty pattern means no limit.
func CompileLimit(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, &model.ConfigError{Msg: "invalid limit pattern", Err: err}
	}
	return re, nil
}

// Reconciler drives backup, restore, clean and list between a local adapter
// and a remote adapter. It is single-threaded; one Reconciler serves one run.
type Reconciler struct {
	local   LocalAdapter
	remote  RemoteAdapter
	opts    Options
	logger  *zap.Logger
	metrics *Metrics

	beforeMutation func() error
}

// NewReconciler creates a reconciler.
func NewReconciler(local LocalAdapter, remote RemoteAdapter, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		local:  local,
		remote: remote,
		opts:   opts,
		logger: logger,
	}
}

// SetMetrics records per-action counters on m.
func (r *Reconciler) SetMetrics(m *Metrics) {
	r.metrics = m
}

// OnMutation registers fn to run before each remote mutation.
// Sessions use it to mark the snapshot inconsistent while a run is changing the store.
func (r *Reconciler) OnMutation(fn func() error) {
	r.beforeMutation = fn
}

func (r *Reconciler) mutating() error {
	if r.beforeMutation == nil {
		return nil
	}
	return r.beforeMutation()
}

func (r *Reconciler) allowed(item *model.Item) bool {
	return r.opts.Limit == nil || r.opts.Limit.MatchString(item.Path())
}

func (r *Reconciler) decision(op model.Operation, action string, item *model.Item) {
	r.logger.Debug(action,
		zap.String("path", item.Path()),
		zap.String("type", item.Type.String()),
		zap.Bool("dry_run", r.opts.DryRun))
	r.metrics.Inc(op, action)
}

func (r *Reconciler) summary(op model.Operation, c Counts) {
	r.logger.Info(string(op)+" finished",
		zap.Int("total", c.Total()),
		zap.Int("created", c.Created),
		zap.Int("updated", c.Updated),
		zap.Int("removed", c.Removed),
		zap.Int("skipped", c.Skipped),
		zap.Bool("dry_run", r.opts.DryRun))
}
