// Package cli provides the engine integration for the cloudsync CLI.
// This file wires configuration, cipher, remote store, journal and metrics
// and implements the command bodies.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cloudsync/cloudsync/internal/config"
	"github.com/cloudsync/cloudsync/internal/core"
	"github.com/cloudsync/cloudsync/internal/crypt"
	"github.com/cloudsync/cloudsync/internal/local"
	"github.com/cloudsync/cloudsync/internal/logging"
	"github.com/cloudsync/cloudsync/internal/model"
	"github.com/cloudsync/cloudsync/internal/remote"
	"github.com/cloudsync/cloudsync/internal/remote/dirstore"
	"github.com/cloudsync/cloudsync/internal/remote/s3store"
)

// Engine holds the components shared by every command of one invocation.
type Engine struct {
	Config    *config.Config
	Logger    *zap.Logger
	Gateway   *crypt.Gateway
	Connector *remote.Connector
	Journal   *core.Journal
	Metrics   *core.Metrics
}

// RunOptions carries the per-command flags.
type RunOptions struct {
	Path          string
	Name          string
	NoCache       bool
	Symlinks      string
	Duplicate     string
	NoPermissions bool
	Limit         string

	// RemoveRemote overrides clean.remove_remote when set.
	RemoveRemote *bool
}

// NewRegistry returns a registry with every built-in store type.
func NewRegistry() *remote.Registry {
	r := remote.NewRegistry()
	_ = r.Register("s3", s3store.Factory)
	_ = r.Register("dir", dirstore.Factory)
	return r
}

// loadConfig loads the config file and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cacheMaxAge >= 0 {
		cfg.Cache.MaxAgeDays = cacheMaxAge
	}
	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

// InitEngine loads configuration and opens the remote store and journal.
func InitEngine(ctx context.Context) (*Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		return nil, &model.ConfigError{Msg: "invalid logging settings", Err: err}
	}
	if err := cfg.RequirePassphrase(); err != nil {
		return nil, err
	}

	cipher, err := crypt.NewCipher(cfg.Cipher.Backend, cfg.Cipher.Binary, cfg.Passphrase, cfg.Cipher.HomeDir)
	if err != nil {
		return nil, err
	}
	gw := crypt.NewGateway(cipher)

	store, err := NewRegistry().Open(ctx, cfg.Remote.Type, cfg.Remote.Settings())
	if err != nil {
		return nil, err
	}
	store = remote.NewRetryStore(store, remote.RetryConfig{
		Attempts: cfg.Remote.Retries + 1,
		Delay:    cfg.Remote.RetryDelay,
	}, logging.Named("retry"))

	e := &Engine{
		Config:    cfg,
		Logger:    logging.L(),
		Gateway:   gw,
		Connector: remote.NewConnector(store, gw, cfg.Remote.BasePath, logging.Named("remote")),
		Metrics:   core.NewMetrics(),
	}

	if cfg.Journal.Enabled {
		j, err := core.OpenJournal(ctx, cfg.Journal.Path, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		e.Journal = j
	}
	return e, nil
}

// Close releases the journal and flushes the logger.
func (e *Engine) Close() {
	if e.Journal != nil {
		if err := e.Journal.Close(); err != nil {
			e.Logger.Warn("failed to close journal", zap.Error(err))
		}
	}
	_ = logging.Sync()
}

func validateName(name string) error {
	if name == "" {
		return &model.ConfigError{Msg: "--name is required"}
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &model.ConfigError{Msg: fmt.Sprintf("invalid backup name %q", name)}
	}
	return nil
}

func resolveRoot(path string, mustExist bool) (string, error) {
	abs, err := filepath.Abs(config.ExpandPath(path))
	if err != nil {
		return "", &model.FilesystemError{Op: "resolve", Path: path, Err: err}
	}
	if !mustExist {
		return abs, nil
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", &model.FilesystemError{Op: "stat", Path: abs, Err: err}
	}
	if !fi.IsDir() {
		return "", &model.FilesystemError{Op: "stat", Path: abs, Err: errors.New("not a directory")}
	}
	return abs, nil
}

// job is one prepared run: the runner plus the local adapter it drives.
type job struct {
	runner *core.Runner
	local  *local.Adapter
}

func (e *Engine) newJob(op model.Operation, opts RunOptions, root string) (*job, error) {
	symlinks, err := model.ParseSymlinkPolicy(opts.Symlinks)
	if err != nil {
		return nil, err
	}
	duplicates, err := model.ParseDuplicatePolicy(opts.Duplicate)
	if err != nil {
		return nil, err
	}
	limit, err := core.CompileLimit(opts.Limit)
	if err != nil {
		return nil, err
	}
	removeRemote := e.Config.Clean.RemoveRemote
	if opts.RemoveRemote != nil {
		removeRemote = *opts.RemoveRemote
	}

	logger := e.Logger.With(zap.String("name", opts.Name), zap.String("operation", string(op)))

	var adapter *local.Adapter
	var localSide core.LocalAdapter
	if root != "" {
		adapter = local.New(afero.NewOsFs(), root, local.Options{
			Symlinks:      symlinks,
			Duplicates:    duplicates,
			NoPermissions: opts.NoPermissions,
		}, logger.Named("local"))
		localSide = adapter
	}

	reconciler := core.NewReconciler(localSide, e.Connector, core.Options{
		DryRun:       dryRun,
		Limit:        limit,
		RemoveRemote: removeRemote,
	}, logger)
	session := core.NewSession(afero.NewOsFs(), e.Config.Cache.Dir, opts.Name, logger.Named("session"))
	runner := core.NewRunner(session, core.NewRemoteWalker(e.Connector, logger.Named("walk")), reconciler, logger)
	runner.SetMetrics(e.Metrics)
	if e.Journal != nil {
		runner.SetJournal(e.Journal)
	}
	return &job{runner: runner, local: adapter}, nil
}

// run executes one operation with an interrupt-aware context.
func run(ctx context.Context, w io.Writer, op model.Operation, opts RunOptions, visit func(*model.Item) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := validateName(opts.Name); err != nil {
		return err
	}
	root := ""
	if op != model.OperationList {
		var err error
		if root, err = resolveRoot(opts.Path, op == model.OperationBackup); err != nil {
			return err
		}
	}

	e, err := InitEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	j, err := e.newJob(op, opts, root)
	if err != nil {
		return err
	}

	start := time.Now()
	counts, runErr := j.runner.Execute(ctx, core.Request{
		Operation:  op,
		Name:       opts.Name,
		DryRun:     dryRun,
		ForceStart: forceStart,
		NoCache:    opts.NoCache,
		MaxAge:     e.Config.Cache.MaxAge(),
		Visit:      visit,
	})

	if err := e.Metrics.WriteTextfile(e.Config.Metrics.Textfile); err != nil {
		e.Logger.Warn("failed to write metrics textfile", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}
	if op != model.OperationList {
		printSummary(w, op, counts, j.local, time.Since(start))
	}
	return nil
}

func printSummary(w io.Writer, op model.Operation, c core.Counts, adapter *local.Adapter, elapsed time.Duration) {
	prefix := ""
	if dryRun {
		prefix = "[DRY-RUN] "
	}
	fmt.Fprintf(w, "%s%s finished in %s\n", prefix, op, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Total:   %d\n", c.Total())
	fmt.Fprintf(w, "  Created: %d\n", c.Created)
	fmt.Fprintf(w, "  Updated: %d\n", c.Updated)
	fmt.Fprintf(w, "  Removed: %d\n", c.Removed)
	fmt.Fprintf(w, "  Skipped: %d\n", c.Skipped)
	if adapter == nil {
		return
	}
	if warnings := adapter.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(w, "  Ownership warnings: %d\n", len(warnings))
		for _, warn := range warnings {
			fmt.Fprintf(w, "    %s\n", warn.Error())
		}
	}
}

// RunBackup mirrors opts.Path onto the remote store.
func RunBackup(ctx context.Context, w io.Writer, opts RunOptions) error {
	return run(ctx, w, model.OperationBackup, opts, nil)
}

// RunRestore materializes the remote tree under opts.Path.
func RunRestore(ctx context.Context, w io.Writer, opts RunOptions) error {
	return run(ctx, w, model.OperationRestore, opts, nil)
}

// RunClean restores remote duplicates under opts.Path.
func RunClean(ctx context.Context, w io.Writer, opts RunOptions) error {
	return run(ctx, w, model.OperationClean, opts, nil)
}

// RunList prints one line per remote item: type, size, modify time and path.
func RunList(ctx context.Context, w io.Writer, opts RunOptions) error {
	return run(ctx, w, model.OperationList, opts, func(item *model.Item) error {
		mtime := "-"
		if item.ModifyTime >= 0 {
			mtime = time.Unix(item.ModifyTime, 0).Format("2006-01-02 15:04")
		}
		_, err := fmt.Fprintf(w, "%-6s %12d  %s  %s\n", item.Type, item.Size, mtime, item.Path())
		return err
	})
}

func openJournal(ctx context.Context) (*Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, &model.ConfigError{Msg: "journal is disabled (journal.enabled)"}
	}
	if err := cfg.RequirePassphrase(); err != nil {
		return nil, err
	}
	j, err := core.OpenJournal(ctx, cfg.Journal.Path, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	return &Engine{Config: cfg, Logger: logging.L(), Journal: j}, nil
}

func printRuns(w io.Writer, runs []*model.RunRecord) {
	fmt.Fprintln(w, "Run                                  Operation Name             State      Total Created Updated Removed Skipped Started")
	fmt.Fprintln(w, "──────────────────────────────────────────────────────────────────────────────────────────────────────────────────────────")
	for _, r := range runs {
		state := string(r.State)
		if r.DryRun {
			state += "*"
		}
		fmt.Fprintf(w, "%-36s %-9s %-16s %-10s %5d %7d %7d %7d %7d %s\n",
			r.RunID, r.Operation, r.Name, state,
			r.Total, r.Created, r.Updated, r.Removed, r.Skipped,
			r.StartedAt.Local().Format("2006-01-02 15:04"))
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
	}
}

// RunJournalList prints the most recent runs.
func RunJournalList(ctx context.Context, w io.Writer, limit int) error {
	e, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.Journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	printRuns(w, runs)
	return nil
}

// RunJournalPending prints runs that started but never finished.
func RunJournalPending(ctx context.Context, w io.Writer) error {
	e, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.Journal.Pending(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No pending runs.")
		return nil
	}
	fmt.Fprintf(w, "Pending runs (%d):\n", len(runs))
	printRuns(w, runs)
	return nil
}

// RunInit writes the default configuration to --config or the default path.
func RunInit(w io.Writer, force bool) error {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	path = config.ExpandPath(path)

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}
	if dryRun {
		fmt.Fprintf(w, "[DRY-RUN] Would write default config to %s\n", path)
		return nil
	}
	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote default config to %s\n", path)
	fmt.Fprintln(w, "Set passphrase (or CLOUDSYNC_PASSPHRASE) before the first backup.")
	return nil
}
