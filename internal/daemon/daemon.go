// Package daemon runs the lifecycle engine unattended: on a fixed interval
// it queues and launches jobs, checks the tree and reports, until its
// iteration budget runs out or a stop file appears.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
)

// DefaultStopFile is the sentinel that stops a daemon between passes.
const DefaultStopFile = "daemon.stop"

// DefaultInterval is the sleep between passes.
const DefaultInterval = 60 * time.Second

// Engine is the part of the lifecycle engine a daemon pass drives.
type Engine interface {
	Queue(ctx context.Context, root core.EntryID) ([]core.Job, error)
	Launch(ctx context.Context, root core.EntryID, maxRunning int) ([]core.Job, error)
	Check(ctx context.Context, root core.EntryID) (engine.Result, error)
	Tree(ctx context.Context, root core.EntryID, withSuperseded bool) (*engine.Node, error)
}

// Config controls the loop.
type Config struct {
	Root core.EntryID
	// MaxRunning overrides the per-job running cap when > 0.
	MaxRunning int
	Interval   time.Duration
	// Iterations bounds the number of passes; 0 runs until stopped.
	Iterations int
	StopFile   string
}

// PassReport summarizes one pass.
type PassReport struct {
	Token      string        `json:"token"`
	Pass       int           `json:"pass"`
	Queued     int           `json:"queued"`
	Launched   int           `json:"launched"`
	Changes    int           `json:"changes"`
	RootStatus core.Status   `json:"root_status"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Daemon is the unattended queue/launch/check loop.
type Daemon struct {
	eng    Engine
	cfg    Config
	logger *slog.Logger
	tokens TokenGenerator
	report func(PassReport)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// WithTokenGenerator sets the pass token generator. Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(d *Daemon) {
		d.tokens = g
	}
}

// WithReporter registers fn to receive every pass report.
func WithReporter(fn func(PassReport)) Option {
	return func(d *Daemon) {
		d.report = fn
	}
}

// New returns a daemon driving eng with cfg.
func New(eng Engine, cfg Config, opts ...Option) *Daemon {
	if cfg.StopFile == "" {
		cfg.StopFile = DefaultStopFile
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	d := &Daemon{
		eng:    eng,
		cfg:    cfg,
		logger: slog.Default(),
		tokens: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run loops until the iteration budget is spent, the stop file appears or
// ctx is canceled. A stop file found between passes is removed so the next
// daemon starts clean.
func (d *Daemon) Run(ctx context.Context) error {
	stopFile, err := filepath.Abs(d.cfg.StopFile)
	if err != nil {
		return fmt.Errorf("daemon stop file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(stopFile)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(stopFile), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wake := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.watch(gctx, watcher, stopFile, wake)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return d.loop(gctx, stopFile, wake)
	})
	return g.Wait()
}

func (d *Daemon) loop(ctx context.Context, stopFile string, wake <-chan struct{}) error {
	d.logger.Info("daemon starting", "root", d.cfg.Root, "interval", d.cfg.Interval,
		"iterations", d.cfg.Iterations, "stop_file", stopFile)
	for pass := 1; d.cfg.Iterations == 0 || pass <= d.cfg.Iterations; pass++ {
		if stopRequested(stopFile) {
			d.logger.Info("stop file found", "stop_file", stopFile)
			if err := os.Remove(stopFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				d.logger.Warn("remove stop file", "error", err)
			}
			return nil
		}
		if err := d.pass(ctx, pass); err != nil {
			return err
		}
		if pass == d.cfg.Iterations {
			break
		}

		timer := time.NewTimer(d.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
	d.logger.Info("daemon finished", "iterations", d.cfg.Iterations)
	return nil
}

// pass runs queue, launch, check and report once.
func (d *Daemon) pass(ctx context.Context, n int) error {
	start := time.Now()
	rep := PassReport{Token: d.tokens.Generate(), Pass: n}
	logger := d.logger.With("pass", rep.Token)

	queued, err := d.eng.Queue(ctx, d.cfg.Root)
	if err != nil {
		return err
	}
	rep.Queued = len(queued)

	launched, err := d.eng.Launch(ctx, d.cfg.Root, d.cfg.MaxRunning)
	if err != nil {
		return err
	}
	rep.Launched = len(launched)

	res, err := d.eng.Check(ctx, d.cfg.Root)
	rep.Changes = len(res.Changes)
	switch {
	case engine.IsIterationsExceeded(err):
		logger.Error("check did not settle; continuing next pass", "error", err)
	case err != nil:
		return err
	}

	tree, err := d.eng.Tree(ctx, d.cfg.Root, false)
	if err != nil {
		return err
	}
	rep.RootStatus = tree.Entry.Status
	rep.Elapsed = time.Since(start)

	logger.Info("daemon pass",
		"n", rep.Pass,
		"queued", rep.Queued,
		"launched", rep.Launched,
		"changes", rep.Changes,
		"root_status", rep.RootStatus,
		"elapsed", rep.Elapsed)
	if d.report != nil {
		d.report(rep)
	}
	return nil
}

// watch forwards stop-file events to wake so a sleeping loop notices the
// stop file without waiting out its interval.
func (d *Daemon) watch(ctx context.Context, w *fsnotify.Watcher, stopFile string, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Name != stopFile || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			d.logger.Debug("fsnotify event", "op", event.Op, "file", event.Name)
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", "error", err)
		}
	}
}

func stopRequested(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
