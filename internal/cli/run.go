package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lsst-dm/cm-tools-sub000/internal/butler"
	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
	"github.com/lsst-dm/cm-tools-sub000/internal/handler"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
	"github.com/lsst-dm/cm-tools-sub000/internal/store"
)

// WireFunc builds the runner set and checker registry the handlers use.
type WireFunc func(ctx context.Context, logger *slog.Logger) (*runner.Set, *checker.Registry, error)

// DefaultWire registers the local bash, Slurm and fake runners, plus the
// remote workflow service when CM_REMOTE_URL is set. Object-store rollback
// is registered lazily and connects on first use from CM_S3_* settings.
func DefaultWire(ctx context.Context, logger *slog.Logger) (*runner.Set, *checker.Registry, error) {
	runners := runner.NewSet()
	runners.Register(core.MethodBash, runner.NewLocal(logger))
	runners.Register(core.MethodSlurm, runner.NewSlurm())
	runners.Register(core.MethodFake, runner.NewFake())

	if config.EnvString("CM_REMOTE_URL", "") != "" {
		cfg, err := runner.RemoteConfigFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("remote runner: %w", err)
		}
		remote, err := runner.NewRemote(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("remote runner: %w", err)
		}
		runners.Register(core.MethodRemote, remote)
	}

	checkers := checker.NewDefaultRegistry(runners)
	checkers.RegisterRollback(checker.NameObjectStore, func() (checker.Rollback, error) {
		cfg, err := butler.S3ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := butler.NewMinIOClient(cfg)
		if err != nil {
			return nil, err
		}
		return checker.ObjectStoreRollback{Store: butler.NewObjectStoreRemover(client, cfg.Bucket)}, nil
	})
	return runners, checkers, nil
}

// session is one opened database with the engine that drives it.
type session struct {
	store  *store.Store
	engine *engine.Engine
	out    *OutputFormatter
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// openSession opens the database and wires the engine.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command, engineOpts ...engine.Option) (*session, error) {
	logger := slog.Default()
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	out.VerboseLog("opening database %s", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	wire := opts.Wire
	if wire == nil {
		wire = DefaultWire
	}
	runners, checkers, err := wire(ctx, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to set up runners", err)
	}
	handlers := handler.NewRegistry(runners, checkers, handler.WithLogger(logger))
	engineOpts = append([]engine.Option{engine.WithLogger(logger)}, engineOpts...)

	return &session{
		store:  st,
		engine: engine.New(st, handlers, engineOpts...),
		out:    out,
	}, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
