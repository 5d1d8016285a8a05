package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lsst-dm/cm-tools-sub000/internal/config"
)

// DefaultDatabase is used when neither --db nor CM_DB is set.
const DefaultDatabase = "cm.db"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string

	// Wire, when set, replaces the default runner and checker wiring (for
	// testing).
	Wire WireFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cm CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cm",
		Short: "cm - campaign lifecycle manager",
		Long: `Drive processing campaigns through their lifecycle.

A production holds campaigns, which split into steps, groups and workflows.
Every entry moves from waiting to accepted as its scripts, jobs and children
finish; check advances the tree, accept and reject record reviews, and
rollback or supersede undo work so it can run again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Database == "" {
				opts.Database = config.EnvString("CM_DB", DefaultDatabase)
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN: SQLite path or postgres:// URL (default $CM_DB or cm.db)")

	cmd.AddCommand(
		NewLoadConfigCommand(opts),
		NewLoadErrorTypesCommand(opts),
		NewInsertCommand(opts),
		NewPrepareCommand(opts),
		NewCheckCommand(opts),
		NewQueueCommand(opts),
		NewLaunchCommand(opts),
		NewAcceptCommand(opts),
		NewRejectCommand(opts),
		NewRollbackCommand(opts),
		NewSupersedeCommand(opts),
		NewRequeueCommand(opts),
		NewFakeRunCommand(opts),
		NewPrintCommand(opts),
		NewDaemonCommand(opts),
	)
	return cmd
}

// configureLogging installs a text slog handler on w; verbose lowers the
// level to debug.
func configureLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported in the selected output format.
func Execute(args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		// cobra flag and argument errors
		err = WrapExitError(ExitCommandError, "invalid command", err)
	}
	f := &OutputFormatter{Format: opts.Format, Writer: stderr, Verbose: opts.Verbose}
	if opts.Format == "json" {
		f.Writer = stdout
	}
	_ = f.Error(errorCode(err), err.Error(), nil)
	return GetExitCode(err)
}

// Main is the entry point of the cm binary.
func Main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}
