package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
)

// withSession runs fn with an open session and a signal-aware context.
func withSession(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func writeChanges(w io.Writer, changes []engine.Change) error {
	if len(changes) == 0 {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	for _, c := range changes {
		if _, err := fmt.Fprintf(w, "%s: %s -> %s\n", c.Fullname, c.From, c.To); err != nil {
			return err
		}
	}
	return nil
}

func writeJobs(w io.Writer, verb string, jobs []core.Job) error {
	if _, err := fmt.Fprintf(w, "%s %d job(s)\n", verb, len(jobs)); err != nil {
		return err
	}
	for _, j := range jobs {
		if _, err := fmt.Fprintf(w, "  %s[%d] %s %s\n", j.Name, j.Idx, j.Status, j.ExternalID); err != nil {
			return err
		}
	}
	return nil
}

// changesCommand builds a command that resolves one entry, applies op to it
// and reports the resulting status changes.
func changesCommand(opts *RootOptions, use, short string, op func(ctx context.Context, eng *engine.Engine, ent core.Entry) ([]engine.Change, error)) *cobra.Command {
	var sel selectorFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				changes, err := op(ctx, s.engine, ent)
				if err != nil {
					return commandError(use+" "+ent.Fullname+" failed", err)
				}
				if changes == nil {
					changes = []engine.Change{}
				}
				return s.out.Emit(changes, func(w io.Writer) error { return writeChanges(w, changes) })
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	return cmd
}

// NewLoadConfigCommand stores a configuration document under a name.
func NewLoadConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-config NAME FILE",
		Short: "Validate and store a configuration document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read config", err)
			}
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				id, err := s.engine.LoadConfig(ctx, args[0], data)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load config", err)
				}
				out := map[string]any{"name": args[0], "id": id}
				return s.out.Emit(out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "loaded config %s (id %d)\n", args[0], id)
					return err
				})
			})
		},
	}
}

// NewLoadErrorTypesCommand replaces the error-type table.
func NewLoadErrorTypesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-error-types FILE",
		Short: "Replace the table used to classify job failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read error types", err)
			}
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				n, err := s.engine.LoadErrorTypes(ctx, data)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load error types", err)
				}
				return s.out.Emit(map[string]int{"count": n}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "loaded %d error type(s)\n", n)
					return err
				})
			})
		},
	}
}

// NewInsertCommand inserts an entry below the selected parent, or a
// production when no parent is selected.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	var (
		sel selectorFlags
		req engine.InsertRequest
	)
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert an entry from a configuration block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				if !sel.selector().IsZero() {
					parent, err := sel.resolve(ctx, s.engine)
					if err != nil {
						return err
					}
					req.Parent = parent.EntryID
				}
				ent, err := s.engine.Insert(ctx, req)
				if err != nil {
					return commandError("insert failed", err)
				}
				return s.out.Emit(ent, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "inserted %s %s (%s)\n", ent.Level, ent.Fullname, ent.Status)
					return err
				})
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().StringVar(&req.Name, "name", "", "name of the new entry")
	cmd.Flags().StringVar(&req.ConfigName, "config", "", "name the configuration was loaded under")
	cmd.Flags().StringVar(&req.Block, "block", "", "configuration block to run")
	cmd.Flags().StringVar(&req.DataQuery, "data-query", "", "data query for the new entry")
	for _, name := range []string{"name", "config", "block"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// NewPrepareCommand advances the selected entry up to prepared.
func NewPrepareCommand(opts *RootOptions) *cobra.Command {
	return changesCommand(opts, "prepare", "Advance one entry to prepared without touching its children",
		func(ctx context.Context, eng *engine.Engine, ent core.Entry) ([]engine.Change, error) {
			return eng.Prepare(ctx, ent.EntryID)
		})
}

// NewCheckCommand runs the check loop on the selected subtree.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	var (
		sel           selectorFlags
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Advance every entry of a subtree until nothing changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			s, err := openSession(ctx, opts, cmd, engine.WithMaxIterations(maxIterations))
			if err != nil {
				return err
			}
			defer s.Close()

			ent, err := sel.resolve(ctx, s.engine)
			if err != nil {
				return err
			}
			res, err := s.engine.Check(ctx, ent.EntryID)
			if err != nil {
				return commandError("check "+ent.Fullname+" failed", err)
			}
			if res.Changes == nil {
				res.Changes = []engine.Change{}
			}
			return s.out.Emit(res, func(w io.Writer) error {
				if err := writeChanges(w, res.Changes); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "%d iteration(s)\n", res.Iterations)
				return err
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().IntVar(&maxIterations, "max-iterations", engine.DefaultMaxIterations, "sweep budget before giving up")
	return cmd
}

// NewQueueCommand writes artifacts for ready jobs.
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	var sel selectorFlags
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Write submission artifacts for ready jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				jobs, err := s.engine.Queue(ctx, ent.EntryID)
				if err != nil {
					return commandError("queue "+ent.Fullname+" failed", err)
				}
				return emitJobs(s.out, "queued", jobs)
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	return cmd
}

// NewLaunchCommand submits prepared jobs.
func NewLaunchCommand(opts *RootOptions) *cobra.Command {
	var (
		sel        selectorFlags
		maxRunning int
	)
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Submit queued jobs to their runners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				jobs, err := s.engine.Launch(ctx, ent.EntryID, maxRunning)
				if err != nil {
					return commandError("launch "+ent.Fullname+" failed", err)
				}
				return emitJobs(s.out, "launched", jobs)
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().IntVar(&maxRunning, "max-running", 0, "cap on running jobs (0 uses each job block's max_running)")
	return cmd
}

func emitJobs(out *OutputFormatter, verb string, jobs []core.Job) error {
	if jobs == nil {
		jobs = []core.Job{}
	}
	return out.Emit(jobs, func(w io.Writer) error { return writeJobs(w, verb, jobs) })
}

// NewAcceptCommand accepts a reviewable entry.
func NewAcceptCommand(opts *RootOptions) *cobra.Command {
	return changesCommand(opts, "accept", "Accept a reviewable entry",
		func(ctx context.Context, eng *engine.Engine, ent core.Entry) ([]engine.Change, error) {
			return eng.Accept(ctx, ent.EntryID)
		})
}

// NewRejectCommand rejects an entry.
func NewRejectCommand(opts *RootOptions) *cobra.Command {
	return changesCommand(opts, "reject", "Reject an entry that is not accepted",
		func(ctx context.Context, eng *engine.Engine, ent core.Entry) ([]engine.Change, error) {
			return eng.Reject(ctx, ent.EntryID)
		})
}

// NewRollbackCommand moves an entry back to an earlier status.
func NewRollbackCommand(opts *RootOptions) *cobra.Command {
	var status string
	cmd := changesCommand(opts, "rollback", "Undo an entry's work down to an earlier status",
		func(ctx context.Context, eng *engine.Engine, ent core.Entry) ([]engine.Change, error) {
			to, err := core.ParseStatus(status)
			if err != nil {
				return nil, err
			}
			return eng.Rollback(ctx, ent.EntryID, to)
		})
	cmd.Flags().StringVar(&status, "status", "", "status to roll back to")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// NewSupersedeCommand marks an entry and its subtree superseded.
func NewSupersedeCommand(opts *RootOptions) *cobra.Command {
	var sel selectorFlags
	cmd := &cobra.Command{
		Use:   "supersede",
		Short: "Mark an entry and everything below it superseded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				n, err := s.engine.Supersede(ctx, ent.EntryID)
				if err != nil {
					return commandError("supersede "+ent.Fullname+" failed", err)
				}
				return s.out.Emit(map[string]any{"fullname": ent.Fullname, "superseded": n}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "superseded %d row(s) under %s\n", n, ent.Fullname)
					return err
				})
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	return cmd
}

// NewRequeueCommand retries failed jobs according to the error-type table.
func NewRequeueCommand(opts *RootOptions) *cobra.Command {
	var (
		sel   selectorFlags
		force bool
	)
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Retry failed jobs whose errors are rescuable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				res, err := s.engine.Requeue(ctx, ent.EntryID, force)
				if err != nil {
					return commandError("requeue "+ent.Fullname+" failed", err)
				}
				return s.out.Emit(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "requeued %d, ignored %d, held %d\n",
						len(res.Requeued), len(res.Ignored), len(res.Held))
					return err
				})
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().BoolVar(&force, "force", false, "also requeue failures with no known error type")
	return cmd
}

// NewFakeRunCommand reports a status for running scripts and jobs without
// running anything.
func NewFakeRunCommand(opts *RootOptions) *cobra.Command {
	var (
		sel    selectorFlags
		status string
	)
	cmd := &cobra.Command{
		Use:   "fake-run",
		Short: "Mark running scripts and jobs as finished (testing aid)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := core.ParseStatus(status)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --status", err)
			}
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				n, err := s.engine.FakeRun(ctx, ent.EntryID, to)
				if err != nil {
					return commandError("fake-run "+ent.Fullname+" failed", err)
				}
				return s.out.Emit(map[string]any{"updated": n, "status": to}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "marked %d row(s) %s\n", n, to)
					return err
				})
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().StringVar(&status, "status", core.StatusCompleted.String(), "status to report")
	return cmd
}
