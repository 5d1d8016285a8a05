package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lsst-dm/cm-tools-sub000/internal/daemon"
)

// NewDaemonCommand runs the queue, launch and check loop on a subtree until
// stopped.
func NewDaemonCommand(opts *RootOptions) *cobra.Command {
	var (
		sel selectorFlags
		cfg daemon.Config
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Queue, launch and check a subtree on an interval",
		Long: `Run passes of queue, launch and check on the selected entry.

The loop stops after --iterations passes (0 means no limit), when the stop
file appears, or on SIGINT/SIGTERM. The stop file is removed when seen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				cfg.Root = ent.EntryID

				var passes []daemon.PassReport
				d := daemon.New(s.engine, cfg, daemon.WithReporter(func(r daemon.PassReport) {
					passes = append(passes, r)
					if opts.Format != "json" {
						fmt.Fprintf(s.out.Writer, "pass %d: queued %d, launched %d, %d change(s), %s %s\n",
							r.Pass, r.Queued, r.Launched, r.Changes, ent.Fullname, r.RootStatus)
					}
				}))
				if err := d.Run(ctx); err != nil {
					return commandError("daemon "+ent.Fullname+" stopped", err)
				}
				if passes == nil {
					passes = []daemon.PassReport{}
				}
				return s.out.Emit(passes, func(w io.Writer) error { return nil })
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().IntVar(&cfg.MaxRunning, "max-running", 0, "cap on running jobs (0 uses each job block's max_running)")
	cmd.Flags().DurationVar(&cfg.Interval, "sleep", daemon.DefaultInterval, "pause between passes")
	cmd.Flags().IntVar(&cfg.Iterations, "iterations", 0, "number of passes (0 runs until stopped)")
	cmd.Flags().StringVar(&cfg.StopFile, "stop-file", daemon.DefaultStopFile, "file whose appearance stops the loop")
	return cmd
}
