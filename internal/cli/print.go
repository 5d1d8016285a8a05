package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

// NewPrintCommand prints the status tree of the selected entry.
func NewPrintCommand(opts *RootOptions) *cobra.Command {
	var (
		sel            selectorFlags
		withSuperseded bool
	)
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the status tree below an entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, cmd, func(ctx context.Context, s *session) error {
				ent, err := sel.resolve(ctx, s.engine)
				if err != nil {
					return err
				}
				tree, err := s.engine.Tree(ctx, ent.EntryID, withSuperseded)
				if err != nil {
					return commandError("print "+ent.Fullname+" failed", err)
				}
				return s.out.Emit(tree, func(w io.Writer) error {
					return renderTree(w, tree, useColor(w))
				})
			})
		},
	}
	addSelectorFlags(cmd, &sel)
	cmd.Flags().BoolVar(&withSuperseded, "superseded", false, "include superseded rows")
	return cmd
}

// useColor reports whether w is a terminal that should get ANSI colors.
func useColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTree writes one line per entry, script and job, indented by depth.
func renderTree(w io.Writer, root *engine.Node, color bool) error {
	var err error
	root.Walk(func(n *engine.Node, depth int) {
		if err != nil {
			return
		}
		indent := strings.Repeat("  ", depth)
		ent := n.Entry
		if _, err = fmt.Fprintf(w, "%s%s %s %s%s\n", indent, ent.Level, ent.Name,
			paint(ent.Status, color), supersededMark(ent.Superseded)); err != nil {
			return
		}
		for _, sc := range n.Scripts {
			if _, err = fmt.Fprintf(w, "%s  - %s script %s[%d] %s%s\n", indent, sc.Type, sc.Name, sc.Idx,
				paint(sc.Status, color), supersededMark(sc.Superseded)); err != nil {
				return
			}
		}
		for _, j := range n.Jobs {
			if _, err = fmt.Fprintf(w, "%s  - job %s[%d] %s%s%s\n", indent, j.Name, j.Idx,
				paint(j.Status, color), jobDetail(j), supersededMark(j.Superseded)); err != nil {
				return
			}
		}
	})
	return err
}

func paint(s core.Status, color bool) string {
	if !color {
		return s.String()
	}
	var c string
	switch {
	case s.Bad():
		c = ansiRed
	case s == core.StatusAccepted:
		c = ansiGreen
	case s == core.StatusReviewable:
		c = ansiYellow
	case s > core.StatusWaiting:
		c = ansiBlue
	default:
		return s.String()
	}
	return c + s.String() + ansiReset
}

func jobDetail(j core.Job) string {
	if j.ErrorCode == 0 {
		return ""
	}
	return fmt.Sprintf(" (error %d)", j.ErrorCode)
}

func supersededMark(superseded bool) string {
	if superseded {
		return " (superseded)"
	}
	return ""
}
