package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
)

// selectorFlags binds the entry selector flags shared by most commands.
type selectorFlags struct {
	fullname string
	names    [core.NumLevels]string
}

func addSelectorFlags(cmd *cobra.Command, s *selectorFlags) {
	cmd.Flags().StringVar(&s.fullname, "fullname", "", "slash-joined entry fullname")
	for _, l := range core.Levels() {
		cmd.Flags().StringVar(&s.names[l], l.String(), "", l.String()+" name")
		cmd.MarkFlagsMutuallyExclusive("fullname", l.String())
	}
}

func (s *selectorFlags) selector() engine.Selector {
	return engine.Selector{Fullname: s.fullname, Names: s.names}
}

// resolve returns the selected entry.
func (s *selectorFlags) resolve(ctx context.Context, eng *engine.Engine) (core.Entry, error) {
	ent, err := eng.Resolve(ctx, s.selector())
	if err != nil {
		return core.Entry{}, commandError("failed to select entry", err)
	}
	return ent, nil
}
