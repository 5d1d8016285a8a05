package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// gateOpen reports whether every prerequisite of ent is accepted. A
// prerequisite that was superseded is replaced by the live sibling that
// took its place, if there is one.
func (e *Engine) gateOpen(ctx context.Context, db core.DB, ent core.Entry) (bool, error) {
	prereqs, err := db.Prerequisites(ctx, ent.ID)
	if err != nil {
		return false, fmt.Errorf("load prerequisites: %w", err)
	}
	for _, id := range prereqs {
		p, err := e.livePrerequisite(ctx, db, id)
		if errors.Is(err, core.ErrNotFound) {
			e.logger.Debug("prerequisite missing", "entry", ent.Fullname, "prerequisite", id)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if p.Status != core.StatusAccepted {
			e.logger.Debug("gate closed", "entry", ent.Fullname, "prerequisite", p.Fullname, "status", p.Status)
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) livePrerequisite(ctx context.Context, db core.DB, id core.EntryID) (core.Entry, error) {
	p, err := db.ResolveEntry(ctx, id)
	if err != nil || !p.Superseded {
		return p, err
	}
	siblings, err := db.Children(ctx, p.ParentID, false)
	if err != nil {
		return core.Entry{}, err
	}
	for _, s := range siblings {
		if s.Idx == p.Idx {
			return s, nil
		}
	}
	return core.Entry{}, fmt.Errorf("prerequisite %s superseded without replacement: %w", p.Fullname, core.ErrNotFound)
}
