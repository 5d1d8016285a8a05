package engine

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Rollback walks the entry at id down to status to, undoing each phase it
// passes, then sets the status. Rolling back to the current status does
// nothing; a target above it is a contract violation. An entry sitting in
// failed or rejected is walked as if it were completed.
func (e *Engine) Rollback(ctx context.Context, id core.EntryID, to core.Status) ([]Change, error) {
	var changes []Change
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		ent, err := tx.ResolveEntry(ctx, id)
		if err != nil {
			return err
		}
		changes, err = e.rollback(ctx, tx, ent, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rollback %s: %w", id, err)
	}
	return changes, nil
}

func (e *Engine) rollback(ctx context.Context, tx core.DB, ent core.Entry, to core.Status) ([]Change, error) {
	if !to.Valid() || to.Bad() || to == core.StatusAccepted {
		return nil, newContractError(ErrCodeInvalidStatus, ent.Fullname, "cannot roll back to %s", to)
	}
	current := ent.Status
	if current.Bad() {
		current = core.StatusCompleted
	}
	if to > current {
		return nil, newContractError(ErrCodeRollbackAboveCurrent, ent.Fullname,
			"cannot roll back from %s up to %s", ent.Status, to)
	}
	if to == ent.Status {
		return nil, nil
	}

	var changes []Change
	scripts := e.handlers.Scripts()
	for s := current; s >= to; s-- {
		switch s {
		case core.StatusCompleted:
			if err := scripts.RollbackPhase(ctx, tx, ent, core.ScriptValidate); err != nil {
				return nil, err
			}
		case core.StatusCollectable:
			if err := scripts.RollbackPhase(ctx, tx, ent, core.ScriptCollect); err != nil {
				return nil, err
			}
		case core.StatusPopulating:
			if ent.Level == core.LevelWorkflow {
				if err := e.handlers.Jobs().RollbackAll(ctx, tx, ent); err != nil {
					return nil, err
				}
			}
			sub, err := e.rollbackChildren(ctx, tx, ent)
			if err != nil {
				return nil, err
			}
			changes = append(changes, sub...)
		case core.StatusPrepared:
			children, err := tx.Children(ctx, ent.ID, false)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if _, err := e.supersede(ctx, tx, c); err != nil {
					return nil, err
				}
			}
		case core.StatusReady:
			if err := scripts.RollbackPhase(ctx, tx, ent, core.ScriptPrepare); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.UpdateEntryStatus(ctx, ent.ID, to); err != nil {
		return nil, err
	}
	e.logger.Info("entry rolled back", "entry", ent.Fullname, "from", ent.Status, "to", to)
	return append(changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: ent.Status, To: to}), nil
}

// rollbackChildren rolls every live child above prepared back to prepared.
func (e *Engine) rollbackChildren(ctx context.Context, tx core.DB, ent core.Entry) ([]Change, error) {
	const to = core.StatusPrepared
	children, err := tx.Children(ctx, ent.ID, false)
	if err != nil {
		return nil, err
	}
	var changes []Change
	for _, c := range children {
		if !c.Status.Bad() && c.Status <= to {
			continue
		}
		sub, err := e.rollback(ctx, tx, c, to)
		if err != nil {
			return nil, err
		}
		changes = append(changes, sub...)
	}
	return changes, nil
}

// Supersede marks the entry at id and every live descendant superseded,
// running each one's supersede hook. It returns the number of entries
// superseded.
func (e *Engine) Supersede(ctx context.Context, id core.EntryID) (int, error) {
	var n int
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		ent, err := tx.ResolveEntry(ctx, id)
		if err != nil {
			return err
		}
		n, err = e.supersede(ctx, tx, ent)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("supersede %s: %w", id, err)
	}
	return n, nil
}

func (e *Engine) supersede(ctx context.Context, tx core.DB, ent core.Entry) (int, error) {
	if ent.Superseded {
		return 0, nil
	}
	children, err := tx.Children(ctx, ent.ID, false)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range children {
		m, err := e.supersede(ctx, tx, c)
		if err != nil {
			return 0, err
		}
		n += m
	}
	h, err := e.handlerFor(ctx, tx, ent)
	if err != nil {
		return 0, err
	}
	if err := h.SupersedeHook(ctx, tx, ent); err != nil {
		return 0, err
	}
	if err := tx.SetEntrySuperseded(ctx, ent.ID, true); err != nil {
		return 0, err
	}
	e.logger.Info("entry superseded", "entry", ent.Fullname)
	return n + 1, nil
}

// Reject marks the entry at id rejected, which holds its ancestors until
// it is superseded. Rejecting an accepted entry is a contract violation
// and leaves it untouched.
func (e *Engine) Reject(ctx context.Context, id core.EntryID) ([]Change, error) {
	var changes []Change
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		ent, err := tx.ResolveEntry(ctx, id)
		if err != nil {
			return err
		}
		switch ent.Status {
		case core.StatusAccepted:
			return newContractError(ErrCodeRejectAccepted, ent.Fullname,
				"accepted data may already be consumed; roll back the consumer instead")
		case core.StatusRejected:
			return nil
		}
		if err := tx.UpdateEntryStatus(ctx, ent.ID, core.StatusRejected); err != nil {
			return err
		}
		h, err := e.handlerFor(ctx, tx, ent)
		if err != nil {
			return err
		}
		if err := h.RejectHook(ctx, tx, ent); err != nil {
			return err
		}
		changes = append(changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: ent.Status, To: core.StatusRejected})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}
	return changes, nil
}

// Accept accepts every reviewable entry in the subtree at id, deepest
// first. Entries in any other status are left alone.
func (e *Engine) Accept(ctx context.Context, id core.EntryID) ([]Change, error) {
	var changes []Change
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		top, err := tx.ResolveEntry(ctx, id)
		if err != nil {
			return err
		}
		for level := core.LevelWorkflow; level >= top.Level; level-- {
			entries, err := tx.Matching(ctx, level, id, core.StatusReviewable)
			if err != nil {
				return err
			}
			for _, ent := range entries {
				h, err := e.handlerFor(ctx, tx, ent)
				if err != nil {
					return err
				}
				if err := h.AcceptHook(ctx, tx, ent); err != nil {
					return err
				}
				if err := tx.UpdateEntryStatus(ctx, ent.ID, core.StatusAccepted); err != nil {
					return err
				}
				e.logger.Info("entry accepted", "entry", ent.Fullname)
				changes = append(changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: ent.Status, To: core.StatusAccepted})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accept %s: %w", id, err)
	}
	return changes, nil
}
