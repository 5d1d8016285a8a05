package engine

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/handler"
)

// Check advances root and its whole subtree until an iteration changes no
// entry status. Each iteration commits before the next begins, so an
// interrupted check resumes from the stored rows.
func (e *Engine) Check(ctx context.Context, root core.EntryID) (Result, error) {
	var res Result
	quota := NewIterationQuota(e.maxIterations)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := quota.Check(root.String()); err != nil {
			e.logger.Error("check did not converge", "root", root, "iterations", quota.Current()-1)
			return res, err
		}

		var changes []Change
		err := e.db.RunInTx(ctx, func(tx core.DB) error {
			var err error
			changes, err = e.sweep(ctx, tx, root)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("check %s: %w", root, err)
		}
		res.Iterations++
		res.Changes = append(res.Changes, changes...)
		if len(changes) == 0 {
			e.logger.Debug("check reached fixed point", "root", root, "iterations", res.Iterations)
			return res, nil
		}
	}
}

// sweep runs one iteration: for each status in sweep order, every live
// entry of the subtree in that status, deepest level first.
func (e *Engine) sweep(ctx context.Context, tx core.DB, root core.EntryID) ([]Change, error) {
	top, err := tx.ResolveEntry(ctx, root)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, status := range core.SweepOrder() {
		for level := core.LevelWorkflow; level >= top.Level; level-- {
			entries, err := tx.Matching(ctx, level, root, status)
			if err != nil {
				return nil, err
			}
			for _, ent := range entries {
				next, err := e.advance(ctx, tx, ent)
				if err != nil {
					return nil, fmt.Errorf("%s at %s: %w", ent.Fullname, ent.Status, err)
				}
				if next == ent.Status {
					continue
				}
				if err := tx.UpdateEntryStatus(ctx, ent.ID, next); err != nil {
					return nil, err
				}
				e.logger.Info("entry advanced", "entry", ent.Fullname, "from", ent.Status, "to", next)
				changes = append(changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: ent.Status, To: next})
			}
		}
	}
	return changes, nil
}

// advance applies the action for ent's status and returns its next status.
func (e *Engine) advance(ctx context.Context, tx core.DB, ent core.Entry) (core.Status, error) {
	h, err := e.handlerFor(ctx, tx, ent)
	if err != nil {
		return ent.Status, err
	}
	scripts := e.handlers.Scripts()

	switch ent.Status {
	case core.StatusWaiting:
		open, err := e.gateOpen(ctx, tx, ent)
		if err != nil || !open {
			return ent.Status, err
		}
		if err := h.MakeScripts(ctx, tx, ent); err != nil {
			return ent.Status, err
		}
		return core.StatusReady, nil

	case core.StatusReady:
		return h.PrepareScriptHook(ctx, tx, ent)

	case core.StatusPreparing:
		polled, err := scripts.Poll(ctx, tx, ent, core.ScriptPrepare)
		if err != nil {
			return ent.Status, err
		}
		return lookup(prepareTable, reduce(scriptStatuses(polled)), ent.Status), nil

	case core.StatusPrepared:
		return h.MakeChildren(ctx, tx, ent)

	case core.StatusPopulating:
		if ent.Level == core.LevelWorkflow {
			if _, err := e.handlers.Jobs().Ensure(ctx, tx, ent); err != nil {
				return ent.Status, err
			}
			return core.StatusRunning, nil
		}
		return e.aggregateChildren(ctx, tx, ent, core.StatusPopulating, core.StatusRunning, core.StatusRunning)

	case core.StatusRunning:
		if ent.Level == core.LevelWorkflow {
			jobs, err := e.handlers.Jobs().Poll(ctx, tx, ent)
			if err != nil {
				return ent.Status, err
			}
			return lookup(jobTable, reduce(jobStatuses(jobs)), ent.Status), nil
		}
		return e.aggregateChildren(ctx, tx, ent, core.StatusRunning, core.StatusRunning, core.StatusCollectable)

	case core.StatusCollectable:
		return h.CollectScriptHook(ctx, tx, ent)

	case core.StatusCollecting:
		polled, err := scripts.Poll(ctx, tx, ent, core.ScriptCollect)
		if err != nil {
			return ent.Status, err
		}
		return lookup(collectTable, reduce(scriptStatuses(polled)), ent.Status), nil

	case core.StatusCompleted:
		return h.ValidateScriptHook(ctx, tx, ent)

	case core.StatusValidating:
		polled, err := scripts.Poll(ctx, tx, ent, core.ScriptValidate)
		if err != nil {
			return ent.Status, err
		}
		return lookup(validateTable, reduce(scriptStatuses(polled)), ent.Status), nil
	}
	return ent.Status, nil
}

func (e *Engine) aggregateChildren(ctx context.Context, tx core.DB, ent core.Entry, floor, ceiling, advance core.Status) (core.Status, error) {
	children, err := tx.Children(ctx, ent.ID, false)
	if err != nil {
		return ent.Status, err
	}
	return aggregate(children, floor, ceiling, advance), nil
}

// handlerFor resolves the handler of ent inside tx.
func (e *Engine) handlerFor(ctx context.Context, tx core.DB, ent core.Entry) (handler.EntryHandler, error) {
	return e.handlers.ForEntry(ctx, tx, ent)
}

// Prepare moves the root entry alone through waiting, ready and preparing,
// stopping at prepared or wherever it stalls. Its children are not touched.
func (e *Engine) Prepare(ctx context.Context, root core.EntryID) ([]Change, error) {
	var changes []Change
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		for {
			ent, err := tx.ResolveEntry(ctx, root)
			if err != nil {
				return err
			}
			if ent.Superseded || ent.Status < core.StatusWaiting || ent.Status >= core.StatusPrepared {
				return nil
			}
			next, err := e.advance(ctx, tx, ent)
			if err != nil {
				return err
			}
			if next == ent.Status {
				return nil
			}
			if err := tx.UpdateEntryStatus(ctx, ent.ID, next); err != nil {
				return err
			}
			e.logger.Info("entry advanced", "entry", ent.Fullname, "from", ent.Status, "to", next)
			changes = append(changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: ent.Status, To: next})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", root, err)
	}
	return changes, nil
}
