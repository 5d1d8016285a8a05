package engine

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Queue writes the artifacts of every ready job under root and moves them
// to prepared.
func (e *Engine) Queue(ctx context.Context, root core.EntryID) ([]core.Job, error) {
	var queued []core.Job
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		jobs, err := tx.MatchingJobs(ctx, root, core.StatusReady)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			wf, err := tx.GetEntry(ctx, j.WorkflowID)
			if err != nil {
				return err
			}
			if wf.Superseded {
				continue
			}
			j, err = e.handlers.Jobs().Queue(ctx, tx, wf, j)
			if err != nil {
				return err
			}
			queued = append(queued, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", root, err)
	}
	return queued, nil
}

// Launch submits prepared jobs under root while fewer than the running cap
// are running. Running jobs are counted across the whole database, not just
// under root. maxRunning > 0 overrides the per-job block cap; otherwise
// each job's block max_running applies, 0 meaning unlimited.
func (e *Engine) Launch(ctx context.Context, root core.EntryID, maxRunning int) ([]core.Job, error) {
	var launched []core.Job
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		running, err := tx.MatchingJobs(ctx, core.EntryID{}, core.StatusRunning)
		if err != nil {
			return err
		}
		nRunning := len(running)

		prepared, err := tx.MatchingJobs(ctx, root, core.StatusPrepared)
		if err != nil {
			return err
		}
		for _, j := range prepared {
			limit := maxRunning
			if limit <= 0 {
				if limit, err = e.handlers.Jobs().MaxRunning(ctx, tx, j); err != nil {
					return err
				}
			}
			if limit > 0 && nRunning >= limit {
				e.logger.Debug("running cap reached", "job", j.Name, "running", nRunning, "limit", limit)
				continue
			}
			wf, err := tx.GetEntry(ctx, j.WorkflowID)
			if err != nil {
				return err
			}
			j, err = e.handlers.Jobs().Launch(ctx, tx, wf, j)
			if err != nil {
				return err
			}
			if j.Status == core.StatusRunning {
				nRunning++
				launched = append(launched, j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", root, err)
	}
	return launched, nil
}

// RequeueResult reports what Requeue did with each failed job.
type RequeueResult struct {
	Requeued []core.Job `json:"requeued"`
	Ignored  []core.Job `json:"ignored"`
	Held     []core.Job `json:"held"`
}

// Requeue classifies every failed job under root against the error-type
// table. Rescuable errors get a fresh job row; ignorable ones are marked
// completed; review and fail errors are held for a person. With force,
// unclassified failures are requeued too. Workflows and ancestors that
// failed because of a requeued or ignored job are rolled back to running.
func (e *Engine) Requeue(ctx context.Context, root core.EntryID, force bool) (RequeueResult, error) {
	var res RequeueResult
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		types, err := tx.ErrorTypes(ctx)
		if err != nil {
			return err
		}
		failed, err := tx.MatchingJobs(ctx, root, core.StatusFailed)
		if err != nil {
			return err
		}
		revive := map[int64]bool{}
		for _, j := range failed {
			wf, err := tx.GetEntry(ctx, j.WorkflowID)
			if err != nil {
				return err
			}
			et, known := core.ClassifyError(types, j.ErrorCode, j.DiagMessage)
			switch {
			case known && et.Action == core.ActionIgnore:
				j.Status = core.StatusCompleted
				if err := tx.UpdateJob(ctx, j); err != nil {
					return err
				}
				res.Ignored = append(res.Ignored, j)
			case known && (et.Action == core.ActionRescue || et.Rescuable), !known && force:
				fresh, err := e.handlers.Jobs().Requeue(ctx, tx, wf, j)
				if err != nil {
					return err
				}
				res.Requeued = append(res.Requeued, fresh)
			default:
				e.logger.Info("failed job held", "workflow", wf.Fullname, "job", j.Name,
					"error_code", j.ErrorCode, "error_type", et.Name)
				res.Held = append(res.Held, j)
				continue
			}
			revive[wf.ID] = true
		}
		for id := range revive {
			if err := e.revive(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RequeueResult{}, fmt.Errorf("requeue %s: %w", root, err)
	}
	return res, nil
}

// revive rolls the entry with row id back to running, and each ancestor
// whose failure it caused.
func (e *Engine) revive(ctx context.Context, tx core.DB, id int64) error {
	for id != 0 {
		ent, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if ent.Status != core.StatusFailed {
			return nil
		}
		if _, err := e.rollback(ctx, tx, ent, core.StatusRunning); err != nil {
			return err
		}
		id = ent.ParentID
	}
	return nil
}

// FakeRun reports status for every running script and job under root, as
// if the work had finished. Stamp files are written too, so stamp checkers
// agree on later polls.
func (e *Engine) FakeRun(ctx context.Context, root core.EntryID, status core.Status) (int, error) {
	if !status.Valid() {
		return 0, newContractError(ErrCodeInvalidStatus, root.String(), "invalid status %d", int(status))
	}
	n := 0
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		scripts, err := tx.MatchingScripts(ctx, root, core.StatusRunning)
		if err != nil {
			return err
		}
		for _, sc := range scripts {
			if err := stamp(sc.Checker, sc.StampURL, status); err != nil {
				return err
			}
			sc.Status = status
			if err := tx.UpdateScript(ctx, sc); err != nil {
				return err
			}
			n++
		}
		jobs, err := tx.MatchingJobs(ctx, root, core.StatusRunning)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if err := stamp(j.Checker, j.StampURL, status); err != nil {
				return err
			}
			j.Status = status
			j.ExternalStatus = status.String()
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fake run %s: %w", root, err)
	}
	return n, nil
}

func stamp(checkerName, url string, status core.Status) error {
	if checkerName != checker.NameStamp || url == "" {
		return nil
	}
	return checker.WriteStamp(url, status)
}
