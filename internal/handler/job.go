package handler

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
)

// JobHandler inserts, queues, launches, polls and rolls back the batch jobs
// of workflow entries.
type JobHandler struct {
	reg *Registry
}

// jobPayload is the submission document written next to a job script.
type jobPayload struct {
	Name       string `yaml:"name"`
	Workflow   string `yaml:"workflow"`
	Command    string `yaml:"command"`
	ButlerRepo string `yaml:"butler_repo"`
	CollIn     string `yaml:"coll_in"`
	CollOut    string `yaml:"coll_out"`
	DataQuery  string `yaml:"data_query,omitempty"`
}

// stateReader is implemented by runners that report error details.
type stateReader interface {
	State(ctx context.Context, externalID string) (runner.RemoteJobState, error)
}

// Insert creates job ref of workflow wf in status ready.
func (h *JobHandler) Insert(ctx context.Context, db core.DB, wf core.Entry, tmpl config.Templates, ref config.ScriptRef, idx int) (core.Job, error) {
	blk, err := h.reg.block(ctx, db, wf.ConfigID, ref.Block)
	if err != nil {
		return core.Job{}, fmt.Errorf("insert job %s/%s: %w", wf.Fullname, ref.Name, err)
	}
	method, err := core.ParseMethod(blk.Method)
	if err != nil {
		return core.Job{}, fmt.Errorf("insert job %s/%s: %w", wf.Fullname, ref.Name, err)
	}
	urls, err := resolveURLs(tmpl.WithDefaults(), wf, ref.Name, idx)
	if err != nil {
		return core.Job{}, fmt.Errorf("insert job %s/%s: %w", wf.Fullname, ref.Name, err)
	}

	j := core.Job{
		WorkflowID:  wf.ID,
		EntryID:     wf.EntryID,
		Name:        ref.Name,
		Idx:         idx,
		Method:      method,
		Status:      core.StatusReady,
		ConfigID:    wf.ConfigID,
		ConfigBlock: ref.Block,
		Checker:     pick(blk.Checker, checker.DefaultCheckerFor(method)),
		Rollback:    pick(blk.Rollback, checker.DefaultRollbackFor(method)),
		CollOut:     wf.CollOut,
		ScriptURL:   urls.script,
		StampURL:    urls.stamp,
		LogURL:      urls.log,
		ConfigURL:   urls.config,
	}
	if err := db.InsertJob(ctx, &j); err != nil {
		return core.Job{}, err
	}
	return j, nil
}

// Ensure inserts a fresh row for every job of the workflow block that has
// no live row, and returns the live jobs.
func (h *JobHandler) Ensure(ctx context.Context, db core.DB, wf core.Entry) ([]core.Job, error) {
	blk, err := h.reg.block(ctx, db, wf.ConfigID, wf.ConfigBlock)
	if err != nil {
		return nil, fmt.Errorf("make jobs %s: %w", wf.Fullname, err)
	}
	all, err := db.Jobs(ctx, wf.ID, true)
	if err != nil {
		return nil, err
	}
	live, err := db.Jobs(ctx, wf.ID, false)
	if err != nil {
		return nil, err
	}
	for _, ref := range blk.Jobs {
		if hasLiveJob(live, ref.Name) {
			continue
		}
		j, err := h.Insert(ctx, db, wf, blk.Templates, ref, countJobs(all, ref.Name))
		if err != nil {
			return nil, err
		}
		live = append(live, j)
	}
	return live, nil
}

// Queue writes the job's command script and submission payload and moves
// it from ready to prepared.
func (h *JobHandler) Queue(ctx context.Context, db core.DB, wf core.Entry, j core.Job) (core.Job, error) {
	if j.Status != core.StatusReady || j.Superseded {
		return j, nil
	}
	blk, err := h.reg.block(ctx, db, j.ConfigID, j.ConfigBlock)
	if err != nil {
		return j, fmt.Errorf("queue job %s/%s: %w", wf.Fullname, j.Name, err)
	}
	vars := entryVars(wf)
	vars["job"] = j.Name
	vars["job_idx"] = j.Idx
	command, err := config.Expand(blk.Command, vars)
	if err != nil {
		return j, fmt.Errorf("queue job %s/%s: %w", wf.Fullname, j.Name, err)
	}
	j.Command = command

	stamp := ""
	if j.Checker == checker.NameStamp {
		stamp = j.StampURL
	}
	if err := writeCommandScript(j.ScriptURL, command, stamp); err != nil {
		return j, fmt.Errorf("queue job %s/%s: %w", wf.Fullname, j.Name, err)
	}
	if err := writeYAML(j.ConfigURL, jobPayload{
		Name:       j.Name,
		Workflow:   wf.Fullname,
		Command:    command,
		ButlerRepo: wf.ButlerRepo,
		CollIn:     wf.CollIn,
		CollOut:    j.CollOut,
		DataQuery:  wf.DataQuery,
	}); err != nil {
		return j, fmt.Errorf("queue job %s/%s: %w", wf.Fullname, j.Name, err)
	}

	j.Status = core.StatusPrepared
	return j, db.UpdateJob(ctx, j)
}

// Launch submits a prepared job and moves it to running. A refused
// submission fails the job with the refusal as its diagnostic.
func (h *JobHandler) Launch(ctx context.Context, db core.DB, wf core.Entry, j core.Job) (core.Job, error) {
	if j.Status != core.StatusPrepared || j.Superseded {
		return j, nil
	}
	run, err := h.reg.runners.Get(j.Method)
	if err != nil {
		return j, fmt.Errorf("launch job %s/%s: %w", wf.Fullname, j.Name, err)
	}
	id, err := run.Submit(ctx, runner.Submission{
		Name:      wf.Fullname + core.FullnameSeparator + j.Name,
		ScriptURL: j.ScriptURL,
		LogURL:    j.LogURL,
		ConfigURL: j.ConfigURL,
	})
	if err != nil {
		h.reg.logger.Warn("job submission failed",
			"workflow", wf.Fullname, "job", j.Name, "error", err)
		j.Status = core.StatusFailed
		j.DiagMessage = err.Error()
		return j, db.UpdateJob(ctx, j)
	}
	j.ExternalID = id
	j.Status = core.StatusRunning
	h.reg.logger.Info("job launched",
		"workflow", wf.Fullname, "job", j.Name, "method", j.Method, "external_id", id)
	return j, db.UpdateJob(ctx, j)
}

// MaxRunning returns the running-job cap of the job's block, 0 when
// unlimited.
func (h *JobHandler) MaxRunning(ctx context.Context, db core.DB, j core.Job) (int, error) {
	blk, err := h.reg.block(ctx, db, j.ConfigID, j.ConfigBlock)
	if err != nil {
		return 0, err
	}
	return blk.MaxRunning, nil
}

// Check polls a running job and stores any news. A failed job picks up the
// error code and diagnostic from runners that report them.
func (h *JobHandler) Check(ctx context.Context, db core.DB, wf core.Entry, j core.Job) (core.Job, bool, error) {
	if j.Status != core.StatusRunning || j.Superseded {
		return j, false, nil
	}
	chk, err := h.reg.checkers.Checker(j.Checker)
	if err != nil {
		return j, false, fmt.Errorf("check job %s/%s: %w", wf.Fullname, j.Name, err)
	}
	status, ok, err := chk.Check(ctx, jobTarget(wf, j))
	if err != nil {
		h.reg.logger.Warn("job poll failed", "workflow", wf.Fullname, "job", j.Name, "error", err)
		return j, false, nil
	}
	if !ok || status == j.Status {
		return j, false, nil
	}
	if !forward(j.Status, status) {
		h.reg.logger.Warn("job poll reported an earlier status",
			"workflow", wf.Fullname, "job", j.Name, "status", j.Status, "polled", status)
		return j, false, nil
	}
	j.Status = status
	j.ExternalStatus = status.String()
	if status == core.StatusFailed {
		h.fillError(ctx, &j)
	}
	if err := db.UpdateJob(ctx, j); err != nil {
		return j, false, err
	}
	return j, true, nil
}

func (h *JobHandler) fillError(ctx context.Context, j *core.Job) {
	run, err := h.reg.runners.Get(j.Method)
	if err != nil {
		return
	}
	sr, ok := run.(stateReader)
	if !ok {
		return
	}
	state, err := sr.State(ctx, j.ExternalID)
	if err != nil {
		h.reg.logger.Warn("job state lookup failed", "job", j.Name, "error", err)
		return
	}
	j.ExternalStatus = state.Status
	j.ErrorCode = state.ErrorCode
	j.DiagMessage = state.Diagnostic
}

// Poll checks every running live job of wf and returns the live jobs after
// polling.
func (h *JobHandler) Poll(ctx context.Context, db core.DB, wf core.Entry) ([]core.Job, error) {
	jobs, err := db.Jobs(ctx, wf.ID, false)
	if err != nil {
		return nil, err
	}
	for i, j := range jobs {
		if jobs[i], _, err = h.Check(ctx, db, wf, j); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Rollback undoes a job's external effect and supersedes it. Rolling back
// a superseded job does nothing; a job that was never launched is only
// superseded.
func (h *JobHandler) Rollback(ctx context.Context, db core.DB, wf core.Entry, j core.Job) error {
	if j.Superseded {
		return nil
	}
	if j.ExternalID != "" {
		rb, err := h.reg.checkers.Rollback(j.Rollback)
		if err != nil {
			return fmt.Errorf("roll back job %s/%s: %w", wf.Fullname, j.Name, err)
		}
		if err := rb.Rollback(ctx, jobTarget(wf, j)); err != nil {
			return fmt.Errorf("roll back job %s/%s: %w", wf.Fullname, j.Name, err)
		}
	}
	j.Superseded = true
	return db.UpdateJob(ctx, j)
}

// RollbackAll rolls back every live job of wf.
func (h *JobHandler) RollbackAll(ctx context.Context, db core.DB, wf core.Entry) error {
	jobs, err := db.Jobs(ctx, wf.ID, false)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := h.Rollback(ctx, db, wf, j); err != nil {
			return err
		}
	}
	return nil
}

// Requeue supersedes j and inserts a fresh ready row for the same job.
func (h *JobHandler) Requeue(ctx context.Context, db core.DB, wf core.Entry, j core.Job) (core.Job, error) {
	if err := h.Rollback(ctx, db, wf, j); err != nil {
		return core.Job{}, err
	}
	jobs, err := h.Ensure(ctx, db, wf)
	if err != nil {
		return core.Job{}, err
	}
	for _, fresh := range jobs {
		if fresh.Name == j.Name {
			return fresh, nil
		}
	}
	return core.Job{}, fmt.Errorf("requeue job %s/%s: job no longer configured", wf.Fullname, j.Name)
}

// Accept marks every completed live job of wf accepted.
func (h *JobHandler) Accept(ctx context.Context, db core.DB, wf core.Entry) error {
	jobs, err := db.Jobs(ctx, wf.ID, false)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status != core.StatusCompleted {
			continue
		}
		j.Status = core.StatusAccepted
		if err := db.UpdateJob(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func jobTarget(wf core.Entry, j core.Job) checker.Target {
	return checker.Target{
		Name:       j.Name,
		Method:     j.Method,
		ExternalID: j.ExternalID,
		StampURL:   j.StampURL,
		Repo:       wf.ButlerRepo,
		CollOut:    j.CollOut,
	}
}

func hasLiveJob(jobs []core.Job, name string) bool {
	for _, j := range jobs {
		if j.Name == name && !j.Superseded {
			return true
		}
	}
	return false
}

func countJobs(jobs []core.Job, name string) int {
	n := 0
	for _, j := range jobs {
		if j.Name == name {
			n++
		}
	}
	return n
}
