package handler

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/butler"
	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
)

// ScriptHandler inserts, runs, polls and rolls back scripts.
type ScriptHandler struct {
	reg *Registry
}

// Insert creates script ref of phase t for owner in status ready.
// Artifact URLs come from tmpl, the owner block's templates.
func (h *ScriptHandler) Insert(ctx context.Context, db core.DB, owner core.Entry, tmpl config.Templates, ref config.ScriptRef, t core.ScriptType, idx int) (core.Script, error) {
	blk, err := h.reg.block(ctx, db, owner.ConfigID, ref.Block)
	if err != nil {
		return core.Script{}, fmt.Errorf("insert script %s/%s: %w", owner.Fullname, ref.Name, err)
	}
	method, err := core.ParseMethod(blk.Method)
	if err != nil {
		return core.Script{}, fmt.Errorf("insert script %s/%s: %w", owner.Fullname, ref.Name, err)
	}
	urls, err := resolveURLs(tmpl.WithDefaults(), owner, ref.Name, idx)
	if err != nil {
		return core.Script{}, fmt.Errorf("insert script %s/%s: %w", owner.Fullname, ref.Name, err)
	}

	sc := core.Script{
		OwnerID:     owner.ID,
		EntryID:     owner.EntryID,
		Name:        ref.Name,
		Idx:         idx,
		Type:        t,
		Method:      method,
		Status:      core.StatusReady,
		ConfigID:    owner.ConfigID,
		ConfigBlock: ref.Block,
		Checker:     pick(blk.Checker, checker.DefaultCheckerFor(method)),
		Rollback:    pick(blk.Rollback, checker.DefaultRollbackFor(method)),
		CollOut:     scriptCollOut(blk.Action, owner),
		ScriptURL:   urls.script,
		StampURL:    urls.stamp,
		LogURL:      urls.log,
	}
	if err := db.InsertScript(ctx, &sc); err != nil {
		return core.Script{}, err
	}
	return sc, nil
}

// Run writes the script artifact and submits it. A script with nothing to
// run is accepted on the spot. A refused submission fails the script.
func (h *ScriptHandler) Run(ctx context.Context, db core.DB, owner core.Entry, sc core.Script) (core.Script, error) {
	if sc.Status != core.StatusReady || sc.Superseded {
		return sc, nil
	}
	if sc.Method == core.MethodNoScript {
		sc.Status = core.StatusAccepted
		return sc, db.UpdateScript(ctx, sc)
	}

	blk, err := h.reg.block(ctx, db, sc.ConfigID, sc.ConfigBlock)
	if err != nil {
		return sc, fmt.Errorf("run script %s/%s: %w", owner.Fullname, sc.Name, err)
	}
	command, err := h.command(ctx, db, owner, blk)
	if err != nil {
		return sc, fmt.Errorf("run script %s/%s: %w", owner.Fullname, sc.Name, err)
	}
	sc.Command = command

	stamp := ""
	if sc.Checker == checker.NameStamp {
		stamp = sc.StampURL
	}
	if err := writeCommandScript(sc.ScriptURL, command, stamp); err != nil {
		return sc, fmt.Errorf("run script %s/%s: %w", owner.Fullname, sc.Name, err)
	}

	run, err := h.reg.runners.Get(sc.Method)
	if err != nil {
		return sc, fmt.Errorf("run script %s/%s: %w", owner.Fullname, sc.Name, err)
	}
	id, err := run.Submit(ctx, runner.Submission{
		Name:      owner.Fullname + core.FullnameSeparator + sc.Name,
		ScriptURL: sc.ScriptURL,
		LogURL:    sc.LogURL,
	})
	if err != nil {
		h.reg.logger.Warn("script submission failed",
			"entry", owner.Fullname, "script", sc.Name, "error", err)
		sc.Status = core.StatusFailed
		return sc, db.UpdateScript(ctx, sc)
	}

	sc.ExternalID = id
	sc.Status = core.StatusRunning
	h.reg.logger.Debug("script submitted",
		"entry", owner.Fullname, "script", sc.Name, "method", sc.Method, "external_id", id)
	return sc, db.UpdateScript(ctx, sc)
}

// command builds the shell command for a script block acting on owner.
func (h *ScriptHandler) command(ctx context.Context, db core.DB, owner core.Entry, blk *config.Block) (string, error) {
	switch blk.Action {
	case config.ActionAssociate:
		return butler.ShellJoin(butler.Associate(owner.ButlerRepo, owner.CollIn, owner.CollSource, owner.DataQuery)), nil
	case config.ActionChain:
		children, err := db.Children(ctx, owner.ID, false)
		if err != nil {
			return "", err
		}
		inputs := make([]string, 0, len(children)+1)
		for _, c := range children {
			inputs = append(inputs, c.CollOut)
		}
		inputs = append(inputs, owner.CollIn)
		return butler.ShellJoin(butler.CollectionChain(owner.ButlerRepo, owner.CollOut, inputs...)), nil
	case config.ActionValidate:
		return butler.ShellJoin(butler.Validate(owner.ButlerRepo, owner.CollValidate, owner.CollOut)), nil
	case config.ActionCommand:
		return config.Expand(blk.Command, entryVars(owner))
	}
	return "true", nil
}

// Check polls a running script and stores any news. Poll failures are
// logged and reported as no change.
func (h *ScriptHandler) Check(ctx context.Context, db core.DB, owner core.Entry, sc core.Script) (core.Script, bool, error) {
	if sc.Status != core.StatusRunning || sc.Superseded {
		return sc, false, nil
	}
	chk, err := h.reg.checkers.Checker(sc.Checker)
	if err != nil {
		return sc, false, fmt.Errorf("check script %s/%s: %w", owner.Fullname, sc.Name, err)
	}
	status, ok, err := chk.Check(ctx, scriptTarget(owner, sc))
	if err != nil {
		h.reg.logger.Warn("script poll failed",
			"entry", owner.Fullname, "script", sc.Name, "error", err)
		return sc, false, nil
	}
	if !ok || status == sc.Status {
		return sc, false, nil
	}
	if !forward(sc.Status, status) {
		h.reg.logger.Warn("script poll reported an earlier status",
			"entry", owner.Fullname, "script", sc.Name, "status", sc.Status, "polled", status)
		return sc, false, nil
	}
	sc.Status = status
	if err := db.UpdateScript(ctx, sc); err != nil {
		return sc, false, err
	}
	return sc, true, nil
}

// Poll checks every running live script of phase t and returns the live
// scripts after polling.
func (h *ScriptHandler) Poll(ctx context.Context, db core.DB, owner core.Entry, t core.ScriptType) ([]core.Script, error) {
	scripts, err := db.Scripts(ctx, owner.ID, t, false)
	if err != nil {
		return nil, err
	}
	for i, sc := range scripts {
		if scripts[i], _, err = h.Check(ctx, db, owner, sc); err != nil {
			return nil, err
		}
	}
	return scripts, nil
}

// Rollback undoes a script's external effect and supersedes it. Rolling
// back a superseded script does nothing; a script that was never submitted
// is only superseded.
func (h *ScriptHandler) Rollback(ctx context.Context, db core.DB, owner core.Entry, sc core.Script) error {
	if sc.Superseded {
		return nil
	}
	if sc.ExternalID != "" {
		rb, err := h.reg.checkers.Rollback(sc.Rollback)
		if err != nil {
			return fmt.Errorf("roll back script %s/%s: %w", owner.Fullname, sc.Name, err)
		}
		if err := rb.Rollback(ctx, scriptTarget(owner, sc)); err != nil {
			return fmt.Errorf("roll back script %s/%s: %w", owner.Fullname, sc.Name, err)
		}
	}
	sc.Superseded = true
	return db.UpdateScript(ctx, sc)
}

// RollbackPhase rolls back every live script of phase t.
func (h *ScriptHandler) RollbackPhase(ctx context.Context, db core.DB, owner core.Entry, t core.ScriptType) error {
	scripts, err := db.Scripts(ctx, owner.ID, t, false)
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		if err := h.Rollback(ctx, db, owner, sc); err != nil {
			return err
		}
	}
	return nil
}

// Accept marks every completed live script of owner accepted.
func (h *ScriptHandler) Accept(ctx context.Context, db core.DB, owner core.Entry) error {
	for _, t := range core.ScriptTypes() {
		scripts, err := db.Scripts(ctx, owner.ID, t, false)
		if err != nil {
			return err
		}
		for _, sc := range scripts {
			if sc.Status != core.StatusCompleted {
				continue
			}
			sc.Status = core.StatusAccepted
			if err := db.UpdateScript(ctx, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func scriptTarget(owner core.Entry, sc core.Script) checker.Target {
	return checker.Target{
		Name:       sc.Name,
		Method:     sc.Method,
		ExternalID: sc.ExternalID,
		StampURL:   sc.StampURL,
		Repo:       owner.ButlerRepo,
		CollOut:    sc.CollOut,
	}
}

// scriptCollOut is the collection a script of action writes.
func scriptCollOut(action string, owner core.Entry) string {
	switch action {
	case config.ActionAssociate:
		return owner.CollIn
	case config.ActionValidate:
		return owner.CollValidate
	case config.ActionNone, "":
		return ""
	}
	return owner.CollOut
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// forward reports whether a polled status may replace cur: a bad status
// always may, anything else only when it does not move backwards.
func forward(cur, polled core.Status) bool {
	return polled.Bad() || polled >= cur
}
