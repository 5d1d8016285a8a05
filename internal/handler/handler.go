// Package handler supplies the per-entry policy the lifecycle engine calls
// into: how an entry is inserted, which scripts it runs in each phase, which
// children or jobs it spawns, and what accepting, rejecting or superseding
// it means.
//
// Handlers are resolved through a Registry by the handler class, config id
// and block recorded on each entry row. They hold no entry state; every
// call receives the entry and the database it should act through.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// EntryHandler is the policy for one kind of entry.
type EntryHandler interface {
	// Level is the level of the entries this handler manages.
	Level() core.Level
	// Insert creates a waiting entry named name below parent, which is nil
	// for productions.
	Insert(ctx context.Context, db core.DB, parent *core.Entry, name string, opts InsertOptions) (core.Entry, error)
	// MakeScripts materializes the scripts of every phase.
	MakeScripts(ctx context.Context, db core.DB, e core.Entry) error
	// PrepareScriptHook starts the prepare scripts and returns preparing,
	// or prepared when there are none.
	PrepareScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error)
	// MakeChildren spawns the children (or jobs) and returns populating.
	MakeChildren(ctx context.Context, db core.DB, e core.Entry) (core.Status, error)
	// CollectScriptHook starts the collect scripts and returns collecting,
	// or completed when there are none.
	CollectScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error)
	// ValidateScriptHook starts the validate scripts and returns
	// validating, or accepted when there are none.
	ValidateScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error)
	AcceptHook(ctx context.Context, db core.DB, e core.Entry) error
	RejectHook(ctx context.Context, db core.DB, e core.Entry) error
	SupersedeHook(ctx context.Context, db core.DB, e core.Entry) error
}

// InsertOptions carry per-child overrides from the parent block.
type InsertOptions struct {
	Idx        int
	DataQuery  string
	CollSource string
}

// levelHandler is the configuration-driven handler used for every level.
type levelHandler struct {
	reg   *Registry
	level core.Level
	key   Key
	cfg   *config.Config
	block *config.Block
}

// NewLevelHandler returns the constructor of the configuration-driven
// handler for level.
func NewLevelHandler(level core.Level) Constructor {
	return func(r *Registry, key Key, cfg *config.Config, block *config.Block) (EntryHandler, error) {
		if block.Level() != level {
			return nil, fmt.Errorf("block %q has class %q, want %s", key.Block, block.Class, level)
		}
		return &levelHandler{reg: r, level: level, key: key, cfg: cfg, block: block}, nil
	}
}

func (h *levelHandler) Level() core.Level { return h.level }

func (h *levelHandler) Insert(ctx context.Context, db core.DB, parent *core.Entry, name string, opts InsertOptions) (core.Entry, error) {
	parentName := ""
	var parentID core.EntryID
	if parent != nil {
		parentName = parent.Fullname
		parentID = parent.EntryID
	}
	if parentID.Level() != h.level-1 {
		return core.Entry{}, fmt.Errorf("insert %s %q: parent %s is not a %s", h.level, name, parentID, levelName(h.level-1))
	}
	fullname, err := core.JoinFullname(parentName, name)
	if err != nil {
		return core.Entry{}, fmt.Errorf("insert %s: %w", h.level, err)
	}
	name, _ = core.NormalizeName(name)

	e := core.Entry{
		Level:       h.level,
		EntryID:     parentID,
		Name:        name,
		Fullname:    fullname,
		Idx:         opts.Idx,
		Status:      core.StatusWaiting,
		Handler:     h.key.Class,
		ConfigID:    h.key.ConfigID,
		ConfigBlock: h.key.Block,
		ButlerRepo:  h.block.ButlerRepo,
		ProdBaseURL: h.block.ProdBaseURL,
		RootColl:    h.block.RootColl,
		DataQuery:   pick(opts.DataQuery, h.block.DataQuery),
	}
	vars := config.Vars{"parent_coll_in": "", "parent_coll_out": ""}
	if parent != nil {
		e.ParentID = parent.ID
		e.ButlerRepo = pick(e.ButlerRepo, parent.ButlerRepo)
		e.ProdBaseURL = pick(e.ProdBaseURL, parent.ProdBaseURL)
		e.RootColl = pick(e.RootColl, parent.RootColl)
		e.DataQuery = pick(e.DataQuery, parent.DataQuery)
		vars["parent_coll_in"] = parent.CollIn
		vars["parent_coll_out"] = parent.CollOut
	}

	tmpl := h.block.Templates.WithDefaults()
	if opts.CollSource != "" {
		tmpl.CollSource = opts.CollSource
	}
	for k, v := range entryVars(e) {
		vars[k] = v
	}
	for _, f := range []struct {
		key  string
		dst  *string
		tmpl string
	}{
		{"coll_source", &e.CollSource, tmpl.CollSource},
		{"coll_in", &e.CollIn, tmpl.CollIn},
		{"coll_out", &e.CollOut, tmpl.CollOut},
		{"coll_validate", &e.CollValidate, tmpl.CollValidate},
	} {
		v, err := config.Expand(f.tmpl, vars)
		if err != nil {
			return core.Entry{}, fmt.Errorf("insert %s %q: %w", h.level, fullname, err)
		}
		*f.dst = v
		vars[f.key] = v
	}

	if err := db.InsertEntry(ctx, &e); err != nil {
		return core.Entry{}, err
	}
	h.reg.logger.Debug("entry inserted", "entry", e.Fullname, "level", e.Level, "id", e.EntryID)
	return e, nil
}

func (h *levelHandler) MakeScripts(ctx context.Context, db core.DB, e core.Entry) error {
	for _, t := range core.ScriptTypes() {
		if _, err := h.ensureScripts(ctx, db, e, t); err != nil {
			return err
		}
	}
	return nil
}

// ensureScripts inserts a fresh row for every script of phase t that has no
// live row, and returns the live scripts.
func (h *levelHandler) ensureScripts(ctx context.Context, db core.DB, e core.Entry, t core.ScriptType) ([]core.Script, error) {
	all, err := db.Scripts(ctx, e.ID, t, true)
	if err != nil {
		return nil, err
	}
	var live []core.Script
	for _, sc := range all {
		if !sc.Superseded {
			live = append(live, sc)
		}
	}
	for _, ref := range h.block.ScriptsOf(t) {
		if hasLiveScript(live, ref.Name) {
			continue
		}
		sc, err := h.reg.scripts.Insert(ctx, db, e, h.block.Templates, ref, t, countScripts(all, ref.Name))
		if err != nil {
			return nil, err
		}
		live = append(live, sc)
	}
	return live, nil
}

// runPhase starts the ready scripts of phase t. It returns active while
// scripts exist and done when the phase has none.
func (h *levelHandler) runPhase(ctx context.Context, db core.DB, e core.Entry, t core.ScriptType, active, done core.Status) (core.Status, error) {
	scripts, err := h.ensureScripts(ctx, db, e, t)
	if err != nil {
		return e.Status, err
	}
	if len(scripts) == 0 {
		return done, nil
	}
	for _, sc := range scripts {
		if _, err := h.reg.scripts.Run(ctx, db, e, sc); err != nil {
			return e.Status, err
		}
	}
	return active, nil
}

func (h *levelHandler) PrepareScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error) {
	return h.runPhase(ctx, db, e, core.ScriptPrepare, core.StatusPreparing, core.StatusPrepared)
}

func (h *levelHandler) CollectScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error) {
	return h.runPhase(ctx, db, e, core.ScriptCollect, core.StatusCollecting, core.StatusCompleted)
}

func (h *levelHandler) ValidateScriptHook(ctx context.Context, db core.DB, e core.Entry) (core.Status, error) {
	return h.runPhase(ctx, db, e, core.ScriptValidate, core.StatusValidating, core.StatusAccepted)
}

// MakeChildren spawns one child per child spec of the block, reusing live
// children already spawned, and records sibling prerequisites. A workflow
// spawns its jobs instead.
func (h *levelHandler) MakeChildren(ctx context.Context, db core.DB, e core.Entry) (core.Status, error) {
	if h.level == core.LevelWorkflow {
		if _, err := h.reg.jobs.Ensure(ctx, db, e); err != nil {
			return e.Status, err
		}
		return core.StatusPopulating, nil
	}

	live, err := db.Children(ctx, e.ID, false)
	if err != nil {
		return e.Status, err
	}
	byIdx := map[int]core.Entry{}
	for _, c := range live {
		byIdx[c.Idx] = c
	}

	specs := h.block.Children()
	made := map[string]core.Entry{}
	fresh := map[string]bool{}
	for i, spec := range specs {
		if c, ok := byIdx[i]; ok {
			made[spec.Name] = c
			continue
		}
		blk, err := h.cfg.Block(spec.Block)
		if err != nil {
			return e.Status, fmt.Errorf("make children of %s: %w", e.Fullname, err)
		}
		ch, err := h.reg.Resolve(ctx, db, Key{Class: blk.Class, ConfigID: h.key.ConfigID, Block: spec.Block})
		if err != nil {
			return e.Status, fmt.Errorf("make children of %s: %w", e.Fullname, err)
		}
		name, err := freeName(ctx, db, e.Fullname, spec.Name)
		if err != nil {
			return e.Status, fmt.Errorf("make children of %s: %w", e.Fullname, err)
		}
		child, err := ch.Insert(ctx, db, &e, name, InsertOptions{Idx: i, DataQuery: spec.DataQuery})
		if err != nil {
			return e.Status, err
		}
		made[spec.Name] = child
		fresh[spec.Name] = true
	}

	for _, spec := range specs {
		if !fresh[spec.Name] {
			continue
		}
		for _, pre := range spec.Prerequisites {
			p, ok := made[pre]
			if !ok {
				return e.Status, fmt.Errorf("make children of %s: %s depends on unknown sibling %q", e.Fullname, spec.Name, pre)
			}
			if err := db.AddDependency(ctx, made[spec.Name].ID, p.EntryID); err != nil {
				return e.Status, err
			}
		}
	}
	return core.StatusPopulating, nil
}

func (h *levelHandler) AcceptHook(ctx context.Context, db core.DB, e core.Entry) error {
	if err := h.reg.scripts.Accept(ctx, db, e); err != nil {
		return err
	}
	if h.level == core.LevelWorkflow {
		return h.reg.jobs.Accept(ctx, db, e)
	}
	return nil
}

func (h *levelHandler) RejectHook(ctx context.Context, db core.DB, e core.Entry) error {
	h.reg.logger.Info("entry rejected", "entry", e.Fullname)
	return nil
}

func (h *levelHandler) SupersedeHook(ctx context.Context, db core.DB, e core.Entry) error {
	if h.level == core.LevelWorkflow {
		return h.reg.jobs.RollbackAll(ctx, db, e)
	}
	return nil
}

// freeName returns name, or name with a numeric suffix when a superseded
// sibling already holds the fullname.
func freeName(ctx context.Context, db core.DB, parent, name string) (string, error) {
	candidate := name
	for n := 1; ; n++ {
		fullname, err := core.JoinFullname(parent, candidate)
		if err != nil {
			return "", err
		}
		_, err = db.GetEntryByFullname(ctx, fullname)
		if errors.Is(err, core.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%02d", name, n)
	}
}

func levelName(l core.Level) string {
	if !l.Valid() {
		return "nothing"
	}
	return l.String()
}

func hasLiveScript(scripts []core.Script, name string) bool {
	for _, sc := range scripts {
		if sc.Name == name && !sc.Superseded {
			return true
		}
	}
	return false
}

func countScripts(scripts []core.Script, name string) int {
	n := 0
	for _, sc := range scripts {
		if sc.Name == name {
			n++
		}
	}
	return n
}
