package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/handler"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
	"github.com/lsst-dm/cm-tools-sub000/internal/store"
)

// ConfigName is the name the fixture configuration is stored under.
const ConfigName = "test"

// Config is a campaign configuration whose work all runs on the fake
// runner. Prepare and collect scripts complete on submission; the step
// validate script and every job stay running until a test reports on them.
// @BASE@ is replaced by a per-test directory.
const Config = `
production:
  class: production
  butler_repo: /repo/test
  prod_base_url: "@BASE@"
  root_coll: test

campaign:
  class: campaign
  templates:
    coll_source: raw/all
  scripts:
    - name: ancillary
      type: prepare
      block: noop_script
    - name: chain
      type: collect
      block: chain_script
  steps:
    - name: step1
      block: step
    - name: step2
      block: step
      prerequisites: [step1]

step:
  class: step
  scripts:
    - name: validate
      type: validate
      block: validate_script
  groups:
    - name: group0
      block: group

group:
  class: group
  workflows:
    - name: w00
      block: workflow

workflow:
  class: workflow
  jobs:
    - name: run
      block: fake_job

workflow3:
  class: workflow
  jobs:
    - name: a
      block: fake_job
    - name: b
      block: fake_job
    - name: c
      block: fake_job

noop_script:
  class: script
  method: no_script

chain_script:
  class: script
  method: no_script
  action: chain

validate_script:
  class: script
  method: fake
  action: validate
  rollback: butler

fake_job:
  class: job
  method: fake
  action: command
  command: "echo {fullname} {job}"
  max_running: 2
`

// Fixture is a store loaded with Config plus the registries that drive it.
type Fixture struct {
	Store    *store.Store
	Fake     *runner.Fake
	Runners  *runner.Set
	Checkers *checker.Registry
	Handlers *handler.Registry
	ConfigID int64
	BaseDir  string
}

// NewFixture opens a SQLite store in a temp directory and loads Config.
// The fake runner serves both the fake and bash methods, so collection
// removal on rollback is recorded instead of executed.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "cm.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	base := filepath.Join(dir, "prod")
	id, err := s.PutConfig(context.Background(), ConfigName, strings.ReplaceAll(Config, "@BASE@", base))
	if err != nil {
		t.Fatalf("PutConfig() failed: %v", err)
	}

	fake := runner.NewFake()
	runners := runner.NewSet()
	runners.Register(core.MethodFake, fake)
	runners.Register(core.MethodBash, fake)
	checkers := checker.NewDefaultRegistry(runners)

	return &Fixture{
		Store:    s,
		Fake:     fake,
		Runners:  runners,
		Checkers: checkers,
		Handlers: handler.NewRegistry(runners, checkers),
		ConfigID: id,
		BaseDir:  base,
	}
}

// Insert inserts an entry named name from block below parent, which is nil
// for a production.
func (f *Fixture) Insert(t *testing.T, parent *core.Entry, block, name string) core.Entry {
	t.Helper()
	ctx := context.Background()
	cfg, err := f.Handlers.Config(ctx, f.Store, f.ConfigID)
	if err != nil {
		t.Fatalf("Config() failed: %v", err)
	}
	blk, err := cfg.Block(block)
	if err != nil {
		t.Fatalf("Block(%q) failed: %v", block, err)
	}
	h, err := f.Handlers.Resolve(ctx, f.Store, handler.Key{Class: blk.Class, ConfigID: f.ConfigID, Block: block})
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", block, err)
	}
	e, err := h.Insert(ctx, f.Store, parent, name, handler.InsertOptions{})
	if err != nil {
		t.Fatalf("Insert(%q) failed: %v", name, err)
	}
	return e
}

// Entry reloads the entry with row id id.
func (f *Fixture) Entry(t *testing.T, id int64) core.Entry {
	t.Helper()
	e, err := f.Store.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEntry(%d) failed: %v", id, err)
	}
	return e
}

// EntryByName reloads the entry with the given fullname.
func (f *Fixture) EntryByName(t *testing.T, fullname string) core.Entry {
	t.Helper()
	e, err := f.Store.GetEntryByFullname(context.Background(), fullname)
	if err != nil {
		t.Fatalf("GetEntryByFullname(%q) failed: %v", fullname, err)
	}
	return e
}
