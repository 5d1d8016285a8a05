package core

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) by DB lookups that match no row.
var ErrNotFound = errors.New("not found")

// DB is the persistence boundary of the lifecycle engine.
//
// Every method that takes an EntryID ancestor treats it as a subtree
// selector; the empty EntryID selects all rows. Listing methods return rows
// ordered by id and never return nil slices.
type DB interface {
	// RunInTx runs fn inside one transaction. fn receives a DB bound to the
	// transaction; nested calls on that DB join the outer transaction.
	RunInTx(ctx context.Context, fn func(tx DB) error) error

	InsertEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntryByFullname(ctx context.Context, fullname string) (Entry, error)
	// ResolveEntry returns the entry addressed by id's deepest key.
	ResolveEntry(ctx context.Context, id EntryID) (Entry, error)
	UpdateEntryStatus(ctx context.Context, id int64, status Status) error
	SetEntrySuperseded(ctx context.Context, id int64, superseded bool) error
	Children(ctx context.Context, parentID int64, includeSuperseded bool) ([]Entry, error)
	// Matching returns the non-superseded entries of level under ancestor in
	// the given status.
	Matching(ctx context.Context, level Level, ancestor EntryID, status Status) ([]Entry, error)

	InsertScript(ctx context.Context, s *Script) error
	GetScript(ctx context.Context, id int64) (Script, error)
	UpdateScript(ctx context.Context, s Script) error
	Scripts(ctx context.Context, ownerID int64, t ScriptType, includeSuperseded bool) ([]Script, error)
	MatchingScripts(ctx context.Context, ancestor EntryID, status Status) ([]Script, error)

	InsertJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id int64) (Job, error)
	UpdateJob(ctx context.Context, j Job) error
	Jobs(ctx context.Context, workflowID int64, includeSuperseded bool) ([]Job, error)
	MatchingJobs(ctx context.Context, ancestor EntryID, status Status) ([]Job, error)

	AddDependency(ctx context.Context, dependentID int64, prerequisite EntryID) error
	Prerequisites(ctx context.Context, dependentID int64) ([]EntryID, error)

	PutConfig(ctx context.Context, name, body string) (int64, error)
	GetConfig(ctx context.Context, id int64) (ConfigDoc, error)
	GetConfigByName(ctx context.Context, name string) (ConfigDoc, error)

	ReplaceErrorTypes(ctx context.Context, types []ErrorType) error
	ErrorTypes(ctx context.Context) ([]ErrorType, error)
}
