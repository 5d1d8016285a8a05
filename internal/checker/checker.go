// Package checker holds the pluggable strategies that observe and undo the
// external effects of scripts and jobs.
//
// A Checker maps an external signal to a status. A Rollback undoes the
// external side effect of a script or job. Both are stateless and looked up
// by name through a Registry, which builds each one once.
package checker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
)

// Target is what a Checker or Rollback acts on: the external view of one
// script or job.
type Target struct {
	Name       string
	Method     core.Method
	ExternalID string
	StampURL   string
	Repo       string
	CollOut    string
}

// Checker reports the status of submitted work. ok is false when there is
// no news; that is never a failure. Check must be safe to call repeatedly.
type Checker interface {
	Check(ctx context.Context, t Target) (status core.Status, ok bool, err error)
}

// Rollback undoes a script's or job's external effect. Undoing something
// already undone must succeed.
type Rollback interface {
	Rollback(ctx context.Context, t Target) error
}

// Stamp reads a YAML stamp file of the form "status: <name>".
type Stamp struct{}

type stampDoc struct {
	Status *core.Status `yaml:"status"`
}

// Check returns the stamped status. A missing file, or one without a status
// yet (the writer truncates before writing), is no news.
func (Stamp) Check(ctx context.Context, t Target) (core.Status, bool, error) {
	if t.StampURL == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(stampPath(t.StampURL))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read stamp %s: %w", t.StampURL, err)
	}
	var doc stampDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, false, fmt.Errorf("parse stamp %s: %w", t.StampURL, err)
	}
	if doc.Status == nil {
		return 0, false, nil
	}
	return *doc.Status, true, nil
}

// WriteStamp writes a stamp file for status, creating parent directories.
func WriteStamp(stampURL string, status core.Status) error {
	data, err := yaml.Marshal(stampDoc{Status: &status})
	if err != nil {
		return fmt.Errorf("encode stamp: %w", err)
	}
	path := stampPath(stampURL)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write stamp %s: %w", stampURL, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stamp %s: %w", stampURL, err)
	}
	return nil
}

// Poller asks a runner for the status of its external id.
type Poller struct {
	Runner runner.Runner
}

func (p Poller) Check(ctx context.Context, t Target) (core.Status, bool, error) {
	if t.ExternalID == "" {
		return 0, false, nil
	}
	return p.Runner.Poll(ctx, t.ExternalID)
}

// Noop undoes nothing.
type Noop struct{}

func (Noop) Rollback(context.Context, Target) error { return nil }

// CollectionRemover deletes the target's output collection through a runner.
type CollectionRemover struct {
	Runner runner.Runner
}

func (r CollectionRemover) Rollback(ctx context.Context, t Target) error {
	if t.CollOut == "" {
		return nil
	}
	return r.Runner.Remove(ctx, t.Repo, t.CollOut)
}

// ObjectStore is the part of butler.ObjectStoreRemover used for rollback.
type ObjectStore interface {
	RemoveCollection(ctx context.Context, coll string) (int, error)
}

// ObjectStoreRollback deletes the target's output objects from S3.
type ObjectStoreRollback struct {
	Store ObjectStore
}

func (r ObjectStoreRollback) Rollback(ctx context.Context, t Target) error {
	if t.CollOut == "" {
		return nil
	}
	_, err := r.Store.RemoveCollection(ctx, t.CollOut)
	return err
}

func stampPath(url string) string {
	return strings.TrimPrefix(url, "file://")
}
