package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertTestEntry inserts an entry named name below parent (nil for a
// production) and returns it.
func insertTestEntry(t *testing.T, s *Store, parent *core.Entry, name string) core.Entry {
	t.Helper()
	e := core.Entry{
		Level:   core.LevelProduction,
		Name:    name,
		Status:  core.StatusWaiting,
		Handler: "test",
	}
	e.Fullname = name
	if parent != nil {
		child, ok := parent.Level.Child()
		if !ok {
			t.Fatalf("entry %q has no child level", parent.Fullname)
		}
		e.Level = child
		e.EntryID = parent.EntryID
		e.ParentID = parent.ID
		e.Fullname = parent.Fullname + "/" + name
	}
	if err := s.InsertEntry(context.Background(), &e); err != nil {
		t.Fatalf("InsertEntry(%q) failed: %v", e.Fullname, err)
	}
	return e
}
