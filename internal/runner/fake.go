package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Fake records submissions and reports whatever status a test sets.
type Fake struct {
	mu        sync.Mutex
	next      int
	submitted []Submission
	removed   []string
	statuses  map[string]core.Status
	SubmitErr error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{statuses: map[string]core.Status{}}
}

func (f *Fake) Submit(ctx context.Context, sub Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.next++
	f.submitted = append(f.submitted, sub)
	return fmt.Sprintf("fake-%d", f.next), nil
}

func (f *Fake) Poll(ctx context.Context, externalID string) (core.Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[externalID]
	return s, ok, nil
}

func (f *Fake) Remove(ctx context.Context, repo, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, collection)
	return nil
}

// SetStatus makes Poll report status for externalID.
func (f *Fake) SetStatus(externalID string, status core.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[externalID] = status
}

// Submitted returns a copy of the submissions so far.
func (f *Fake) Submitted() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submitted...)
}

// Removed returns the collections removed so far.
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}
