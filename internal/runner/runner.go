// Package runner hands scripts and jobs to the systems that execute them.
//
// Runners are fire-and-forget: Submit returns as soon as the work is queued
// and completion is observed later by polling, either through Poll or through
// a stamp file the submitted script writes.
package runner

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Submission is one unit of work ready to hand off.
type Submission struct {
	Name      string
	ScriptURL string // executable artifact written by the caller
	LogURL    string
	ConfigURL string // submission payload, jobs only
}

// Runner is an execution backend.
type Runner interface {
	// Submit starts the work and returns its external id.
	Submit(ctx context.Context, sub Submission) (string, error)
	// Poll reports the status of submitted work. ok is false when the
	// backend has no news, which callers treat as unchanged.
	Poll(ctx context.Context, externalID string) (status core.Status, ok bool, err error)
	// Remove deletes a collection produced by earlier work.
	Remove(ctx context.Context, repo, collection string) error
}

// ExecFunc runs a command to completion and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// DefaultExec runs commands with os/exec.
func DefaultExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return out, nil
}

// Set maps execution methods to runners.
type Set struct {
	runners map[core.Method]Runner
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{runners: map[core.Method]Runner{}}
}

// Register installs r for method, replacing any earlier runner.
func (s *Set) Register(method core.Method, r Runner) {
	s.runners[method] = r
}

// Get returns the runner for method.
func (s *Set) Get(method core.Method) (Runner, error) {
	r, ok := s.runners[method]
	if !ok {
		return nil, fmt.Errorf("no runner registered for method %q", method)
	}
	return r, nil
}
