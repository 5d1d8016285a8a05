package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/lsst-dm/cm-tools-sub000/internal/butler"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Slurm submits scripts with sbatch and polls them with sacct.
type Slurm struct {
	Exec ExecFunc
	// Args are extra sbatch arguments, e.g. partition or account.
	Args []string
}

// NewSlurm returns a Slurm runner using os/exec.
func NewSlurm(args ...string) *Slurm {
	return &Slurm{Exec: DefaultExec, Args: args}
}

// Submit runs sbatch --parsable and returns the job id.
func (s *Slurm) Submit(ctx context.Context, sub Submission) (string, error) {
	args := []string{"--parsable"}
	if sub.LogURL != "" {
		args = append(args, "--output", sub.LogURL)
	}
	args = append(args, s.Args...)
	args = append(args, sub.ScriptURL)

	out, err := s.Exec(ctx, "sbatch", args...)
	if err != nil {
		return "", fmt.Errorf("sbatch %s: %w", sub.Name, err)
	}
	// --parsable prints "jobid" or "jobid;cluster"
	id, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if id == "" {
		return "", fmt.Errorf("sbatch %s: empty job id", sub.Name)
	}
	return id, nil
}

// Poll maps the sacct state of the job's first record to a status.
func (s *Slurm) Poll(ctx context.Context, externalID string) (core.Status, bool, error) {
	out, err := s.Exec(ctx, "sacct", "--jobs", externalID, "--format=State", "--noheader", "--parsable2")
	if err != nil {
		return 0, false, fmt.Errorf("sacct %s: %w", externalID, err)
	}
	lines := strings.Fields(string(out))
	if len(lines) == 0 {
		return 0, false, nil
	}
	status, ok := SlurmStatus(lines[0])
	return status, ok, nil
}

// Remove runs butler remove-collection on the submitting host.
func (s *Slurm) Remove(ctx context.Context, repo, collection string) error {
	args := butler.RemoveCollection(repo, collection)
	if _, err := s.Exec(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("remove collection %s: %w", collection, err)
	}
	return nil
}

// SlurmStatus maps a sacct State value. Unknown states are not news.
func SlurmStatus(state string) (core.Status, bool) {
	// sacct may print "CANCELLED by 123"
	state, _, _ = strings.Cut(strings.TrimSpace(state), " ")
	switch strings.TrimSuffix(state, "+") {
	case "PENDING", "CONFIGURING", "REQUEUED", "RESIZING", "SUSPENDED", "RUNNING", "COMPLETING":
		return core.StatusRunning, true
	case "COMPLETED":
		return core.StatusCompleted, true
	case "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "BOOT_FAIL", "DEADLINE", "PREEMPTED":
		return core.StatusFailed, true
	}
	return 0, false
}
