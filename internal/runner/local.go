package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"github.com/lsst-dm/cm-tools-sub000/internal/butler"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Local runs scripts with bash on this host. The script itself reports
// completion by writing its stamp file; Poll never has news.
type Local struct {
	Shell  string
	Exec   ExecFunc
	Logger *slog.Logger
}

// NewLocal returns a bash runner.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{Shell: "bash", Exec: DefaultExec, Logger: logger}
}

// Submit starts the script in the background with output appended to its
// log. The process is not waited on beyond reaping.
func (l *Local) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.ScriptURL == "" {
		return "", fmt.Errorf("submit %s: no script", sub.Name)
	}
	cmd := exec.Command(l.Shell, sub.ScriptURL)
	if sub.LogURL != "" {
		logFile, err := os.OpenFile(sub.LogURL, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("submit %s: open log: %w", sub.Name, err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("submit %s: %w", sub.Name, err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	go func() {
		if err := cmd.Wait(); err != nil {
			l.Logger.Debug("local script exited", "name", sub.Name, "id", id, "error", err)
		}
	}()
	return id, nil
}

// Poll has no news for local scripts; their stamp file is checked instead.
func (l *Local) Poll(ctx context.Context, externalID string) (core.Status, bool, error) {
	return core.StatusRunning, false, nil
}

// Remove runs butler remove-collection.
func (l *Local) Remove(ctx context.Context, repo, collection string) error {
	args := butler.RemoveCollection(repo, collection)
	if _, err := l.Exec(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("remove collection %s: %w", collection, err)
	}
	return nil
}
