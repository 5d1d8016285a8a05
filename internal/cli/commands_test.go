package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
	"github.com/lsst-dm/cm-tools-sub000/internal/testutil"
)

// cliEnv is a database, a loadable config file and one fake runner shared
// by every command a test runs.
type cliEnv struct {
	db         string
	configPath string
	fake       *runner.Fake
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := strings.ReplaceAll(testutil.Config, "@BASE@", filepath.Join(dir, "prod"))
	path := filepath.Join(dir, "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &cliEnv{db: filepath.Join(dir, "cm.db"), configPath: path, fake: runner.NewFake()}
}

func (env *cliEnv) wire(ctx context.Context, logger *slog.Logger) (*runner.Set, *checker.Registry, error) {
	runners := runner.NewSet()
	runners.Register(core.MethodFake, env.fake)
	runners.Register(core.MethodBash, env.fake)
	return runners, checker.NewDefaultRegistry(runners), nil
}

// run executes one command line and returns its stdout.
func (env *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{Database: env.db, Wire: env.wire}
	cmd := newRootCommand(opts)
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (env *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := env.run(t, args...)
	require.NoError(t, err, "cm %s", strings.Join(args, " "))
	return out
}

// decode parses a JSON success response into data.
func decode(t *testing.T, out string, data any) {
	t.Helper()
	resp := struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func (env *cliEnv) insertCampaign(t *testing.T) {
	t.Helper()
	env.mustRun(t, "load-config", testutil.ConfigName, env.configPath)
	env.mustRun(t, "insert", "--name", "p", "--config", testutil.ConfigName, "--block", "production")
	env.mustRun(t, "insert", "--production", "p", "--name", "c", "--config", testutil.ConfigName, "--block", "campaign")
}

func TestCommands_LoadAndInsert(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "load-config", testutil.ConfigName, env.configPath)
	assert.Equal(t, "loaded config test (id 1)\n", out)

	out = env.mustRun(t, "insert", "--name", "p", "--config", testutil.ConfigName, "--block", "production")
	assert.Equal(t, "inserted production p (waiting)\n", out)

	out = env.mustRun(t, "--format", "json", "insert", "--production", "p",
		"--name", "c", "--config", testutil.ConfigName, "--block", "campaign")
	var ent core.Entry
	decode(t, out, &ent)
	assert.Equal(t, "p/c", ent.Fullname)
	assert.Equal(t, core.LevelCampaign, ent.Level)
	assert.Equal(t, core.StatusWaiting, ent.Status)
}

func TestCommands_LoadErrorTypes(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "errors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: oom\n  code: 137\n  action: rescue\n"), 0o644))

	out := env.mustRun(t, "load-error-types", path)
	assert.Equal(t, "loaded 1 error type(s)\n", out)

	_, err := env.run(t, "load-error-types", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCommands_CheckQueueLaunch(t *testing.T) {
	env := newCLIEnv(t)
	env.insertCampaign(t)

	out := env.mustRun(t, "--format", "json", "check", "--production", "p")
	var res struct {
		Iterations int `json:"iterations"`
		Changes    []struct {
			Fullname string      `json:"fullname"`
			From     core.Status `json:"from"`
			To       core.Status `json:"to"`
		} `json:"changes"`
	}
	decode(t, out, &res)
	assert.Greater(t, res.Iterations, 1)
	assert.NotEmpty(t, res.Changes)

	out = env.mustRun(t, "print", "--fullname", "p/c/step1")
	assert.Contains(t, out, "step step1 running\n")
	assert.Contains(t, out, "workflow w00 running\n")
	assert.Contains(t, out, "- job run[0] ready\n")

	out = env.mustRun(t, "queue", "--production", "p")
	assert.Contains(t, out, "queued 1 job(s)\n")

	out = env.mustRun(t, "launch", "--production", "p", "--campaign", "c")
	assert.Contains(t, out, "launched 1 job(s)\n")
	assert.Len(t, env.fake.Submitted(), 1)

	out = env.mustRun(t, "fake-run", "--production", "p", "--status", "accepted")
	assert.Equal(t, "marked 1 row(s) accepted\n", out)

	env.mustRun(t, "check", "--production", "p")
	out = env.mustRun(t, "print", "--production", "p", "--campaign", "c", "--step", "step1")
	assert.True(t, strings.HasPrefix(out, "step step1 validating\n"), out)
}

func TestCommands_ReviewCycle(t *testing.T) {
	env := newCLIEnv(t)
	env.insertCampaign(t)

	env.mustRun(t, "check", "--production", "p")
	env.mustRun(t, "queue", "--production", "p")
	env.mustRun(t, "launch", "--production", "p")
	env.mustRun(t, "fake-run", "--production", "p", "--status", "accepted")
	env.mustRun(t, "check", "--production", "p")
	env.mustRun(t, "fake-run", "--production", "p")
	env.mustRun(t, "check", "--production", "p")

	out := env.mustRun(t, "accept", "--fullname", "p/c/step1")
	assert.Equal(t, "p/c/step1: reviewable -> accepted\n", out)

	_, err := env.run(t, "reject", "--fullname", "p/c/step1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "REJECT_ACCEPTED", errorCode(err))

	_, err = env.run(t, "rollback", "--fullname", "p/c/step1/group0", "--status", "accepted")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCommands_SupersedeAndSelectors(t *testing.T) {
	env := newCLIEnv(t)
	env.insertCampaign(t)
	env.mustRun(t, "check", "--production", "p")

	_, err := env.run(t, "print", "--production", "p", "--step", "step1")
	require.Error(t, err)
	assert.Equal(t, "INVALID_SELECTOR", errorCode(err))

	_, err = env.run(t, "print")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = env.run(t, "print", "--fullname", "p/c", "--production", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[fullname production]")

	out := env.mustRun(t, "supersede", "--fullname", "p/c/step1/group0/w00")
	assert.Equal(t, "superseded 1 row(s) under p/c/step1/group0/w00\n", out)

	out = env.mustRun(t, "print", "--fullname", "p/c/step1/group0")
	assert.NotContains(t, out, "w00")
	out = env.mustRun(t, "print", "--fullname", "p/c/step1/group0", "--superseded")
	assert.Contains(t, out, "workflow w00 running (superseded)\n")
}

func TestCommands_RequeueJSON(t *testing.T) {
	env := newCLIEnv(t)
	env.insertCampaign(t)
	env.mustRun(t, "check", "--production", "p")

	out := env.mustRun(t, "--format", "json", "requeue", "--production", "p", "--force")
	var res struct {
		Requeued []core.Job `json:"requeued"`
		Ignored  []core.Job `json:"ignored"`
		Held     []core.Job `json:"held"`
	}
	decode(t, out, &res)
	assert.Empty(t, res.Requeued)
	assert.Empty(t, res.Held)
}

func TestCommands_FakeRunInvalidStatus(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "fake-run", "--production", "p", "--status", "done")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCommands_DaemonIterations(t *testing.T) {
	env := newCLIEnv(t)
	env.insertCampaign(t)
	stop := filepath.Join(t.TempDir(), "daemon.stop")

	out := env.mustRun(t, "--format", "json", "daemon", "--production", "p",
		"--iterations", "2", "--sleep", "0s", "--stop-file", stop)
	var passes []struct {
		Pass     int `json:"pass"`
		Queued   int `json:"queued"`
		Launched int `json:"launched"`
	}
	decode(t, out, &passes)
	require.Len(t, passes, 2)
	assert.Equal(t, 1, passes[1].Queued)
	assert.Equal(t, 1, passes[1].Launched)
}

func TestCommands_VerboseReportsDatabase(t *testing.T) {
	env := newCLIEnv(t)
	for _, verbose := range []bool{false, true} {
		opts := &RootOptions{Database: env.db, Wire: env.wire}
		cmd := newRootCommand(opts)
		out, diag := &bytes.Buffer{}, &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(diag)
		args := []string{"--format", "json", "load-config", testutil.ConfigName, env.configPath}
		if verbose {
			args = append([]string{"--verbose"}, args...)
		}
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())

		if verbose {
			assert.Contains(t, diag.String(), "opening database "+env.db)
		} else {
			assert.NotContains(t, diag.String(), "opening database")
		}
		assert.NotContains(t, out.String(), "opening database")
	}
}

func TestExecute_ReportsErrors(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	code := Execute([]string{"--format", "json", "print", "--db", filepath.Join(t.TempDir(), "cm.db")}, out, diag)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out.String(), `"code":"INVALID_SELECTOR"`)

	out.Reset()
	code = Execute([]string{"--format", "yaml", "print"}, out, diag)
	assert.Equal(t, ExitCommandError, code)

	out.Reset()
	diag.Reset()
	code = Execute([]string{"no-such-command"}, out, diag)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, diag.String(), "Error [COMMAND_ERROR]")
}
