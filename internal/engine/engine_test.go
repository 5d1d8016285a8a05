package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/testutil"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *testutil.Fixture) {
	t.Helper()
	f := testutil.NewFixture(t)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(f.Store, f.Handlers, opts...), f
}

// newCampaign inserts production p with campaign c.
func newCampaign(t *testing.T, f *testutil.Fixture) (core.Entry, core.Entry) {
	t.Helper()
	p := f.Insert(t, nil, "production", "p")
	c := f.Insert(t, &p, "campaign", "c")
	return p, c
}

// newWorkflow inserts p/c/s/g and a workflow w from block under it.
func newWorkflow(t *testing.T, f *testutil.Fixture, block string) core.Entry {
	t.Helper()
	_, c := newCampaign(t, f)
	s := f.Insert(t, &c, "step", "s")
	g := f.Insert(t, &s, "group", "g")
	return f.Insert(t, &g, block, "w")
}

func mustCheck(t *testing.T, e *Engine, root core.EntryID) Result {
	t.Helper()
	res, err := e.Check(context.Background(), root)
	require.NoError(t, err)
	return res
}

// finishJobs queues, launches and reports every job under root as status.
func finishJobs(t *testing.T, e *Engine, root core.EntryID, status core.Status) {
	t.Helper()
	ctx := context.Background()
	_, err := e.Queue(ctx, root)
	require.NoError(t, err)
	_, err = e.Launch(ctx, root, 100)
	require.NoError(t, err)
	_, err = e.FakeRun(ctx, root, status)
	require.NoError(t, err)
}

// runStepToReview drives step1 of a fresh campaign to reviewable.
func runStepToReview(t *testing.T, e *Engine, f *testutil.Fixture, p core.Entry) {
	t.Helper()
	mustCheck(t, e, p.EntryID)
	finishJobs(t, e, p.EntryID, core.StatusAccepted)
	mustCheck(t, e, p.EntryID)
	require.Equal(t, core.StatusValidating, f.EntryByName(t, "p/c/step1").Status)

	n, err := e.FakeRun(context.Background(), p.EntryID, core.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the validate script should be running")
	mustCheck(t, e, p.EntryID)
	require.Equal(t, core.StatusReviewable, f.EntryByName(t, "p/c/step1").Status)
}

func TestCheck_SpawnsTreeAndWaitsForJobs(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)

	res := mustCheck(t, e, p.EntryID)
	assert.Greater(t, res.Iterations, 1)
	assert.NotEmpty(t, res.Changes)

	assert.Equal(t, core.StatusPopulating, f.EntryByName(t, "p").Status)
	assert.Equal(t, core.StatusPopulating, f.EntryByName(t, "p/c").Status)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p/c/step1").Status)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p/c/step1/group0").Status)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p/c/step1/group0/w00").Status)
	assert.Equal(t, core.StatusWaiting, f.EntryByName(t, "p/c/step2").Status)

	w := f.EntryByName(t, "p/c/step1/group0/w00")
	jobs, err := f.Store.Jobs(context.Background(), w.ID, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "run", jobs[0].Name)
	assert.Equal(t, core.StatusReady, jobs[0].Status)
}

func TestCheck_SecondCheckChangesNothing(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)

	mustCheck(t, e, p.EntryID)
	res := mustCheck(t, e, p.EntryID)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.Changes)
}

func TestCheck_DependencyGate(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)

	runStepToReview(t, e, f, p)

	// reviewable is not accepted, so step2 stays behind the gate.
	mustCheck(t, e, p.EntryID)
	assert.Equal(t, core.StatusWaiting, f.EntryByName(t, "p/c/step2").Status)

	step1 := f.EntryByName(t, "p/c/step1")
	changes, err := e.Accept(context.Background(), step1.EntryID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Fullname: "p/c/step1", Level: core.LevelStep, From: core.StatusReviewable, To: core.StatusAccepted}, changes[0])

	mustCheck(t, e, p.EntryID)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p/c/step2").Status)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p/c").Status)
	assert.Equal(t, core.StatusRunning, f.EntryByName(t, "p").Status)
}

func TestCheck_CampaignRunsToAccepted(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)
	ctx := context.Background()

	runStepToReview(t, e, f, p)
	_, err := e.Accept(ctx, f.EntryByName(t, "p/c/step1").EntryID)
	require.NoError(t, err)

	mustCheck(t, e, p.EntryID)
	finishJobs(t, e, p.EntryID, core.StatusAccepted)
	mustCheck(t, e, p.EntryID)
	_, err = e.FakeRun(ctx, p.EntryID, core.StatusCompleted)
	require.NoError(t, err)
	mustCheck(t, e, p.EntryID)
	require.Equal(t, core.StatusReviewable, f.EntryByName(t, "p/c/step2").Status)

	_, err = e.Accept(ctx, p.EntryID)
	require.NoError(t, err)
	mustCheck(t, e, p.EntryID)

	assert.Equal(t, core.StatusAccepted, f.EntryByName(t, "p/c/step2").Status)
	assert.Equal(t, core.StatusAccepted, f.EntryByName(t, "p/c").Status)
	assert.Equal(t, core.StatusAccepted, f.EntryByName(t, "p").Status)

	// The collect script chains every step output into the campaign output.
	c := f.EntryByName(t, "p/c")
	collect, err := f.Store.Scripts(ctx, c.ID, core.ScriptCollect, false)
	require.NoError(t, err)
	require.Len(t, collect, 1)
	assert.Equal(t, core.StatusAccepted, collect[0].Status)
}

// workStatuses maps every live script and job under root to its status.
func workStatuses(t *testing.T, f *testutil.Fixture, root core.EntryID) map[string]core.Status {
	t.Helper()
	ctx := context.Background()
	out := map[string]core.Status{}
	for st := core.StatusFailed; st <= core.StatusAccepted; st++ {
		scripts, err := f.Store.MatchingScripts(ctx, root, st)
		require.NoError(t, err)
		for _, sc := range scripts {
			out[fmt.Sprintf("script %d %s", sc.ID, sc.Name)] = sc.Status
		}
		jobs, err := f.Store.MatchingJobs(ctx, root, st)
		require.NoError(t, err)
		for _, j := range jobs {
			out[fmt.Sprintf("job %d %s", j.ID, j.Name)] = j.Status
		}
	}
	return out
}

func TestCheck_StatusNeverDecreases(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)
	ctx := context.Background()

	var changes []Change
	prev := workStatuses(t, f, p.EntryID)
	step := func(name string, run func()) {
		t.Helper()
		run()
		cur := workStatuses(t, f, p.EntryID)
		for key, before := range prev {
			after, ok := cur[key]
			if !ok {
				continue
			}
			assert.True(t, after >= before || after.Bad(), "%s: %s %s -> %s", name, key, before, after)
		}
		prev = cur
	}
	check := func() {
		changes = append(changes, mustCheck(t, e, p.EntryID).Changes...)
	}
	accept := func(fullname string) func() {
		return func() {
			got, err := e.Accept(ctx, f.EntryByName(t, fullname).EntryID)
			require.NoError(t, err)
			changes = append(changes, got...)
		}
	}
	fakeRun := func(status core.Status) func() {
		return func() {
			_, err := e.FakeRun(ctx, p.EntryID, status)
			require.NoError(t, err)
		}
	}
	jobs := func() { finishJobs(t, e, p.EntryID, core.StatusAccepted) }

	for _, s := range []struct {
		name string
		run  func()
	}{
		{"spawn", check},
		{"step1 jobs", jobs},
		{"step1 collect", check},
		{"step1 validate", fakeRun(core.StatusCompleted)},
		{"step1 review", check},
		{"accept step1", accept("p/c/step1")},
		{"spawn step2", check},
		{"step2 jobs", jobs},
		{"step2 collect", check},
		{"step2 validate", fakeRun(core.StatusCompleted)},
		{"step2 review", check},
		{"accept p", accept("p")},
		{"finish", check},
	} {
		step(s.name, s.run)
	}

	require.Equal(t, core.StatusAccepted, f.EntryByName(t, "p").Status)
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.True(t, c.To > c.From || c.To.Bad(), "%s: %s -> %s", c.Fullname, c.From, c.To)
	}
}

func TestCheck_FailedJobFailsWorkflow(t *testing.T) {
	e, f := newTestEngine(t)
	ctx := context.Background()
	w := newWorkflow(t, f, "workflow3")

	mustCheck(t, e, w.EntryID)
	require.Equal(t, core.StatusRunning, f.Entry(t, w.ID).Status)
	_, err := e.Queue(ctx, w.EntryID)
	require.NoError(t, err)
	launched, err := e.Launch(ctx, w.EntryID, 3)
	require.NoError(t, err)
	require.Len(t, launched, 3)

	for _, j := range launched {
		status := core.StatusAccepted
		if j.Name == "c" {
			status = core.StatusFailed
		}
		f.Fake.SetStatus(j.ExternalID, status)
	}

	mustCheck(t, e, w.EntryID)
	assert.Equal(t, core.StatusFailed, f.Entry(t, w.ID).Status)
}

func TestCheck_IterationLimit(t *testing.T) {
	e, f := newTestEngine(t, WithMaxIterations(1))
	p, _ := newCampaign(t, f)

	_, err := e.Check(context.Background(), p.EntryID)
	require.Error(t, err)
	assert.True(t, IsIterationsExceeded(err))
}

func TestCheck_ContextCanceled(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Check(ctx, p.EntryID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.StatusWaiting, f.Entry(t, p.ID).Status)
}

func TestPrepare_OnlyTouchesRoot(t *testing.T) {
	e, f := newTestEngine(t)
	_, c := newCampaign(t, f)

	changes, err := e.Prepare(context.Background(), c.EntryID)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	assert.Equal(t, core.StatusPrepared, f.Entry(t, c.ID).Status)

	children, err := f.Store.Children(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestRollback_RerunReproducesScripts(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)
	ctx := context.Background()

	runStepToReview(t, e, f, p)
	step1 := f.EntryByName(t, "p/c/step1")
	before := liveScriptNames(t, f, step1.ID)

	changes, err := e.Rollback(ctx, step1.EntryID, core.StatusWaiting)
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, "p/c/step1", last.Fullname)
	assert.Equal(t, core.StatusReviewable, last.From)
	assert.Equal(t, core.StatusWaiting, last.To)

	assert.True(t, f.EntryByName(t, "p/c/step1/group0").Superseded)
	assert.True(t, f.EntryByName(t, "p/c/step1/group0/w00").Superseded)
	assert.NotEmpty(t, f.Fake.Removed(), "rollback should remove output collections")

	runStepToReview(t, e, f, p)
	assert.Equal(t, before, liveScriptNames(t, f, step1.ID))

	regen := f.EntryByName(t, "p/c/step1/group0_01")
	assert.False(t, regen.Superseded)
	assert.Equal(t, core.StatusAccepted, regen.Status)

	all, err := f.Store.Scripts(ctx, step1.ID, core.ScriptValidate, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRollback_FailedStepWithUnrunWork(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)
	ctx := context.Background()

	mustCheck(t, e, p.EntryID)
	step1 := f.EntryByName(t, "p/c/step1")
	require.Equal(t, core.StatusRunning, step1.Status)
	require.NoError(t, f.Store.UpdateEntryStatus(ctx, step1.ID, core.StatusFailed))

	_, err := e.Rollback(ctx, step1.EntryID, core.StatusReady)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, f.Entry(t, step1.ID).Status)
	assert.Empty(t, f.Fake.Removed(), "nothing under step1 was submitted")
	assert.Empty(t, f.Fake.Submitted())
}

func liveScriptNames(t *testing.T, f *testutil.Fixture, ownerID int64) []string {
	t.Helper()
	var names []string
	for _, st := range core.ScriptTypes() {
		scripts, err := f.Store.Scripts(context.Background(), ownerID, st, false)
		require.NoError(t, err)
		for _, sc := range scripts {
			names = append(names, string(st)+":"+sc.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestRollback_Contract(t *testing.T) {
	e, f := newTestEngine(t)
	ctx := context.Background()
	w := newWorkflow(t, f, "workflow")
	mustCheck(t, e, w.EntryID)
	require.Equal(t, core.StatusRunning, f.Entry(t, w.ID).Status)

	t.Run("above current", func(t *testing.T) {
		_, err := e.Rollback(ctx, w.EntryID, core.StatusCompleted)
		require.Error(t, err)
		assert.True(t, IsRollbackAboveCurrent(err))
		assert.Equal(t, core.StatusRunning, f.Entry(t, w.ID).Status)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		changes, err := e.Rollback(ctx, w.EntryID, core.StatusRunning)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("bad target", func(t *testing.T) {
		_, err := e.Rollback(ctx, w.EntryID, core.StatusFailed)
		require.Error(t, err)
		assert.True(t, IsContractError(err))
	})

	t.Run("to populating replaces jobs", func(t *testing.T) {
		_, err := e.Rollback(ctx, w.EntryID, core.StatusPopulating)
		require.NoError(t, err)
		jobs, err := f.Store.Jobs(ctx, w.ID, false)
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.Empty(t, f.Fake.Removed(), "the job never ran")

		mustCheck(t, e, w.EntryID)
		jobs, err = f.Store.Jobs(ctx, w.ID, false)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 1, jobs[0].Idx)
	})
}

func TestReject(t *testing.T) {
	e, f := newTestEngine(t)
	ctx := context.Background()
	w := newWorkflow(t, f, "workflow")

	mustCheck(t, e, w.EntryID)
	finishJobs(t, e, w.EntryID, core.StatusAccepted)
	mustCheck(t, e, w.EntryID)
	require.Equal(t, core.StatusAccepted, f.Entry(t, w.ID).Status)

	_, err := e.Reject(ctx, w.EntryID)
	require.Error(t, err)
	assert.True(t, IsRejectAccepted(err))
	assert.Equal(t, core.StatusAccepted, f.Entry(t, w.ID).Status)

	g := f.Entry(t, w.ParentID)
	changes, err := e.Reject(ctx, g.EntryID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, core.StatusRejected, f.Entry(t, g.ID).Status)

	changes, err = e.Reject(ctx, g.EntryID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestSupersede(t *testing.T) {
	e, f := newTestEngine(t)
	p, _ := newCampaign(t, f)
	mustCheck(t, e, p.EntryID)

	step1 := f.EntryByName(t, "p/c/step1")
	n, err := e.Supersede(context.Background(), step1.EntryID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, name := range []string{"p/c/step1", "p/c/step1/group0", "p/c/step1/group0/w00"} {
		assert.True(t, f.EntryByName(t, name).Superseded, name)
	}
	w := f.EntryByName(t, "p/c/step1/group0/w00")
	jobs, err := f.Store.Jobs(context.Background(), w.ID, false)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	n, err = e.Supersede(context.Background(), step1.EntryID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
