package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

func TestInsertEntry_AssignsAddress(t *testing.T) {
	s := createTestStore(t)

	p := insertTestEntry(t, s, nil, "P")
	c := insertTestEntry(t, s, &p, "C")
	st := insertTestEntry(t, s, &c, "step1")

	assert.Equal(t, core.MustEntryID(p.ID), p.EntryID)
	assert.Equal(t, core.MustEntryID(p.ID, c.ID), c.EntryID)
	assert.Equal(t, core.MustEntryID(p.ID, c.ID, st.ID), st.EntryID)
	assert.Equal(t, core.LevelStep, st.Level)

	got, err := s.GetEntry(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestInsertEntry_FullnameUnique(t *testing.T) {
	s := createTestStore(t)
	insertTestEntry(t, s, nil, "P")

	dup := core.Entry{Level: core.LevelProduction, Name: "P", Fullname: "P", Handler: "test"}
	err := s.InsertEntry(context.Background(), &dup)
	assert.Error(t, err)
}

func TestInsertEntry_RejectsWrongParentLevel(t *testing.T) {
	s := createTestStore(t)
	p := insertTestEntry(t, s, nil, "P")

	e := core.Entry{Level: core.LevelStep, EntryID: p.EntryID, Name: "s", Fullname: "P/s", Handler: "test"}
	err := s.InsertEntry(context.Background(), &e)
	assert.Error(t, err)
}

func TestUpdateEntryStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := insertTestEntry(t, s, nil, "P")

	require.NoError(t, s.UpdateEntryStatus(ctx, p.ID, core.StatusRunning))
	got, err := s.GetEntry(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, got.Status)

	err = s.UpdateEntryStatus(ctx, 9999, core.StatusReady)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestScriptRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := insertTestEntry(t, s, nil, "P")

	sc := core.Script{
		OwnerID:  p.ID,
		EntryID:  p.EntryID,
		Name:     "prepare",
		Type:     core.ScriptPrepare,
		Method:   core.MethodBash,
		Status:   core.StatusReady,
		Checker:  "stamp",
		Rollback: "butler",
		StampURL: "/tmp/x.stamp",
	}
	require.NoError(t, s.InsertScript(ctx, &sc))
	require.NotZero(t, sc.ID)

	sc.Status = core.StatusRunning
	sc.ExternalID = "abc"
	require.NoError(t, s.UpdateScript(ctx, sc))

	got, err := s.GetScript(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	collect, err := s.Scripts(ctx, p.ID, core.ScriptCollect, true)
	require.NoError(t, err)
	assert.Empty(t, collect)
}

func TestJobRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := insertTestEntry(t, s, nil, "P")
	c := insertTestEntry(t, s, &p, "C")
	st := insertTestEntry(t, s, &c, "s")
	g := insertTestEntry(t, s, &st, "g")
	w := insertTestEntry(t, s, &g, "w00")

	j := core.Job{
		WorkflowID: w.ID,
		EntryID:    w.EntryID,
		Name:       "job",
		Method:     core.MethodSlurm,
		Status:     core.StatusReady,
	}
	require.NoError(t, s.InsertJob(ctx, &j))

	j.Status = core.StatusFailed
	j.ErrorCode = 137
	j.DiagMessage = "killed"
	require.NoError(t, s.UpdateJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j, got)
}

func TestAddDependency_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := insertTestEntry(t, s, nil, "P")
	c := insertTestEntry(t, s, &p, "C")
	s1 := insertTestEntry(t, s, &c, "step1")
	s2 := insertTestEntry(t, s, &c, "step2")

	require.NoError(t, s.AddDependency(ctx, s2.ID, s1.EntryID))
	require.NoError(t, s.AddDependency(ctx, s2.ID, s1.EntryID))

	prereqs, err := s.Prerequisites(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, []core.EntryID{s1.EntryID}, prereqs)

	assert.Error(t, s.AddDependency(ctx, s2.ID, core.EntryID{}))
}

func TestPutConfig_Replaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, err := s.PutConfig(ctx, "example", "v: 1\n")
	require.NoError(t, err)
	id2, err := s.PutConfig(ctx, "example", "v: 2\n")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	doc, err := s.GetConfig(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "v: 2\n", doc.Body)
}

func TestReplaceErrorTypes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := []core.ErrorType{{Code: 1, Name: "oom", Action: core.ActionRescue, Rescuable: true}}
	require.NoError(t, s.ReplaceErrorTypes(ctx, first))

	second := []core.ErrorType{
		{Code: 2, Name: "timeout", DiagMessage: "walltime", Action: core.ActionRescue},
		{Code: 3, Name: "bad_input", Action: core.ActionFail, Resolved: true},
	}
	require.NoError(t, s.ReplaceErrorTypes(ctx, second))

	got, err := s.ErrorTypes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "timeout", got[0].Name)
	assert.Equal(t, core.ActionFail, got[1].Action)
	assert.True(t, got[1].Resolved)
}
