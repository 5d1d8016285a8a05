package cli

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/engine"
)

func sampleTree() *engine.Node {
	return &engine.Node{
		Entry: core.Entry{Level: core.LevelProduction, Name: "p", Status: core.StatusRunning},
		Children: []*engine.Node{{
			Entry: core.Entry{Level: core.LevelCampaign, Name: "c", Status: core.StatusRunning},
			Scripts: []core.Script{
				{Name: "ancillary", Type: core.ScriptPrepare, Status: core.StatusCompleted},
			},
			Children: []*engine.Node{
				{
					Entry: core.Entry{Level: core.LevelStep, Name: "step1", Status: core.StatusReviewable},
					Scripts: []core.Script{
						{Name: "validate", Type: core.ScriptValidate, Status: core.StatusFailed, Superseded: true},
						{Name: "validate", Idx: 1, Type: core.ScriptValidate, Status: core.StatusRunning},
					},
					Children: []*engine.Node{{
						Entry: core.Entry{Level: core.LevelGroup, Name: "group0", Status: core.StatusAccepted},
						Children: []*engine.Node{{
							Entry: core.Entry{Level: core.LevelWorkflow, Name: "w00", Status: core.StatusFailed},
							Jobs: []core.Job{
								{Name: "run", Status: core.StatusFailed, ErrorCode: 137, Superseded: true},
								{Name: "run", Idx: 1, Status: core.StatusRunning},
							},
						}},
					}},
				},
				{Entry: core.Entry{Level: core.LevelStep, Name: "step2", Status: core.StatusWaiting}},
			},
		}},
	}
}

func TestRenderTree_Golden(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, renderTree(buf, sampleTree(), false))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "print_tree", buf.Bytes())
}

func TestPaint(t *testing.T) {
	assert.Equal(t, "failed", paint(core.StatusFailed, false))
	assert.Equal(t, ansiRed+"failed"+ansiReset, paint(core.StatusFailed, true))
	assert.Equal(t, ansiGreen+"accepted"+ansiReset, paint(core.StatusAccepted, true))
	assert.Equal(t, ansiYellow+"reviewable"+ansiReset, paint(core.StatusReviewable, true))
	assert.Equal(t, ansiBlue+"running"+ansiReset, paint(core.StatusRunning, true))
	assert.Equal(t, "waiting", paint(core.StatusWaiting, true))
}

func TestUseColor_NotTerminal(t *testing.T) {
	assert.False(t, useColor(&bytes.Buffer{}))
}
