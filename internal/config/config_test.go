package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

func TestLoad_Example(t *testing.T) {
	cfg, data, err := Load("testdata/example.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	camp, err := cfg.Block("campaign")
	require.NoError(t, err)
	assert.Equal(t, core.LevelCampaign, camp.Level())
	require.Len(t, camp.Children(), 2)
	assert.Equal(t, []string{"step1"}, camp.Children()[1].Prerequisites)
	require.Len(t, camp.ScriptsOf(core.ScriptPrepare), 1)
	assert.Empty(t, camp.ScriptsOf(core.ScriptValidate))

	job, err := cfg.Block("pipetask")
	require.NoError(t, err)
	assert.Equal(t, core.NoLevel, job.Level())
	assert.Equal(t, 10, job.MaxRunning)

	_, err = cfg.Block("nope")
	assert.Error(t, err)
}

func TestParse_SchemaRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(`
p:
  class: production
  colour: blue
`))
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ErrSchema, verrs[0].Code)
}

func TestParse_SchemaRejectsBadEnum(t *testing.T) {
	_, err := Parse([]byte(`
s:
  class: script
  method: carrier-pigeon
`))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte(""))
	require.Error(t, err)
}

func TestValidate_CrossReferences(t *testing.T) {
	_, err := Parse([]byte(`
camp:
  class: campaign
  scripts:
    - name: x
      type: prepare
      block: missing
  steps:
    - name: b
      block: camp
      prerequisites: [a]
`))
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	codes := map[string]bool{}
	for _, e := range verrs {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrMissingBlock])
	assert.True(t, codes[ErrWrongClass])
	assert.True(t, codes[ErrUnknownPrerequisite])
}

func TestValidate_ChildrenOnWrongLevel(t *testing.T) {
	cfg := &Config{Blocks: map[string]*Block{
		"g": {Class: "group", Steps: []ChildSpec{{Name: "x", Block: "g"}}},
	}}
	errs := Validate(cfg)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrChildrenNotAllowed, errs[0].Code)
}

func TestValidate_CommandNeedsTemplate(t *testing.T) {
	cfg := &Config{Blocks: map[string]*Block{
		"j": {Class: ClassJob, Method: "slurm", Action: ActionCommand},
	}}
	errs := Validate(cfg)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrMissingCommand, errs[0].Code)
}

func TestTemplates_WithDefaults(t *testing.T) {
	got := Templates{CollIn: "custom"}.WithDefaults()
	assert.Equal(t, "custom", got.CollIn)
	assert.Equal(t, DefaultTemplates.CollOut, got.CollOut)
}

func TestExpand(t *testing.T) {
	vars := Vars{"prod_base_url": "/tmp/cm", "fullname": "P/C", "name": "prepare", "idx": 3}

	got, err := Expand(DefaultTemplates.ScriptURL, vars)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cm/P/C/prepare_003.sh", got)

	got, err = Expand("w{idx:02}", vars)
	require.NoError(t, err)
	assert.Equal(t, "w03", got)

	_, err = Expand("{missing}", vars)
	assert.Error(t, err)
	_, err = Expand("{name:03}", vars)
	assert.Error(t, err)
	_, err = Expand("{name", vars)
	assert.Error(t, err)
}

func TestLoadErrorTypes(t *testing.T) {
	types, err := LoadErrorTypes("testdata/error_types.yaml")
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, core.ActionRescue, types[0].Action)
	assert.True(t, types[0].Rescuable)
	assert.Equal(t, 1, types[1].Code)

	_, err = ParseErrorTypes([]byte("- name: x\n  action: explode\n"))
	assert.Error(t, err)
	_, err = ParseErrorTypes([]byte("- name: x\n  action: fail\n- name: x\n  action: fail\n"))
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CM_TEST_STR", "value")
	t.Setenv("CM_TEST_BOOL", "true")
	t.Setenv("CM_TEST_INT", "nope")
	t.Setenv("CM_TEST_LIST", "a, b,c")

	assert.Equal(t, "value", EnvString("CM_TEST_STR", "def"))
	assert.Equal(t, "def", EnvString("CM_TEST_UNSET", "def"))

	b, err := EnvBool("CM_TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = EnvInt("CM_TEST_INT", 1)
	assert.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, EnvList("CM_TEST_LIST", nil))
}
