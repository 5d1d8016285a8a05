package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Block classes that are not entry levels.
const (
	ClassScript = "script"
	ClassJob    = "job"
)

// Script actions understood by the script handler.
const (
	ActionNone      = "none"      // run nothing
	ActionAssociate = "associate" // butler associate inputs into coll_in
	ActionChain     = "chain"     // butler collection-chain children outputs into coll_out
	ActionValidate  = "validate"  // run the validator on coll_out
	ActionCommand   = "command"   // run the block's command template
)

// Config is a parsed configuration document.
type Config struct {
	Blocks map[string]*Block
}

// Block is one named configuration block.
type Block struct {
	Class string `yaml:"class"`

	// Entry blocks.
	ButlerRepo  string      `yaml:"butler_repo"`
	ProdBaseURL string      `yaml:"prod_base_url"`
	RootColl    string      `yaml:"root_coll"`
	DataQuery   string      `yaml:"data_query"`
	Templates   Templates   `yaml:"templates"`
	Scripts     []ScriptRef `yaml:"scripts"`
	Steps       []ChildSpec `yaml:"steps"`
	Groups      []ChildSpec `yaml:"groups"`
	Workflows   []ChildSpec `yaml:"workflows"`
	Jobs        []ScriptRef `yaml:"jobs"`

	// Script and job blocks.
	Method     string `yaml:"method"`
	Action     string `yaml:"action"`
	Command    string `yaml:"command"`
	Checker    string `yaml:"checker"`
	Rollback   string `yaml:"rollback"`
	MaxRunning int    `yaml:"max_running"`
}

// Templates override the default naming templates of an entry block.
type Templates struct {
	CollSource   string `yaml:"coll_source"`
	CollIn       string `yaml:"coll_in"`
	CollOut      string `yaml:"coll_out"`
	CollValidate string `yaml:"coll_validate"`
	ScriptURL    string `yaml:"script_url"`
	StampURL     string `yaml:"stamp_url"`
	LogURL       string `yaml:"log_url"`
	ConfigURL    string `yaml:"config_url"`
}

// Default naming templates.
var DefaultTemplates = Templates{
	CollSource:   "{parent_coll_in}",
	CollIn:       "{root_coll}/{fullname}_input",
	CollOut:      "{root_coll}/{fullname}_output",
	CollValidate: "{root_coll}/{fullname}_validate",
	ScriptURL:    "{prod_base_url}/{fullname}/{name}_{idx:03}.sh",
	StampURL:     "{prod_base_url}/{fullname}/{name}_{idx:03}.stamp",
	LogURL:       "{prod_base_url}/{fullname}/{name}_{idx:03}.log",
	ConfigURL:    "{prod_base_url}/{fullname}/{name}_{idx:03}.yaml",
}

// WithDefaults fills unset templates from DefaultTemplates.
func (t Templates) WithDefaults() Templates {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Templates{
		CollSource:   pick(t.CollSource, DefaultTemplates.CollSource),
		CollIn:       pick(t.CollIn, DefaultTemplates.CollIn),
		CollOut:      pick(t.CollOut, DefaultTemplates.CollOut),
		CollValidate: pick(t.CollValidate, DefaultTemplates.CollValidate),
		ScriptURL:    pick(t.ScriptURL, DefaultTemplates.ScriptURL),
		StampURL:     pick(t.StampURL, DefaultTemplates.StampURL),
		LogURL:       pick(t.LogURL, DefaultTemplates.LogURL),
		ConfigURL:    pick(t.ConfigURL, DefaultTemplates.ConfigURL),
	}
}

// ScriptRef attaches a script or job block to an entry block.
type ScriptRef struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Block string `yaml:"block"`
}

// ChildSpec describes one child an entry spawns when populating.
type ChildSpec struct {
	Name          string   `yaml:"name"`
	Block         string   `yaml:"block"`
	Prerequisites []string `yaml:"prerequisites"`
	DataQuery     string   `yaml:"data_query"`
}

// Level returns the entry level of an entry block, or NoLevel for script
// and job blocks.
func (b *Block) Level() core.Level {
	l, err := core.ParseLevel(b.Class)
	if err != nil {
		return core.NoLevel
	}
	return l
}

// Children returns the child specs of an entry block.
func (b *Block) Children() []ChildSpec {
	switch b.Level() {
	case core.LevelCampaign:
		return b.Steps
	case core.LevelStep:
		return b.Groups
	case core.LevelGroup:
		return b.Workflows
	}
	return nil
}

// ScriptsOf returns the script refs of one phase.
func (b *Block) ScriptsOf(t core.ScriptType) []ScriptRef {
	var out []ScriptRef
	for _, ref := range b.Scripts {
		if core.ScriptType(ref.Type) == t {
			out = append(out, ref)
		}
	}
	return out
}

// Block returns the named block.
func (c *Config) Block(name string) (*Block, error) {
	b, ok := c.Blocks[name]
	if !ok {
		return nil, fmt.Errorf("config block %q not found", name)
	}
	return b, nil
}

// Names returns the block names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Blocks))
	for name := range c.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, data, nil
}

// Parse validates and decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	blocks := map[string]*Block{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&blocks); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(blocks) == 0 {
		return nil, errors.New("config has no blocks")
	}

	cfg := &Config{Blocks: blocks}
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}
