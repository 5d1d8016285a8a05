package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

type errorTypeDoc struct {
	Name        string `yaml:"name"`
	Code        int    `yaml:"code"`
	DiagMessage string `yaml:"diagnostic_message"`
	Flavor      string `yaml:"flavor"`
	Action      string `yaml:"action"`
	Resolved    bool   `yaml:"resolved"`
	Rescuable   bool   `yaml:"rescuable"`
}

// LoadErrorTypes reads an error-type table: a YAML list of classified
// batch-system errors.
func LoadErrorTypes(path string) ([]core.ErrorType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error types %s: %w", path, err)
	}
	return ParseErrorTypes(data)
}

// ParseErrorTypes decodes an error-type table.
func ParseErrorTypes(data []byte) ([]core.ErrorType, error) {
	var docs []errorTypeDoc
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode error types: %w", err)
	}

	seen := map[string]bool{}
	out := make([]core.ErrorType, 0, len(docs))
	for i, d := range docs {
		if d.Name == "" {
			return nil, fmt.Errorf("error type %d: name is required", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("error type %q listed twice", d.Name)
		}
		seen[d.Name] = true

		action := core.ErrorAction(d.Action)
		switch action {
		case core.ActionIgnore, core.ActionRescue, core.ActionReview, core.ActionFail:
		default:
			return nil, fmt.Errorf("error type %q: unknown action %q", d.Name, d.Action)
		}
		out = append(out, core.ErrorType{
			Code:        d.Code,
			Name:        d.Name,
			DiagMessage: d.DiagMessage,
			Flavor:      d.Flavor,
			Action:      action,
			Resolved:    d.Resolved,
			Rescuable:   d.Rescuable,
		})
	}
	return out, nil
}
