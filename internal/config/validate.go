package config

import (
	"fmt"
	"strings"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Validation error codes (E200-E299)
const (
	ErrSchema = "E200" // CUE schema violation

	// Block errors (E201-E209)
	ErrUnknownClass   = "E201" // class is not a level, script or job
	ErrMissingBlock   = "E202" // referenced block does not exist
	ErrWrongClass     = "E203" // referenced block has the wrong class
	ErrDuplicateName  = "E204" // two children or scripts share a name
	ErrInvalidMethod  = "E205" // unknown execution method
	ErrInvalidAction  = "E206" // unknown script action
	ErrMissingCommand = "E207" // action command without a command template

	// Child errors (E210-E219)
	ErrUnknownPrerequisite = "E210" // prerequisite names no earlier sibling
	ErrChildrenNotAllowed  = "E211" // block level cannot spawn that kind of child
	ErrInvalidScriptType   = "E212" // script ref has no valid type
)

// ValidationError is one problem found in a configuration document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem in a document.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks cross-block references. Returns all errors found (does
// not fail-fast).
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for _, name := range cfg.Names() {
		b := cfg.Blocks[name]
		switch {
		case b.Class == ClassScript || b.Class == ClassJob:
			if _, err := core.ParseMethod(b.Method); err != nil {
				add(name+".method", ErrInvalidMethod, "%v", err)
			}
			switch b.Action {
			case "", ActionNone, ActionAssociate, ActionChain, ActionValidate:
			case ActionCommand:
				if b.Command == "" {
					add(name+".command", ErrMissingCommand, "action %q needs a command", b.Action)
				}
			default:
				add(name+".action", ErrInvalidAction, "unknown action %q", b.Action)
			}
			continue
		case b.Level() == core.NoLevel:
			add(name+".class", ErrUnknownClass, "unknown class %q", b.Class)
			continue
		}

		seen := map[string]bool{}
		for i, ref := range b.Scripts {
			field := fmt.Sprintf("%s.scripts[%d]", name, i)
			if _, err := core.ParseScriptType(ref.Type); err != nil {
				add(field+".type", ErrInvalidScriptType, "%v", err)
			}
			if seen[ref.Name] {
				add(field+".name", ErrDuplicateName, "script %q listed twice", ref.Name)
			}
			seen[ref.Name] = true
			checkRef(cfg, field+".block", ref.Block, ClassScript, add)
		}

		if len(b.Jobs) > 0 && b.Level() != core.LevelWorkflow {
			add(name+".jobs", ErrChildrenNotAllowed, "only workflow blocks have jobs")
		}
		for i, ref := range b.Jobs {
			checkRef(cfg, fmt.Sprintf("%s.jobs[%d].block", name, i), ref.Block, ClassJob, add)
		}

		for _, f := range []struct {
			field string
			specs []ChildSpec
			level core.Level
		}{
			{"steps", b.Steps, core.LevelCampaign},
			{"groups", b.Groups, core.LevelStep},
			{"workflows", b.Workflows, core.LevelGroup},
		} {
			if len(f.specs) > 0 && b.Level() != f.level {
				add(name+"."+f.field, ErrChildrenNotAllowed, "%s blocks cannot list %s", b.Class, f.field)
			}
		}

		childLevel, _ := b.Level().Child()
		siblings := map[string]bool{}
		for i, child := range b.Children() {
			field := fmt.Sprintf("%s.children[%d]", name, i)
			if siblings[child.Name] {
				add(field+".name", ErrDuplicateName, "child %q listed twice", child.Name)
			}
			for _, pre := range child.Prerequisites {
				if !siblings[pre] {
					add(field+".prerequisites", ErrUnknownPrerequisite, "%q is not an earlier sibling of %q", pre, child.Name)
				}
			}
			siblings[child.Name] = true
			checkRef(cfg, field+".block", child.Block, childLevel.String(), add)
		}
	}
	return errs
}

func checkRef(cfg *Config, field, ref, class string, add func(field, code, format string, args ...any)) {
	target, ok := cfg.Blocks[ref]
	if !ok {
		add(field, ErrMissingBlock, "block %q not found", ref)
		return
	}
	if target.Class != class {
		add(field, ErrWrongClass, "block %q has class %q, want %q", ref, target.Class, class)
	}
}
