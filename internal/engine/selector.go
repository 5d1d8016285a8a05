package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Selector addresses one entry either by fullname or by per-level names.
type Selector struct {
	Fullname string
	// Names holds one name per level, production first. Set names must be
	// contiguous from the production.
	Names [core.NumLevels]string
}

// IsZero reports whether the selector names nothing.
func (s Selector) IsZero() bool {
	return s.Fullname == "" && s.Names == [core.NumLevels]string{}
}

// Path returns the fullname the selector addresses.
func (s Selector) Path() (string, error) {
	hasNames := s.Names != [core.NumLevels]string{}
	switch {
	case s.Fullname != "" && hasNames:
		return "", newContractError(ErrCodeInvalidSelector, s.Fullname, "fullname and level names are mutually exclusive")
	case s.Fullname != "":
		if _, err := core.SplitFullname(s.Fullname); err != nil {
			return "", newContractError(ErrCodeInvalidSelector, s.Fullname, "%v", err)
		}
		return s.Fullname, nil
	case !hasNames:
		return "", newContractError(ErrCodeInvalidSelector, "", "no entry selected")
	}

	var parts []string
	for i, name := range s.Names {
		if name == "" {
			for _, rest := range s.Names[i+1:] {
				if rest != "" {
					return "", newContractError(ErrCodeInvalidSelector, strings.Join(parts, core.FullnameSeparator),
						"%s name missing above %q", core.Level(i), rest)
				}
			}
			break
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, core.FullnameSeparator), nil
}

// Resolve returns the entry sel addresses. Level names follow regeneration:
// when the named entry was superseded and regenerated, the live entry that
// replaced it is returned. A fullname is always taken literally.
func (e *Engine) Resolve(ctx context.Context, sel Selector) (core.Entry, error) {
	path, err := sel.Path()
	if err != nil {
		return core.Entry{}, err
	}
	var ent core.Entry
	err = e.db.RunInTx(ctx, func(tx core.DB) error {
		ent, err = tx.GetEntryByFullname(ctx, path)
		if err != nil {
			return err
		}
		if sel.Fullname != "" || !ent.Superseded || ent.ParentID == 0 {
			return nil
		}
		live, err := e.livePrerequisite(ctx, tx, ent.EntryID)
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ent = live
		return nil
	})
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return ent, nil
}
