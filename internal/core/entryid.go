package core

import (
	"fmt"
	"strings"
)

// EntryID addresses one entry, or every entry below an ancestor.
//
// It holds one row id per level. A key at level L may only be set when every
// key above it is also set, so an EntryID never skips a rank. The zero value
// is the empty selector and matches everything.
//
// EntryID is a comparable value type and can be used as a map key.
type EntryID struct {
	keys [NumLevels]int64
}

// NewEntryID builds an id from keys given top-down, starting at production.
func NewEntryID(keys ...int64) (EntryID, error) {
	var id EntryID
	if len(keys) > NumLevels {
		return id, fmt.Errorf("entry id: %d keys, at most %d allowed", len(keys), NumLevels)
	}
	for i, k := range keys {
		if k <= 0 {
			return EntryID{}, fmt.Errorf("entry id: %s key must be positive, got %d", Level(i), k)
		}
		id.keys[i] = k
	}
	return id, nil
}

// MustEntryID is NewEntryID for literals in tests and fixtures. It panics on
// invalid input.
func MustEntryID(keys ...int64) EntryID {
	id, err := NewEntryID(keys...)
	if err != nil {
		panic(err)
	}
	return id
}

// Level returns the deepest set rank, or NoLevel for the empty id.
func (id EntryID) Level() Level {
	for l := LevelWorkflow; l >= LevelProduction; l-- {
		if id.keys[l] != 0 {
			return l
		}
	}
	return NoLevel
}

// IsZero reports whether no key is set.
func (id EntryID) IsZero() bool {
	return id.Level() == NoLevel
}

// Get returns the key at level l, or 0 if unset.
func (id EntryID) Get(l Level) int64 {
	if !l.Valid() {
		return 0
	}
	return id.keys[l]
}

// Extend returns a copy of id with key set at level l.
// Every level above l must already be set. Keys below l are dropped.
func (id EntryID) Extend(l Level, key int64) (EntryID, error) {
	if !l.Valid() {
		return EntryID{}, fmt.Errorf("extend entry id: invalid level %d", int(l))
	}
	if key <= 0 {
		return EntryID{}, fmt.Errorf("extend entry id: %s key must be positive, got %d", l, key)
	}
	for above := LevelProduction; above < l; above++ {
		if id.keys[above] == 0 {
			return EntryID{}, fmt.Errorf("extend entry id %s: %s key unset, cannot set %s", id, above, l)
		}
	}
	out := id.Truncate(l)
	out.keys[l] = key
	return out, nil
}

// Truncate returns id with every key below l cleared.
func (id EntryID) Truncate(l Level) EntryID {
	var out EntryID
	for i := LevelProduction; i <= l && i.Valid(); i++ {
		out.keys[i] = id.keys[i]
	}
	return out
}

// Parent returns the id one rank up. ok is false for the empty id and for
// production ids.
func (id EntryID) Parent() (EntryID, bool) {
	l := id.Level()
	parent, ok := l.Parent()
	if !ok {
		return EntryID{}, false
	}
	return id.Truncate(parent), true
}

// Contains reports whether other lies within the subtree that id selects.
// An id contains itself; the empty id contains everything.
func (id EntryID) Contains(other EntryID) bool {
	for _, l := range Levels() {
		if id.keys[l] == 0 {
			return true
		}
		if id.keys[l] != other.keys[l] {
			return false
		}
	}
	return true
}

// Keys returns the set keys top-down.
func (id EntryID) Keys() []int64 {
	n := int(id.Level()) + 1
	out := make([]int64, n)
	copy(out, id.keys[:n])
	return out
}

// Validate checks the no-skipped-rank invariant.
func (id EntryID) Validate() error {
	seenUnset := false
	for _, l := range Levels() {
		switch {
		case id.keys[l] < 0:
			return fmt.Errorf("entry id: negative %s key %d", l, id.keys[l])
		case id.keys[l] == 0:
			seenUnset = true
		case seenUnset:
			return fmt.Errorf("entry id: %s key set below an unset level", l)
		}
	}
	return nil
}

// String renders the id as "p=1 c=2", or "*" for the empty id.
func (id EntryID) String() string {
	if id.IsZero() {
		return "*"
	}
	parts := make([]string, 0, NumLevels)
	for _, l := range Levels() {
		if id.keys[l] == 0 {
			break
		}
		parts = append(parts, fmt.Sprintf("%c=%d", l.String()[0], id.keys[l]))
	}
	return strings.Join(parts, " ")
}
