package core

import "fmt"

// Level is a rank in the processing hierarchy.
type Level int

// NoLevel is returned by EntryID.Level for an empty id.
const NoLevel Level = -1

const (
	// LevelProduction is a family of related campaigns.
	LevelProduction Level = iota
	// LevelCampaign is a full data processing campaign.
	LevelCampaign
	// LevelStep is a part of a campaign that finishes before the next one starts.
	LevelStep
	// LevelGroup is a subset of a step's data processed in parallel with its siblings.
	LevelGroup
	// LevelWorkflow is a single batch workflow.
	LevelWorkflow
)

// NumLevels is the number of ranks in the hierarchy.
const NumLevels = 5

var levelNames = [NumLevels]string{"production", "campaign", "step", "group", "workflow"}

// Levels lists every level from the top of the hierarchy down.
func Levels() []Level {
	return []Level{LevelProduction, LevelCampaign, LevelStep, LevelGroup, LevelWorkflow}
}

// Valid reports whether l is one of the five ranks.
func (l Level) Valid() bool {
	return l >= LevelProduction && l <= LevelWorkflow
}

// Parent returns the level above l; ok is false for production.
func (l Level) Parent() (Level, bool) {
	if l <= LevelProduction || !l.Valid() {
		return NoLevel, false
	}
	return l - 1, true
}

// Child returns the level below l; ok is false for workflow.
func (l Level) Child() (Level, bool) {
	if l >= LevelWorkflow || !l.Valid() {
		return NoLevel, false
	}
	return l + 1, true
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return NoLevel, fmt.Errorf("unknown level %q", s)
}
