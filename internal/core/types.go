package core

import (
	"fmt"
	"regexp"
)

// Entry is a node of the processing hierarchy.
//
// One struct serves every level; Level says which rank the row is. Fields
// that the original hierarchy resolved through parent links (ButlerRepo,
// ProdBaseURL, RootColl) are copied down from the parent at insert time.
type Entry struct {
	ID       int64
	Level    Level
	EntryID  EntryID // keys of every ancestor plus ID at Level
	ParentID int64   // 0 for productions
	Name     string
	Fullname string // slash-joined ancestor names, immutable and unique
	Idx      int

	Status     Status
	Superseded bool

	// Handler is the class identifier used to resolve the EntryHandler.
	Handler     string
	ConfigID    int64
	ConfigBlock string

	ButlerRepo  string
	ProdBaseURL string
	RootColl    string

	CollSource   string
	CollIn       string
	CollOut      string
	CollValidate string
	DataQuery    string
}

// ScriptType is the lifecycle phase a script belongs to.
type ScriptType string

const (
	ScriptPrepare  ScriptType = "prepare"
	ScriptCollect  ScriptType = "collect"
	ScriptValidate ScriptType = "validate"
)

// ScriptTypes lists the script phases in lifecycle order.
func ScriptTypes() []ScriptType {
	return []ScriptType{ScriptPrepare, ScriptCollect, ScriptValidate}
}

// ParseScriptType converts a phase name to a ScriptType.
func ParseScriptType(s string) (ScriptType, error) {
	switch t := ScriptType(s); t {
	case ScriptPrepare, ScriptCollect, ScriptValidate:
		return t, nil
	}
	return "", fmt.Errorf("unknown script type %q", s)
}

// Method selects how a script or job is executed.
type Method string

const (
	MethodNoScript Method = "no_script" // nothing to run, completes immediately
	MethodBash     Method = "bash"      // local shell, stamp file signals completion
	MethodSlurm    Method = "slurm"     // sbatch submission, sacct polling
	MethodRemote   Method = "remote"    // remote workflow service over HTTP
	MethodFake     Method = "fake"      // records submissions, runs nothing
)

// ParseMethod converts a method name to a Method. An empty name means bash.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case "":
		return MethodBash, nil
	case MethodNoScript, MethodBash, MethodSlurm, MethodRemote, MethodFake:
		return m, nil
	}
	return "", fmt.Errorf("unknown method %q", s)
}

// Script is a local, idempotent action attached to one entry.
type Script struct {
	ID      int64
	OwnerID int64   // entry row id
	EntryID EntryID // owner's address, used for subtree queries
	Name    string
	Idx     int
	Type    ScriptType
	Method  Method

	Status     Status
	Superseded bool

	ConfigID    int64
	ConfigBlock string
	Checker     string
	Rollback    string

	Command    string
	CollOut    string
	ScriptURL  string
	StampURL   string
	LogURL     string
	ExternalID string
}

// Job is a batch submission attached to a workflow entry.
type Job struct {
	ID         int64
	WorkflowID int64
	EntryID    EntryID
	Name       string
	Idx        int
	Method     Method

	Status     Status
	Superseded bool

	ConfigID    int64
	ConfigBlock string
	Checker     string
	Rollback    string

	Command        string
	CollOut        string
	ScriptURL      string
	StampURL       string
	LogURL         string
	ConfigURL      string
	ExternalID     string
	ExternalStatus string
	ErrorCode      int
	DiagMessage    string
}

// Dependency gates Dependent from leaving waiting until Prerequisite is
// accepted.
type Dependency struct {
	ID           int64
	DependentID  int64
	Prerequisite EntryID
}

// ErrorAction is what to do with a job that failed with a classified error.
type ErrorAction string

const (
	ActionIgnore ErrorAction = "ignore"
	ActionRescue ErrorAction = "rescue"
	ActionReview ErrorAction = "review"
	ActionFail   ErrorAction = "fail"
)

// ErrorType classifies a batch-system error code and diagnostic.
type ErrorType struct {
	ID          int64
	Code        int
	Name        string
	DiagMessage string // regular expression matched against the job diagnostic
	Flavor      string
	Action      ErrorAction
	Resolved    bool
	Rescuable   bool
}

// Matches reports whether the job failure is of this type.
func (et ErrorType) Matches(code int, diag string) bool {
	if et.Code != code {
		return false
	}
	if et.DiagMessage == "" {
		return true
	}
	re, err := regexp.Compile(et.DiagMessage)
	if err != nil {
		return et.DiagMessage == diag
	}
	return re.MatchString(diag)
}

// ClassifyError returns the first error type matching the failure.
func ClassifyError(types []ErrorType, code int, diag string) (ErrorType, bool) {
	for _, et := range types {
		if et.Matches(code, diag) {
			return et, true
		}
	}
	return ErrorType{}, false
}

// ConfigDoc is a named configuration document stored with the entries so a
// handler can be rebuilt from an entry row alone.
type ConfigDoc struct {
	ID   int64
	Name string
	Body string
}
