package core

import "fmt"

// Status is the lifecycle state of an entry, script or job.
//
// Entries normally move from StatusWaiting to StatusAccepted one rank at a
// time. The two negative states absorb: a failed or rejected row stays there
// until an explicit rollback, supersede or requeue.
type Status int

const (
	StatusFailed      Status = -2 // processing failed
	StatusRejected    Status = -1 // marked as rejected by a reviewer
	StatusWaiting     Status = 0  // prerequisites not accepted yet
	StatusReady       Status = 1  // ready to prepare
	StatusPreparing   Status = 2  // prepare scripts running
	StatusPrepared    Status = 3  // inputs prepared, children not made
	StatusPopulating  Status = 4  // children made, not all started
	StatusRunning     Status = 5  // children or jobs running
	StatusCollectable Status = 6  // all work done, outputs not collected
	StatusCollecting  Status = 7  // collect scripts running
	StatusCompleted   Status = 8  // outputs collected, not validated
	StatusValidating  Status = 9  // validate scripts running
	StatusReviewable  Status = 10 // waiting for an external accept/reject
	StatusAccepted    Status = 11 // reviewed and accepted, usable downstream
)

var statusNames = map[Status]string{
	StatusFailed:      "failed",
	StatusRejected:    "rejected",
	StatusWaiting:     "waiting",
	StatusReady:       "ready",
	StatusPreparing:   "preparing",
	StatusPrepared:    "prepared",
	StatusPopulating:  "populating",
	StatusRunning:     "running",
	StatusCollectable: "collectable",
	StatusCollecting:  "collecting",
	StatusCompleted:   "completed",
	StatusValidating:  "validating",
	StatusReviewable:  "reviewable",
	StatusAccepted:    "accepted",
}

// Bad reports whether s is failed or rejected.
func (s Status) Bad() bool {
	return s < 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name. Stamp files and JSON output use it.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusFailed, fmt.Errorf("unknown status %q", name)
}

// SweepOrder is the order in which the lifecycle engine visits statuses in
// one iteration. StatusReviewable is absent: it needs an external action.
func SweepOrder() []Status {
	return []Status{
		StatusWaiting,
		StatusReady,
		StatusPreparing,
		StatusPrepared,
		StatusPopulating,
		StatusRunning,
		StatusCollectable,
		StatusCollecting,
		StatusCompleted,
		StatusValidating,
	}
}
