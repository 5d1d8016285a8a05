package engine

// IterationQuota bounds the number of sweeps one check may run.
//
// Statuses only move forward during a check, so a healthy subtree reaches a
// fixed point in a handful of iterations; hitting the limit means a handler
// keeps reporting change.
type IterationQuota struct {
	max     int
	current int
}

// NewIterationQuota returns a quota allowing max iterations.
func NewIterationQuota(max int) *IterationQuota {
	return &IterationQuota{max: max}
}

// Check counts one iteration against the quota for entry.
func (q *IterationQuota) Check(entry string) error {
	q.current++
	if q.current > q.max {
		return newContractError(ErrCodeIterationsExceeded, entry,
			"no fixed point after %d iterations", q.max)
	}
	return nil
}

// Current returns the number of iterations counted.
func (q *IterationQuota) Current() int {
	return q.current
}
