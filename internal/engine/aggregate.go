package engine

import "github.com/lsst-dm/cm-tools-sub000/internal/core"

// reduce folds script or job statuses into one bucket: accepted when all
// are accepted, completed when all are at least completed, failed or
// rejected when any is, running when any has started, ready otherwise.
// An empty set is accepted so that a phase without work advances.
func reduce(statuses []core.Status) core.Status {
	allAccepted, allCompleted := true, true
	anyFailed, anyRejected, anyRunning := false, false, false
	for _, s := range statuses {
		allAccepted = allAccepted && s >= core.StatusAccepted
		allCompleted = allCompleted && s >= core.StatusCompleted
		switch {
		case s == core.StatusFailed:
			anyFailed = true
		case s == core.StatusRejected:
			anyRejected = true
		case s >= core.StatusRunning:
			anyRunning = true
		}
	}
	switch {
	case allAccepted:
		return core.StatusAccepted
	case allCompleted:
		return core.StatusCompleted
	case anyFailed:
		return core.StatusFailed
	case anyRejected:
		return core.StatusRejected
	case anyRunning:
		return core.StatusRunning
	}
	return core.StatusReady
}

// Per-phase lookup from reduced bucket to the owning entry's next status.
// Buckets absent from a table leave the entry where it is.
var (
	prepareTable = map[core.Status]core.Status{
		core.StatusAccepted:  core.StatusPrepared,
		core.StatusCompleted: core.StatusPrepared,
		core.StatusFailed:    core.StatusFailed,
		core.StatusRejected:  core.StatusFailed,
	}
	collectTable = map[core.Status]core.Status{
		core.StatusAccepted:  core.StatusCompleted,
		core.StatusCompleted: core.StatusCompleted,
		core.StatusFailed:    core.StatusFailed,
		core.StatusRejected:  core.StatusFailed,
	}
	validateTable = map[core.Status]core.Status{
		core.StatusAccepted:  core.StatusAccepted,
		core.StatusCompleted: core.StatusReviewable,
		core.StatusFailed:    core.StatusFailed,
		core.StatusRejected:  core.StatusRejected,
	}
	jobTable = map[core.Status]core.Status{
		core.StatusAccepted:  core.StatusCollectable,
		core.StatusCompleted: core.StatusCollectable,
		core.StatusFailed:    core.StatusFailed,
		core.StatusRejected:  core.StatusFailed,
	}
)

func lookup(table map[core.Status]core.Status, bucket, current core.Status) core.Status {
	if next, ok := table[bucket]; ok {
		return next
	}
	return current
}

func scriptStatuses(scripts []core.Script) []core.Status {
	out := make([]core.Status, len(scripts))
	for i, sc := range scripts {
		out[i] = sc.Status
	}
	return out
}

func jobStatuses(jobs []core.Job) []core.Status {
	out := make([]core.Status, len(jobs))
	for i, j := range jobs {
		out[i] = j.Status
	}
	return out
}

// aggregate derives a parent's status from its live children. All
// accepted (or no children) advances. A failed child fails the parent; a
// rejected child holds it at floor until the child is superseded.
// Otherwise the parent reports its least advanced child, clamped to
// [floor, ceiling].
func aggregate(children []core.Entry, floor, ceiling, advance core.Status) core.Status {
	lowest := core.StatusAccepted
	rejected := false
	for _, c := range children {
		switch c.Status {
		case core.StatusFailed:
			return core.StatusFailed
		case core.StatusRejected:
			rejected = true
		}
		lowest = min(lowest, c.Status)
	}
	switch {
	case rejected:
		return floor
	case lowest >= core.StatusAccepted:
		return advance
	case lowest <= floor:
		return floor
	}
	return min(lowest, ceiling)
}
