// Package engine implements the campaign lifecycle engine.
//
// The engine drives every entry of a production tree through the status
// state machine, from waiting to accepted, by calling into the entry's
// handler at each status and aggregating the results of its scripts, jobs
// and children.
//
// Check Loop:
// Check sweeps the subtree once per iteration. Within an iteration the
// statuses are visited in lifecycle order and, for each status, the levels
// deepest first, so a workflow that finishes early in a sweep lets its
// group advance later in the same sweep. The loop stops at the first
// iteration that changes no entry status; reviewable entries wait for an
// explicit Accept.
//
// Transactions:
// Every iteration runs in one store transaction and commits before the
// next, so an interrupted check resumes from the stored rows.
//
// Single writer:
// One Engine per database, used from one goroutine. External work runs
// outside the process and is observed by polling.
package engine
