// Package core provides the addressing, status and row types shared by every
// other package of the campaign manager.
//
// This package contains type definitions and pure functions only. All other
// internal packages import core; core imports nothing internal.
//
// Key design constraints:
//   - The hierarchy has exactly five ranks (Level); nothing here is a generic DAG
//   - Row ids are positive; zero means "unset" in an EntryID
//   - Status values are totally ordered; negative values are bad states
//   - Rows are never deleted, only superseded
package core
