// Package store provides SQL-backed durable storage for the campaign manager.
//
// The store implements core.DB over one of two backends:
//   - SQLite (github.com/mattn/go-sqlite3), the default, for a file path DSN
//   - PostgreSQL (github.com/jackc/pgx/v5/stdlib) for postgres:// DSNs
//
// # Tables
//
//   - entry: every hierarchy node, tagged by level, addressed by p_id..w_id
//   - script, job: executable units, carrying their owner's address
//   - dependency: prerequisite edges between entries
//   - config, error_type: configuration documents and the error table
//
// Rows are never deleted. Superseded rows stay for audit and are filtered
// out of Matching and the live listings.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// SQLite runs with a single connection. Inside RunInTx, use only the DB passed
// to the callback; the outer Store would wait on the held connection.
package store
