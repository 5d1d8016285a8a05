package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

const entryColumns = `id, level, p_id, c_id, s_id, g_id, w_id, parent_id, name, fullname, idx, status, superseded,
	handler, config_id, config_block, butler_repo, prod_base_url, root_coll,
	coll_source, coll_in, coll_out, coll_validate, data_query`

const scriptColumns = `id, owner_id, p_id, c_id, s_id, g_id, w_id, name, idx, script_type, method, status, superseded,
	config_id, config_block, checker_name, rollback_name,
	command, coll_out, script_url, stamp_url, log_url, external_id`

const jobColumns = `id, workflow_id, p_id, c_id, s_id, g_id, w_id, name, idx, method, status, superseded,
	config_id, config_block, checker_name, rollback_name,
	command, coll_out, script_url, stamp_url, log_url, config_url,
	external_id, external_status, error_code, diag_message`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetEntry returns the entry with row id id.
func (s *Store) GetEntry(ctx context.Context, id int64) (core.Entry, error) {
	row := s.queryRow(ctx, `SELECT `+entryColumns+` FROM entry WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %d: %w", id, notFound(err))
	}
	return e, nil
}

// GetEntryByFullname returns the entry with the given fullname.
func (s *Store) GetEntryByFullname(ctx context.Context, fullname string) (core.Entry, error) {
	row := s.queryRow(ctx, `SELECT `+entryColumns+` FROM entry WHERE fullname = ?`, fullname)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry %q: %w", fullname, notFound(err))
	}
	return e, nil
}

// ResolveEntry returns the entry addressed by id.
func (s *Store) ResolveEntry(ctx context.Context, id core.EntryID) (core.Entry, error) {
	l := id.Level()
	if l == core.NoLevel {
		return core.Entry{}, fmt.Errorf("resolve entry: empty id: %w", core.ErrNotFound)
	}
	e, err := s.GetEntry(ctx, id.Get(l))
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve entry %s: %w", id, err)
	}
	if e.EntryID != id {
		return core.Entry{}, fmt.Errorf("resolve entry %s: row %d has address %s: %w", id, e.ID, e.EntryID, core.ErrNotFound)
	}
	return e, nil
}

// Children returns the entries whose parent is parentID.
func (s *Store) Children(ctx context.Context, parentID int64, includeSuperseded bool) ([]core.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entry WHERE parent_id = ?`
	args := []any{parentID}
	if !includeSuperseded {
		query += ` AND superseded = ?`
		args = append(args, false)
	}
	query += ` ORDER BY idx ASC, id ASC`
	return s.listEntries(ctx, "list children", query, args...)
}

// Matching returns live entries of level in status under ancestor.
func (s *Store) Matching(ctx context.Context, level core.Level, ancestor core.EntryID, status core.Status) ([]core.Entry, error) {
	where, args := ancestorClause(ancestor)
	query := `SELECT ` + entryColumns + ` FROM entry WHERE level = ? AND status = ? AND superseded = ?` + where + ` ORDER BY id ASC`
	args = append([]any{int(level), int(status), false}, args...)
	return s.listEntries(ctx, "match entries", query, args...)
}

// GetScript returns the script with row id id.
func (s *Store) GetScript(ctx context.Context, id int64) (core.Script, error) {
	row := s.queryRow(ctx, `SELECT `+scriptColumns+` FROM script WHERE id = ?`, id)
	sc, err := scanScript(row)
	if err != nil {
		return core.Script{}, fmt.Errorf("get script %d: %w", id, notFound(err))
	}
	return sc, nil
}

// Scripts returns the scripts of one type owned by ownerID.
func (s *Store) Scripts(ctx context.Context, ownerID int64, t core.ScriptType, includeSuperseded bool) ([]core.Script, error) {
	query := `SELECT ` + scriptColumns + ` FROM script WHERE owner_id = ? AND script_type = ?`
	args := []any{ownerID, string(t)}
	if !includeSuperseded {
		query += ` AND superseded = ?`
		args = append(args, false)
	}
	query += ` ORDER BY id ASC`
	return s.listScripts(ctx, query, args...)
}

// MatchingScripts returns live scripts in status owned by entries under ancestor.
func (s *Store) MatchingScripts(ctx context.Context, ancestor core.EntryID, status core.Status) ([]core.Script, error) {
	where, args := ancestorClause(ancestor)
	query := `SELECT ` + scriptColumns + ` FROM script WHERE status = ? AND superseded = ?` + where + ` ORDER BY id ASC`
	args = append([]any{int(status), false}, args...)
	return s.listScripts(ctx, query, args...)
}

// GetJob returns the job with row id id.
func (s *Store) GetJob(ctx context.Context, id int64) (core.Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM job WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return core.Job{}, fmt.Errorf("get job %d: %w", id, notFound(err))
	}
	return j, nil
}

// Jobs returns the jobs of one workflow.
func (s *Store) Jobs(ctx context.Context, workflowID int64, includeSuperseded bool) ([]core.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job WHERE workflow_id = ?`
	args := []any{workflowID}
	if !includeSuperseded {
		query += ` AND superseded = ?`
		args = append(args, false)
	}
	query += ` ORDER BY id ASC`
	return s.listJobs(ctx, query, args...)
}

// MatchingJobs returns live jobs in status under ancestor.
func (s *Store) MatchingJobs(ctx context.Context, ancestor core.EntryID, status core.Status) ([]core.Job, error) {
	where, args := ancestorClause(ancestor)
	query := `SELECT ` + jobColumns + ` FROM job WHERE status = ? AND superseded = ?` + where + ` ORDER BY id ASC`
	args = append([]any{int(status), false}, args...)
	return s.listJobs(ctx, query, args...)
}

// Prerequisites returns the addresses dependentID waits for.
func (s *Store) Prerequisites(ctx context.Context, dependentID int64) ([]core.EntryID, error) {
	rows, err := s.query(ctx, `
		SELECT p_id, c_id, s_id, g_id, w_id FROM dependency
		WHERE dependent_id = ?
		ORDER BY id ASC
	`, dependentID)
	if err != nil {
		return nil, fmt.Errorf("query prerequisites: %w", err)
	}
	defer rows.Close()

	out := []core.EntryID{}
	for rows.Next() {
		var keys [core.NumLevels]int64
		if err := rows.Scan(&keys[0], &keys[1], &keys[2], &keys[3], &keys[4]); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		id, err := entryIDFromKeys(keys)
		if err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prerequisites: %w", err)
	}
	return out, nil
}

// GetConfig returns the configuration document with row id id.
func (s *Store) GetConfig(ctx context.Context, id int64) (core.ConfigDoc, error) {
	var doc core.ConfigDoc
	err := s.queryRow(ctx, `SELECT id, name, body FROM config WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Name, &doc.Body)
	if err != nil {
		return core.ConfigDoc{}, fmt.Errorf("get config %d: %w", id, notFound(err))
	}
	return doc, nil
}

// GetConfigByName returns the configuration document stored under name.
func (s *Store) GetConfigByName(ctx context.Context, name string) (core.ConfigDoc, error) {
	var doc core.ConfigDoc
	err := s.queryRow(ctx, `SELECT id, name, body FROM config WHERE name = ?`, name).
		Scan(&doc.ID, &doc.Name, &doc.Body)
	if err != nil {
		return core.ConfigDoc{}, fmt.Errorf("get config %q: %w", name, notFound(err))
	}
	return doc, nil
}

// ErrorTypes returns the error-type table in load order.
func (s *Store) ErrorTypes(ctx context.Context) ([]core.ErrorType, error) {
	rows, err := s.query(ctx, `
		SELECT id, code, name, diag_message, flavor, action, resolved, rescuable
		FROM error_type ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query error types: %w", err)
	}
	defer rows.Close()

	out := []core.ErrorType{}
	for rows.Next() {
		var et core.ErrorType
		var action string
		if err := rows.Scan(&et.ID, &et.Code, &et.Name, &et.DiagMessage, &et.Flavor, &action, &et.Resolved, &et.Rescuable); err != nil {
			return nil, fmt.Errorf("scan error type: %w", err)
		}
		et.Action = core.ErrorAction(action)
		out = append(out, et)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error types: %w", err)
	}
	return out, nil
}

// ancestorClause restricts a query to rows under ancestor.
func ancestorClause(ancestor core.EntryID) (string, []any) {
	var b strings.Builder
	var args []any
	for _, l := range core.Levels() {
		k := ancestor.Get(l)
		if k == 0 {
			break
		}
		fmt.Fprintf(&b, " AND %s = ?", keyColumns[l])
		args = append(args, k)
	}
	return b.String(), args
}

func (s *Store) listEntries(ctx context.Context, op, query string, args ...any) ([]core.Entry, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []core.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

func (s *Store) listScripts(ctx context.Context, query string, args ...any) ([]core.Script, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scripts: %w", err)
	}
	defer rows.Close()

	out := []core.Script{}
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scripts: %w", err)
	}
	return out, nil
}

func (s *Store) listJobs(ctx context.Context, query string, args ...any) ([]core.Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	out := []core.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanEntry(r rowScanner) (core.Entry, error) {
	var e core.Entry
	var level, status int
	var keys [core.NumLevels]int64
	err := r.Scan(
		&e.ID, &level, &keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&e.ParentID, &e.Name, &e.Fullname, &e.Idx, &status, &e.Superseded,
		&e.Handler, &e.ConfigID, &e.ConfigBlock, &e.ButlerRepo, &e.ProdBaseURL, &e.RootColl,
		&e.CollSource, &e.CollIn, &e.CollOut, &e.CollValidate, &e.DataQuery,
	)
	if err != nil {
		return core.Entry{}, err
	}
	e.Level = core.Level(level)
	e.Status = core.Status(status)
	e.EntryID, err = entryIDFromKeys(keys)
	if err != nil {
		return core.Entry{}, fmt.Errorf("entry %d: %w", e.ID, err)
	}
	return e, nil
}

func scanScript(r rowScanner) (core.Script, error) {
	var sc core.Script
	var status int
	var keys [core.NumLevels]int64
	var scriptType, method string
	err := r.Scan(
		&sc.ID, &sc.OwnerID, &keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&sc.Name, &sc.Idx, &scriptType, &method, &status, &sc.Superseded,
		&sc.ConfigID, &sc.ConfigBlock, &sc.Checker, &sc.Rollback,
		&sc.Command, &sc.CollOut, &sc.ScriptURL, &sc.StampURL, &sc.LogURL, &sc.ExternalID,
	)
	if err != nil {
		return core.Script{}, fmt.Errorf("scan script: %w", err)
	}
	sc.Type = core.ScriptType(scriptType)
	sc.Method = core.Method(method)
	sc.Status = core.Status(status)
	sc.EntryID, err = entryIDFromKeys(keys)
	if err != nil {
		return core.Script{}, fmt.Errorf("script %d: %w", sc.ID, err)
	}
	return sc, nil
}

func scanJob(r rowScanner) (core.Job, error) {
	var j core.Job
	var status int
	var keys [core.NumLevels]int64
	var method string
	err := r.Scan(
		&j.ID, &j.WorkflowID, &keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&j.Name, &j.Idx, &method, &status, &j.Superseded,
		&j.ConfigID, &j.ConfigBlock, &j.Checker, &j.Rollback,
		&j.Command, &j.CollOut, &j.ScriptURL, &j.StampURL, &j.LogURL, &j.ConfigURL,
		&j.ExternalID, &j.ExternalStatus, &j.ErrorCode, &j.DiagMessage,
	)
	if err != nil {
		return core.Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.Method = core.Method(method)
	j.Status = core.Status(status)
	j.EntryID, err = entryIDFromKeys(keys)
	if err != nil {
		return core.Job{}, fmt.Errorf("job %d: %w", j.ID, err)
	}
	return j, nil
}

// entryIDFromKeys rebuilds an EntryID from its stored columns.
func entryIDFromKeys(keys [core.NumLevels]int64) (core.EntryID, error) {
	n := 0
	for n < core.NumLevels && keys[n] != 0 {
		n++
	}
	for _, k := range keys[n:] {
		if k != 0 {
			return core.EntryID{}, fmt.Errorf("stored address %v skips a level", keys)
		}
	}
	return core.NewEntryID(keys[:n]...)
}

// notFound maps sql.ErrNoRows to core.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}
