package store

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// keyColumns names the address column of each level.
var keyColumns = [core.NumLevels]string{"p_id", "c_id", "s_id", "g_id", "w_id"}

// keyArgs flattens an EntryID into five column values.
func keyArgs(id core.EntryID) []any {
	args := make([]any, core.NumLevels)
	for _, l := range core.Levels() {
		args[l] = id.Get(l)
	}
	return args
}

// InsertEntry inserts e and fills in e.ID and e.EntryID.
//
// e.EntryID must address e's parent (empty for a production); the new row id
// is appended at e.Level. The fullname must not exist yet.
func (s *Store) InsertEntry(ctx context.Context, e *core.Entry) error {
	if !e.Level.Valid() {
		return fmt.Errorf("insert entry %q: invalid level %d", e.Fullname, int(e.Level))
	}
	parent := e.EntryID
	if parent.Level() != e.Level-1 {
		return fmt.Errorf("insert entry %q: parent address %s does not sit above %s", e.Fullname, parent, e.Level)
	}

	return s.RunInTx(ctx, func(tx core.DB) error {
		ts := tx.(*Store)
		args := []any{int(e.Level)}
		args = append(args, keyArgs(parent)...)
		args = append(args,
			e.ParentID, e.Name, e.Fullname, e.Idx, int(e.Status), e.Superseded,
			e.Handler, e.ConfigID, e.ConfigBlock,
			e.ButlerRepo, e.ProdBaseURL, e.RootColl,
			e.CollSource, e.CollIn, e.CollOut, e.CollValidate, e.DataQuery,
		)

		var id int64
		err := ts.queryRow(ctx, `
			INSERT INTO entry
			(level, p_id, c_id, s_id, g_id, w_id, parent_id, name, fullname, idx, status, superseded,
			 handler, config_id, config_block, butler_repo, prod_base_url, root_coll,
			 coll_source, coll_in, coll_out, coll_validate, data_query)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, args...).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert entry %q: %w", e.Fullname, err)
		}

		eid, err := parent.Extend(e.Level, id)
		if err != nil {
			return fmt.Errorf("insert entry %q: %w", e.Fullname, err)
		}
		if _, err := ts.exec(ctx,
			fmt.Sprintf("UPDATE entry SET %s = ? WHERE id = ?", keyColumns[e.Level]), id, id); err != nil {
			return fmt.Errorf("insert entry %q: set address: %w", e.Fullname, err)
		}

		e.ID = id
		e.EntryID = eid
		return nil
	})
}

// UpdateEntryStatus sets the status of one entry.
func (s *Store) UpdateEntryStatus(ctx context.Context, id int64, status core.Status) error {
	return s.updateOne(ctx, "update entry status", `UPDATE entry SET status = ? WHERE id = ?`, int(status), id)
}

// SetEntrySuperseded sets or clears the superseded flag of one entry.
func (s *Store) SetEntrySuperseded(ctx context.Context, id int64, superseded bool) error {
	return s.updateOne(ctx, "supersede entry", `UPDATE entry SET superseded = ? WHERE id = ?`, superseded, id)
}

// InsertScript inserts sc and fills in sc.ID.
func (s *Store) InsertScript(ctx context.Context, sc *core.Script) error {
	args := []any{sc.OwnerID}
	args = append(args, keyArgs(sc.EntryID)...)
	args = append(args,
		sc.Name, sc.Idx, string(sc.Type), string(sc.Method), int(sc.Status), sc.Superseded,
		sc.ConfigID, sc.ConfigBlock, sc.Checker, sc.Rollback,
		sc.Command, sc.CollOut, sc.ScriptURL, sc.StampURL, sc.LogURL, sc.ExternalID,
	)
	err := s.queryRow(ctx, `
		INSERT INTO script
		(owner_id, p_id, c_id, s_id, g_id, w_id, name, idx, script_type, method, status, superseded,
		 config_id, config_block, checker_name, rollback_name,
		 command, coll_out, script_url, stamp_url, log_url, external_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, args...).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("insert script %q: %w", sc.Name, err)
	}
	return nil
}

// UpdateScript writes back the mutable fields of sc.
func (s *Store) UpdateScript(ctx context.Context, sc core.Script) error {
	return s.updateOne(ctx, "update script", `
		UPDATE script SET status = ?, superseded = ?, command = ?, coll_out = ?,
		script_url = ?, stamp_url = ?, log_url = ?, external_id = ?
		WHERE id = ?
	`, int(sc.Status), sc.Superseded, sc.Command, sc.CollOut,
		sc.ScriptURL, sc.StampURL, sc.LogURL, sc.ExternalID, sc.ID)
}

// InsertJob inserts j and fills in j.ID.
func (s *Store) InsertJob(ctx context.Context, j *core.Job) error {
	args := []any{j.WorkflowID}
	args = append(args, keyArgs(j.EntryID)...)
	args = append(args,
		j.Name, j.Idx, string(j.Method), int(j.Status), j.Superseded,
		j.ConfigID, j.ConfigBlock, j.Checker, j.Rollback,
		j.Command, j.CollOut, j.ScriptURL, j.StampURL, j.LogURL, j.ConfigURL,
		j.ExternalID, j.ExternalStatus, j.ErrorCode, j.DiagMessage,
	)
	err := s.queryRow(ctx, `
		INSERT INTO job
		(workflow_id, p_id, c_id, s_id, g_id, w_id, name, idx, method, status, superseded,
		 config_id, config_block, checker_name, rollback_name,
		 command, coll_out, script_url, stamp_url, log_url, config_url,
		 external_id, external_status, error_code, diag_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, args...).Scan(&j.ID)
	if err != nil {
		return fmt.Errorf("insert job %q: %w", j.Name, err)
	}
	return nil
}

// UpdateJob writes back the mutable fields of j.
func (s *Store) UpdateJob(ctx context.Context, j core.Job) error {
	return s.updateOne(ctx, "update job", `
		UPDATE job SET status = ?, superseded = ?, command = ?, coll_out = ?,
		script_url = ?, stamp_url = ?, log_url = ?, config_url = ?,
		external_id = ?, external_status = ?, error_code = ?, diag_message = ?
		WHERE id = ?
	`, int(j.Status), j.Superseded, j.Command, j.CollOut,
		j.ScriptURL, j.StampURL, j.LogURL, j.ConfigURL,
		j.ExternalID, j.ExternalStatus, j.ErrorCode, j.DiagMessage, j.ID)
}

// AddDependency records that dependentID waits for prerequisite.
// Adding the same edge twice is a no-op.
func (s *Store) AddDependency(ctx context.Context, dependentID int64, prerequisite core.EntryID) error {
	if prerequisite.IsZero() {
		return fmt.Errorf("add dependency for entry %d: empty prerequisite", dependentID)
	}
	args := append([]any{dependentID}, keyArgs(prerequisite)...)
	_, err := s.exec(ctx, `
		INSERT INTO dependency (dependent_id, p_id, c_id, s_id, g_id, w_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, args...)
	if err != nil {
		return fmt.Errorf("add dependency for entry %d: %w", dependentID, err)
	}
	return nil
}

// PutConfig stores a configuration document under name, replacing the body
// of an existing document with the same name. Returns the document id.
func (s *Store) PutConfig(ctx context.Context, name, body string) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO config (name, body) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body
		RETURNING id
	`, name, body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("put config %q: %w", name, err)
	}
	return id, nil
}

// ReplaceErrorTypes swaps the whole error-type table for types.
func (s *Store) ReplaceErrorTypes(ctx context.Context, types []core.ErrorType) error {
	return s.RunInTx(ctx, func(tx core.DB) error {
		ts := tx.(*Store)
		if _, err := ts.exec(ctx, `DELETE FROM error_type`); err != nil {
			return fmt.Errorf("clear error types: %w", err)
		}
		for _, et := range types {
			_, err := ts.exec(ctx, `
				INSERT INTO error_type (code, name, diag_message, flavor, action, resolved, rescuable)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, et.Code, et.Name, et.DiagMessage, et.Flavor, string(et.Action), et.Resolved, et.Rescuable)
			if err != nil {
				return fmt.Errorf("insert error type %q: %w", et.Name, err)
			}
		}
		return nil
	})
}

// updateOne runs an UPDATE that must touch exactly one row.
func (s *Store) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	return nil
}
