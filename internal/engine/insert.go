package engine

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/handler"
)

// LoadConfig validates a configuration document and stores it under name.
// Loading a name again replaces its body under the same row id. A running
// process keeps using the parse it cached first.
func (e *Engine) LoadConfig(ctx context.Context, name string, data []byte) (int64, error) {
	if _, err := config.Parse(data); err != nil {
		return 0, fmt.Errorf("load config %s: %w", name, err)
	}
	id, err := e.db.PutConfig(ctx, name, string(data))
	if err != nil {
		return 0, fmt.Errorf("load config %s: %w", name, err)
	}
	e.logger.Info("config loaded", "name", name, "id", id)
	return id, nil
}

// LoadErrorTypes replaces the error-type table.
func (e *Engine) LoadErrorTypes(ctx context.Context, data []byte) (int, error) {
	types, err := config.ParseErrorTypes(data)
	if err != nil {
		return 0, fmt.Errorf("load error types: %w", err)
	}
	if err := e.db.ReplaceErrorTypes(ctx, types); err != nil {
		return 0, fmt.Errorf("load error types: %w", err)
	}
	e.logger.Info("error types loaded", "count", len(types))
	return len(types), nil
}

// InsertRequest names a new entry and the configuration block it runs.
type InsertRequest struct {
	// Parent addresses the parent entry; empty for a production.
	Parent core.EntryID
	Name   string
	// ConfigName is the name a document was loaded under.
	ConfigName string
	Block      string
	DataQuery  string
}

// Insert creates a waiting entry from req.
func (e *Engine) Insert(ctx context.Context, req InsertRequest) (core.Entry, error) {
	var ent core.Entry
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		doc, err := tx.GetConfigByName(ctx, req.ConfigName)
		if err != nil {
			return err
		}
		cfg, err := e.handlers.Config(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		blk, err := cfg.Block(req.Block)
		if err != nil {
			return err
		}
		h, err := e.handlers.Resolve(ctx, tx, handler.Key{Class: blk.Class, ConfigID: doc.ID, Block: req.Block})
		if err != nil {
			return err
		}

		var parent *core.Entry
		if !req.Parent.IsZero() {
			p, err := tx.ResolveEntry(ctx, req.Parent)
			if err != nil {
				return err
			}
			parent = &p
		}
		ent, err = h.Insert(ctx, tx, parent, req.Name, handler.InsertOptions{DataQuery: req.DataQuery})
		return err
	})
	if err != nil {
		return core.Entry{}, fmt.Errorf("insert %s: %w", req.Name, err)
	}
	e.logger.Info("entry inserted", "entry", ent.Fullname, "block", req.Block)
	return ent, nil
}
