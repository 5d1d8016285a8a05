package engine

import (
	"context"
	"fmt"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
)

// Node is one entry of a status tree with its scripts, jobs and children.
type Node struct {
	Entry    core.Entry    `json:"entry"`
	Scripts  []core.Script `json:"scripts,omitempty"`
	Jobs     []core.Job    `json:"jobs,omitempty"`
	Children []*Node       `json:"children,omitempty"`
}

// Tree loads the subtree at root. Superseded rows are included only when
// withSuperseded is set.
func (e *Engine) Tree(ctx context.Context, root core.EntryID, withSuperseded bool) (*Node, error) {
	var n *Node
	err := e.db.RunInTx(ctx, func(tx core.DB) error {
		ent, err := tx.ResolveEntry(ctx, root)
		if err != nil {
			return err
		}
		n, err = e.node(ctx, tx, ent, withSuperseded)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", root, err)
	}
	return n, nil
}

func (e *Engine) node(ctx context.Context, tx core.DB, ent core.Entry, withSuperseded bool) (*Node, error) {
	n := &Node{Entry: ent}
	for _, t := range core.ScriptTypes() {
		scripts, err := tx.Scripts(ctx, ent.ID, t, withSuperseded)
		if err != nil {
			return nil, err
		}
		n.Scripts = append(n.Scripts, scripts...)
	}
	if ent.Level == core.LevelWorkflow {
		jobs, err := tx.Jobs(ctx, ent.ID, withSuperseded)
		if err != nil {
			return nil, err
		}
		n.Jobs = jobs
		return n, nil
	}
	children, err := tx.Children(ctx, ent.ID, withSuperseded)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		cn, err := e.node(ctx, tx, c, withSuperseded)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

// Walk calls fn for n and each descendant, parents first, with its depth.
func (n *Node) Walk(fn func(n *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(n *Node, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
