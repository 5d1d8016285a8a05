package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_Path(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selector
		want    string
		wantErr bool
	}{
		{"fullname", Selector{Fullname: "p/c/step1"}, "p/c/step1", false},
		{"names", Selector{Names: [5]string{"p", "c", "step1"}}, "p/c/step1", false},
		{"production only", Selector{Names: [5]string{"p"}}, "p", false},
		{"empty", Selector{}, "", true},
		{"both", Selector{Fullname: "p", Names: [5]string{"p"}}, "", true},
		{"gap", Selector{Names: [5]string{"p", "", "step1"}}, "", true},
		{"empty fullname part", Selector{Fullname: "p//c"}, "", true},
		{"too deep", Selector{Fullname: "a/b/c/d/e/f"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sel.Path()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidSelector(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	e, f := newTestEngine(t)
	ctx := context.Background()
	p, _ := newCampaign(t, f)
	mustCheck(t, e, p.EntryID)

	got, err := e.Resolve(ctx, Selector{Names: [5]string{"p", "c", "step1", "group0"}})
	require.NoError(t, err)
	assert.Equal(t, "p/c/step1/group0", got.Fullname)

	_, err = e.Resolve(ctx, Selector{Fullname: "p/nope"})
	require.Error(t, err)

	// Level names follow a regenerated entry; a fullname does not.
	step1 := f.EntryByName(t, "p/c/step1")
	_, err = e.Rollback(ctx, step1.EntryID, 0)
	require.NoError(t, err)
	mustCheck(t, e, p.EntryID)

	got, err = e.Resolve(ctx, Selector{Names: [5]string{"p", "c", "step1", "group0"}})
	require.NoError(t, err)
	assert.Equal(t, "p/c/step1/group0_01", got.Fullname)

	got, err = e.Resolve(ctx, Selector{Fullname: "p/c/step1/group0"})
	require.NoError(t, err)
	assert.True(t, got.Superseded)
}

func TestTree(t *testing.T) {
	e, f := newTestEngine(t)
	ctx := context.Background()
	p, _ := newCampaign(t, f)
	mustCheck(t, e, p.EntryID)

	root, err := e.Tree(ctx, p.EntryID, false)
	require.NoError(t, err)

	var names []string
	depths := map[string]int{}
	root.Walk(func(n *Node, depth int) {
		names = append(names, n.Entry.Fullname)
		depths[n.Entry.Fullname] = depth
	})
	assert.Equal(t, []string{
		"p",
		"p/c",
		"p/c/step1",
		"p/c/step1/group0",
		"p/c/step1/group0/w00",
		"p/c/step2",
	}, names)
	assert.Equal(t, 4, depths["p/c/step1/group0/w00"])

	c := root.Children[0]
	require.Len(t, c.Scripts, 2)
	w := c.Children[0].Children[0].Children[0]
	require.Len(t, w.Jobs, 1)
	assert.Equal(t, "run", w.Jobs[0].Name)
}
