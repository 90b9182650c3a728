package ucg

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg/storage/memory"
	"github.com/ucgraph/core/pkg/logging"
)

// TestMoveRecomputesDescendantPaths exercises the §4.4.2 Move semantics:
// detach + attach under the new parent, with every descendant's
// materialised path rewritten in the same transaction (P2 must still hold
// afterwards).
func TestMoveRecomputesDescendantPaths(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	reg := testRegistry(t, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	root1, err := store.CreateEntity(ctx, "page", "root1", map[string]any{})
	require.NoError(t, err)
	root2, err := store.CreateEntity(ctx, "page", "root2", map[string]any{})
	require.NoError(t, err)
	moved, err := store.CreateEntity(ctx, "page", "moved", map[string]any{})
	require.NoError(t, err)
	grandchild, err := store.CreateEntity(ctx, "page", "grandchild", map[string]any{})
	require.NoError(t, err)

	movedAssoc, err := store.Associate(ctx, root1.ID, moved.ID, 0)
	require.NoError(t, err)
	grandAssoc, err := store.Associate(ctx, moved.ID, grandchild.ID, 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(grandAssoc.Path, movedAssoc.Path+"."))

	newAssoc, err := store.Move(ctx, moved.ID, root2.ID, 0)
	require.NoError(t, err)
	assert.NotEqual(t, movedAssoc.Path, newAssoc.Path)

	children, err := store.Children(ctx, moved.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.True(t, strings.HasPrefix(children[0].Path, newAssoc.Path+"."),
		"grandchild path must be rewritten under the new prefix")
	assert.Equal(t, strings.Count(children[0].Path, "."), children[0].Depth)

	oldRootChildren, err := store.Children(ctx, root1.ID)
	require.NoError(t, err)
	assert.Len(t, oldRootChildren, 0)
}

// TestMoveEnforcesDepthCapOnSubtree verifies that moving a subtree under a
// parent whose type caps nesting depth re-checks the deepest descendant,
// not just the moved child's own new depth.
func TestMoveEnforcesDepthCapOnSubtree(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	maxDepth := 0
	capped := pageType()
	capped.Type = "capped"
	capped.MaxNestingDepth = &maxDepth
	reg := testRegistry(t, capped, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	shallowRoot, err := store.CreateEntity(ctx, "page", "shallow", map[string]any{})
	require.NoError(t, err)
	cappedRoot, err := store.CreateEntity(ctx, "capped", "capped-root", map[string]any{})
	require.NoError(t, err)
	moved, err := store.CreateEntity(ctx, "page", "moved", map[string]any{})
	require.NoError(t, err)
	grandchild, err := store.CreateEntity(ctx, "page", "grandchild", map[string]any{})
	require.NoError(t, err)

	movedAssoc, err := store.Associate(ctx, shallowRoot.ID, moved.ID, 0)
	require.NoError(t, err)
	grandAssoc, err := store.Associate(ctx, moved.ID, grandchild.ID, 0)
	require.NoError(t, err)

	_, err = store.Move(ctx, moved.ID, cappedRoot.ID, 0)
	assert.Error(t, err, "moving a two-level subtree under a depth-0-capped parent must fail")

	// The rejected move must leave the graph exactly as it was: no edge
	// under the capped root, the old edge intact, descendant paths
	// unrewritten.
	cappedChildren, err := store.Children(ctx, cappedRoot.ID)
	require.NoError(t, err)
	assert.Empty(t, cappedChildren)

	shallowChildren, err := store.Children(ctx, shallowRoot.ID)
	require.NoError(t, err)
	require.Len(t, shallowChildren, 1)
	assert.Equal(t, movedAssoc.Path, shallowChildren[0].Path)

	grandChildren, err := store.Children(ctx, moved.ID)
	require.NoError(t, err)
	require.Len(t, grandChildren, 1)
	assert.Equal(t, grandAssoc.Path, grandChildren[0].Path)
}
