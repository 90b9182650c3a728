package ucg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg/storage/memory"
	"github.com/ucgraph/core/pkg/logging"
)

// TestEntityStateMachine exercises §4.4.5's create→Draft,
// associate→Attached, last disassociate→Orphaned transitions.
func TestEntityStateMachine(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	reg := testRegistry(t, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	parent, err := store.CreateEntity(ctx, "page", "parent", map[string]any{})
	require.NoError(t, err)
	child, err := store.CreateEntity(ctx, "page", "child", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, StateDraft, child.State)

	assoc, err := store.Associate(ctx, parent.ID, child.ID, 0)
	require.NoError(t, err)

	attached, err := store.GetEntity(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAttached, attached.State)

	require.NoError(t, store.Disassociate(ctx, assoc.ID))

	orphaned, err := store.GetEntity(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOrphaned, orphaned.State)
}

// TestEntityStateMachineMultiParent verifies that removing one of several
// associations does not orphan a child still attached elsewhere.
func TestEntityStateMachineMultiParent(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	reg := testRegistry(t, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	parentA, err := store.CreateEntity(ctx, "page", "parentA", map[string]any{})
	require.NoError(t, err)
	parentB, err := store.CreateEntity(ctx, "page", "parentB", map[string]any{})
	require.NoError(t, err)
	child, err := store.CreateEntity(ctx, "page", "shared-child", map[string]any{})
	require.NoError(t, err)

	assocA, err := store.Associate(ctx, parentA.ID, child.ID, 0)
	require.NoError(t, err)
	_, err = store.Associate(ctx, parentB.ID, child.ID, 0)
	require.NoError(t, err)

	require.NoError(t, store.Disassociate(ctx, assocA.ID))

	stillAttached, err := store.GetEntity(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAttached, stillAttached.State)
}
