package ucg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg/storage/memory"
	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
)

// TestDuplicateSemanticNameConflicts exercises the §7 Conflict taxonomy
// entry for a semantic-name collision: a type's optional name is unique
// per type.
func TestDuplicateSemanticNameConflicts(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	reg := testRegistry(t, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	_, err := store.CreateEntity(ctx, "page", "home", map[string]any{})
	require.NoError(t, err)

	_, err = store.CreateEntity(ctx, "page", "home", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, coreerrors.Conflict, coreerrors.CategoryOf(err))
}

// TestDuplicateAssociationConflicts exercises the §7 Conflict taxonomy
// entry for a duplicate association: each (parent, child) pair is unique.
func TestDuplicateAssociationConflicts(t *testing.T) {
	ctx := context.Background()
	lc := memory.New()
	reg := testRegistry(t, pageType())
	log := logging.New("test", "error", "text")
	store := New(lc, nil, nil, reg, nil, log)

	parent, err := store.CreateEntity(ctx, "page", "parent", map[string]any{})
	require.NoError(t, err)
	child, err := store.CreateEntity(ctx, "page", "child", map[string]any{})
	require.NoError(t, err)

	_, err = store.Associate(ctx, parent.ID, child.ID, 0)
	require.NoError(t, err)

	_, err = store.Associate(ctx, parent.ID, child.ID, 10)
	require.Error(t, err)
	assert.Equal(t, coreerrors.Conflict, coreerrors.CategoryOf(err))
}
