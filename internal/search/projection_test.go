package search

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg/storage/cache"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	pc := cache.NewLocal(0)
	return New(pc, []string{"the", "a", "of"}, 2, zerolog.Nop())
}

// TestSearchProjection exercises the forward half of P6: every token
// produced by tokenizing a searchable entity's fields has that entity in
// its word set, and a stopword in the text gets no membership.
func TestSearchProjection(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.IndexEntity(ctx, "e1", "page", map[string]string{
		"title": "Modern Rust CMS",
	}))

	for _, word := range []string{"modern", "rust", "cms"} {
		set, err := ix.readSet(ctx, wordSetKey(word))
		require.NoError(t, err)
		assert.True(t, set["e1"], "entity must be a member of word set %q", word)
	}

	set, err := ix.readSet(ctx, wordSetKey("the"))
	require.NoError(t, err)
	assert.False(t, set["e1"], "stopword must not be indexed")
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	ix := testIndex(t)
	words := ix.Tokenize("The quick of a fox, is here!")
	assert.NotContains(t, words, "the")
	assert.NotContains(t, words, "of")
	assert.NotContains(t, words, "a")
	assert.Contains(t, words, "quick")
	assert.Contains(t, words, "fox")
	assert.Contains(t, words, "is")
	assert.Contains(t, words, "here")
}

func TestRemoveEntityClearsMembership(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.IndexEntity(ctx, "e1", "page", map[string]string{"title": "unique keyword"}))
	require.NoError(t, ix.RemoveEntity(ctx, "e1"))

	set, err := ix.readSet(ctx, wordSetKey("unique"))
	require.NoError(t, err)
	assert.False(t, set["e1"])
}

func TestOrphanCleanupRemovesDeletedEntities(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.IndexEntity(ctx, "e1", "page", map[string]string{"title": "orphantest"}))
	require.NoError(t, ix.IndexEntity(ctx, "e2", "page", map[string]string{"title": "orphantest"}))

	existing := map[string]bool{"e2": true}
	require.NoError(t, ix.OrphanCleanup(ctx, []string{wordSetKey("orphantest")}, func(id string) bool { return existing[id] }))

	set, err := ix.readSet(ctx, wordSetKey("orphantest"))
	require.NoError(t, err)
	assert.False(t, set["e1"])
	assert.True(t, set["e2"])
}
