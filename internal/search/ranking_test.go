package search

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg/storage/cache"
)

// TestRankingMonotonicity exercises P10: for two candidates with identical
// match sets except for position, the one with the earlier first match
// scores at least as high as the other.
func TestRankingMonotonicity(t *testing.T) {
	early := []WordPosition{{Word: "rust", Position: 0}}
	late := []WordPosition{{Word: "rust", Position: 20}}
	query := map[string]bool{"rust": true}

	earlyScore, _ := rank(early, query)
	lateScore, _ := rank(late, query)
	assert.GreaterOrEqual(t, earlyScore, lateScore)
}

func TestRankingAllMatchMultiplierApplied(t *testing.T) {
	ix := New(cache.NewLocal(0), nil, 2, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, ix.IndexEntity(ctx, "e1", "page", map[string]string{"title": "modern rust cms"}))
	require.NoError(t, ix.IndexEntity(ctx, "e2", "page", map[string]string{"title": "modern xx xx xx xx rust"}))
	require.NoError(t, ix.IndexEntity(ctx, "e3", "page", map[string]string{"title": "modern"}))

	all, err := ix.Query(ctx, "modern rust cms", 10)
	require.NoError(t, err)
	ids := candidateIDs(all)
	assert.ElementsMatch(t, []string{"e1"}, ids)

	twoWord, err := ix.Query(ctx, "modern rust", 10)
	require.NoError(t, err)
	ids = candidateIDs(twoWord)
	assert.ElementsMatch(t, []string{"e1", "e2"}, ids)
	assert.Equal(t, "e1", twoWord[0].EntityID, "entity matching rust earlier (within the title-bonus region) should rank first")
	// e1: "modern" at 0 scores 1/1+bonus = 2, "rust" at 1 scores 1/2+bonus = 1.5;
	// both query words matched, so the sum is multiplied by allMatchMultiplier.
	assert.InDelta(t, (2.0+1.5)*allMatchMultiplier, twoWord[0].Score, 1e-9)
}

func candidateIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.EntityID
	}
	return out
}
