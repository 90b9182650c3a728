package facade

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/epc"
	"github.com/ucgraph/core/internal/firewall"
	"github.com/ucgraph/core/internal/registry"
	"github.com/ucgraph/core/internal/search"
	"github.com/ucgraph/core/internal/ucg"
	"github.com/ucgraph/core/internal/ucg/storage/cache"
	"github.com/ucgraph/core/internal/ucg/storage/memory"
	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
)

func newTestFacade(t *testing.T, defs ...*registry.Definition) (*Facade, *ucg.Store) {
	t.Helper()
	lc := memory.New()
	pc := cache.NewLocal(0)
	reg, err := registry.Build(defs)
	require.NoError(t, err)
	log := logging.New("test", "error", "text")
	fw := firewall.New(log, 50*time.Millisecond)
	idx := search.New(pc, nil, 2, zerolog.Nop())
	store := ucg.New(lc, pc, nil, reg, fw, log, ucg.WithSearchIndexer(idx))
	f := New(store, fw, idx, reg, log)
	return f, store
}

// S1: a routable entity can be created, routed to by slug, and disappears
// from routing once deleted.
func TestScenarioCreateAndRoute(t *testing.T) {
	pageDef := &registry.Definition{
		Type:     "page",
		Routable: true,
		Fields:   map[string]*registry.FieldSchema{},
	}
	f, _ := newTestFacade(t, pageDef)
	ctx := context.Background()

	e, err := f.CreateEntity(ctx, "page", "home", map[string]any{"title": "Home"})
	require.NoError(t, err)

	found, err := f.ResolveRoute(ctx, "page", "home")
	require.NoError(t, err)
	assert.Equal(t, e.ID, found.ID)

	assert.Contains(t, f.ListTypes(), "page")

	require.NoError(t, f.DeleteEntity(ctx, e.ID))
	_, err = f.ResolveRoute(ctx, "page", "home")
	require.Error(t, err)
	assert.Equal(t, coreerrors.NotFound, coreerrors.CategoryOf(err))
}

// S2: creating a composite entity auto-instantiates its declared children in
// order, and deleting the composite cascades to them.
func TestScenarioCompositionAutoExpansion(t *testing.T) {
	compositeDef := &registry.Definition{
		Type: "text-with-picture",
		Composition: &registry.CompositionRule{
			Children: []string{"text-snippet", "picture-snippet"},
		},
	}
	textDef := &registry.Definition{Type: "text-snippet"}
	pictureDef := &registry.Definition{Type: "picture-snippet"}
	f, store := newTestFacade(t, compositeDef, textDef, pictureDef)
	ctx := context.Background()

	parent, err := f.CreateEntity(ctx, "text-with-picture", "", map[string]any{})
	require.NoError(t, err)

	children, err := f.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, 0, children[0].Weight)
	assert.Equal(t, 10, children[1].Weight)

	childIDs := []string{children[0].ChildID, children[1].ChildID}
	require.NoError(t, f.DeleteEntity(ctx, parent.ID))

	for _, cid := range childIDs {
		_, err := store.GetEntity(ctx, cid)
		assert.Error(t, err, "composed child must cascade-delete with its sole parent")
	}
}

// fakeArtifacts implements epc.ArtifactLookup over a fixed scope->artifact
// map, mirroring a Config Store asset manifest.
type fakeArtifacts struct {
	byMember map[string]string // "member|snippet|file" -> artifact (kind is ignored)
}

func (f *fakeArtifacts) Exists(member string, kind epc.Kind, snippet, file string) (string, bool) {
	key := member + "|" + snippet + "|" + file
	v, ok := f.byMember[key]
	return v, ok
}

// S3: a CSS asset bound only at the intermediate "corporate.berlin" scope
// resolves for a request scoped to "berlin.christmas", falling through the
// chain past the most specific (non-existent) member.
func TestScenarioScopeResolution(t *testing.T) {
	lookup := &fakeArtifacts{byMember: map[string]string{
		"corporate.berlin|hero|": "berlin-hero.css",
	}}
	r := epc.New("corporate", lookup)

	existing := map[string]bool{
		"corporate":        true,
		"corporate.berlin": true,
	}
	chain := epc.ScopeChain("corporate", "berlin.christmas", existing)
	assert.Equal(t, []string{"corporate.berlin", "corporate"}, chain)

	got, err := r.Resolve(chain, epc.KindCSS, "hero", "")
	require.NoError(t, err)
	assert.Equal(t, "berlin-hero.css", got)
}

// S4: search intersection narrows as more query words are required, and
// among candidates matching every query word the one whose matches come
// earlier (e1's "rust" at position 1, inside the title region, versus e2's
// at position 5) ranks first.
func TestScenarioSearchIntersection(t *testing.T) {
	pageDef := &registry.Definition{Type: "page", Searchable: true, Indexable: []string{"title"}}
	f, _ := newTestFacade(t, pageDef)
	ctx := context.Background()

	e1, err := f.CreateEntity(ctx, "page", "e1", map[string]any{"title": "modern rust cms"})
	require.NoError(t, err)
	e2, err := f.CreateEntity(ctx, "page", "e2", map[string]any{"title": "modern xx xx xx xx rust"})
	require.NoError(t, err)
	_, err = f.CreateEntity(ctx, "page", "e3", map[string]any{"title": "modern"})
	require.NoError(t, err)

	three, err := f.SearchQuery(ctx, "modern rust cms", 10)
	require.NoError(t, err)
	require.Len(t, three, 1)
	assert.Equal(t, e1.ID, three[0].EntityID)

	two, err := f.SearchQuery(ctx, "modern rust", 10)
	require.NoError(t, err)
	ids := make([]string, len(two))
	for i, c := range two {
		ids[i] = c.EntityID
	}
	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, ids)
	assert.Equal(t, e1.ID, two[0].EntityID, "entity with the earlier matches ranks first")
}

// S5: Performance Cache eviction is TTL-driven, not size-driven (the
// volatile_lru Open Question resolution, DESIGN.md §Open Questions) — there
// is no in-process soft cap to overflow. This test checks the boundary
// between the two key classes from the protected side: FlushProtected (the
// first step of a PC rebuild) clears a protected entity key while leaving
// an expendable rendered-fragment key in place, and graph structure read
// from LC is unaffected. TTL expiry itself is not exercised here.
func TestScenarioCacheEvictionPreservesStructure(t *testing.T) {
	pageDef := &registry.Definition{Type: "page", Routable: true}
	f, store := newTestFacade(t, pageDef)
	ctx := context.Background()

	parent, err := f.CreateEntity(ctx, "page", "root", map[string]any{})
	require.NoError(t, err)
	child, err := f.CreateEntity(ctx, "page", "child", map[string]any{})
	require.NoError(t, err)
	_, err = f.Associate(ctx, parent.ID, child.ID, 0)
	require.NoError(t, err)

	pc := cache.NewLocal(0)
	require.NoError(t, pc.Set(ctx, "rendered:home", "<html/>", ucg.Expendable))
	require.NoError(t, pc.Set(ctx, "entity:"+parent.ID, "irrelevant-marker", ucg.Protected))

	require.NoError(t, pc.FlushProtected(ctx))
	_, ok, err := pc.Get(ctx, "entity:"+parent.ID)
	require.NoError(t, err)
	assert.False(t, ok, "FlushProtected clears protected keys ahead of a rebuild")

	_, ok, err = pc.Get(ctx, "rendered:home")
	require.NoError(t, err)
	assert.True(t, ok, "FlushProtected must not touch expendable keys")

	// Graph structure itself lives in LC and is untouched by any PC
	// eviction policy.
	children, err := store.Children(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ChildID)
}

// S6: content that trips a bound firewall rule is rejected before any
// entity is created — no partial write is observable.
func TestScenarioFirewallBlock(t *testing.T) {
	pageDef := &registry.Definition{Type: "page", Fields: map[string]*registry.FieldSchema{}}
	f, store := newTestFacade(t, pageDef)
	ctx := context.Background()

	f.fw.ReplaceRules(map[string][]firewall.RuleBinding{
		"page.body": {
			{Rule: firewall.BlockedTagsAndSchemes{}, Policy: firewall.PolicyBlock, Enabled: true},
		},
	})

	_, err := f.CreateEntity(ctx, "page", "bad", map[string]any{"body": "<script>x</script>"})
	require.Error(t, err)
	assert.Equal(t, coreerrors.ContentRejected, coreerrors.CategoryOf(err))

	_, err = f.ResolveRoute(ctx, "page", "bad")
	assert.Error(t, err, "no entity must exist for rejected content")

	all, err := store.Children(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}
