// Package facade exposes the typed operation surface external
// collaborators (a command shell, a web/render layer) call into; it ships
// no HTTP router or CLI binary of its own — those are out of scope.
package facade

import (
	"context"
	"sync/atomic"

	"github.com/ucgraph/core/internal/configstore"
	"github.com/ucgraph/core/internal/epc"
	"github.com/ucgraph/core/internal/firewall"
	"github.com/ucgraph/core/internal/registry"
	"github.com/ucgraph/core/internal/search"
	"github.com/ucgraph/core/internal/ucg"
	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
)

// reloadable groups every component that must be swapped atomically
// together on a successful Config Store reload (§5 Shared-resource
// policy). reg is not rebuilt here: it is the single Registry instance
// shared with the Store (passed in at construction), mutated in place via
// Replace so both the facade's type lookups and the Store's write-path
// validation observe the same atomic swap.
type reloadable struct {
	bundle *configstore.ConfigBundle
	trans  *epc.TranslationTable
}

// Facade is the single entry point external collaborators depend on.
type Facade struct {
	store *ucg.Store
	fw    *firewall.Engine
	idx   *search.Index
	reg   *registry.Registry
	ver   atomic.Pointer[reloadable]
	log   *logging.Logger
}

// New builds a Facade over a Store already constructed with reg. Call
// ReloadConfig once before serving any request to populate the initial
// Registry/translation table.
func New(store *ucg.Store, fw *firewall.Engine, idx *search.Index, reg *registry.Registry, log *logging.Logger) *Facade {
	f := &Facade{store: store, fw: fw, idx: idx, reg: reg, log: log}
	f.ver.Store(&reloadable{})
	return f
}

func (f *Facade) current() *reloadable { return f.ver.Load() }

// ReloadConfig parses configRoot into a fresh ConfigBundle, builds a new
// Registry snapshot, Firewall rule table and translation table, and
// atomically swaps them all in. On failure the previous Registry and
// Firewall rules remain in effect (§4.4.4 CS failure semantics).
func (f *Facade) ReloadConfig(configRoot string) error {
	bundle, diags, err := configstore.Load(configRoot)
	if err != nil {
		return coreerrors.NewConfigError("config reload failed", err)
	}
	for _, d := range diags {
		f.log.WithField("diagnostic", d.Error()).Warn("config parse diagnostic")
	}
	built, err := bundle.BuildRegistry()
	if err != nil {
		return coreerrors.NewConfigError("registry build failed", err)
	}
	fwTable, err := bundle.BuildFirewallTable()
	if err != nil {
		return coreerrors.NewConfigError("firewall rule build failed", err)
	}
	f.reg.Replace(built)
	f.fw.ReplaceRules(fwTable)
	trans := epc.BuildTranslationTable(bundle.Translations)
	f.ver.Store(&reloadable{bundle: bundle, trans: trans})
	return nil
}

// ---- Command-shell-facing operations (§6) ----

func (f *Facade) CreateEntity(ctx context.Context, typ, name string, fields map[string]any) (*ucg.Entity, error) {
	return f.store.CreateEntity(ctx, typ, name, fields)
}

func (f *Facade) UpdateEntity(ctx context.Context, id string, fields map[string]any) (*ucg.Entity, error) {
	return f.store.UpdateEntity(ctx, id, fields)
}

func (f *Facade) DeleteEntity(ctx context.Context, id string) error {
	return f.store.DeleteEntity(ctx, id)
}

func (f *Facade) GetEntity(ctx context.Context, id string) (*ucg.Entity, error) {
	return f.store.GetEntity(ctx, id)
}

func (f *Facade) ListChildren(ctx context.Context, parentID string) ([]*ucg.Association, error) {
	return f.store.Children(ctx, parentID)
}

func (f *Facade) Associate(ctx context.Context, parentID, childID string, weight int) (*ucg.Association, error) {
	return f.store.Associate(ctx, parentID, childID, weight)
}

func (f *Facade) Disassociate(ctx context.Context, associationID string) error {
	return f.store.Disassociate(ctx, associationID)
}

func (f *Facade) Move(ctx context.Context, childID, newParentID string, newWeight int) (*ucg.Association, error) {
	return f.store.Move(ctx, childID, newParentID, newWeight)
}

// DefineType exposes registry definition for inspection by a CLI; defining
// new types happens via Config Store files and ReloadConfig, not here.
func (f *Facade) DefineType(typ string) *registry.Definition {
	return f.reg.Definition(typ)
}

func (f *Facade) ListTypes() []string {
	return f.reg.RoutableTypes()
}

// SearchQuery runs a ranked multi-word search, gated by Registry
// searchability (the caller is expected to have only indexed searchable
// types; Query itself does not re-check REG per call).
func (f *Facade) SearchQuery(ctx context.Context, query string, topN int) ([]search.Candidate, error) {
	return f.idx.Query(ctx, query, topN)
}

// RebuildCache runs the Startup-step-3 streaming PC rebuild on demand.
func (f *Facade) RebuildCache(ctx context.Context) error {
	return f.store.RebuildPC(ctx)
}

// RecoverFromBackup is a placeholder facade seam: SB recovery in this
// architecture is "CS + LC jointly suffice to rebuild PC and SB" (§4.4.1
// Invariant L3) — LC itself is recoverable only from external backups,
// which are outside this repository's scope. This operation triggers a PC
// rebuild, which is the only in-process recovery action available.
func (f *Facade) RecoverFromBackup(ctx context.Context) error {
	return f.store.RebuildPC(ctx)
}

// ---- Web/render-layer-facing operations (§6) ----

// ResolveRoute resolves slug to an entity of a routable type, or NotFound.
func (f *Facade) ResolveRoute(ctx context.Context, typ, slug string) (*ucg.Entity, error) {
	return f.store.GetBySlug(ctx, typ, slug)
}

// RenderContext returns a subtree's structure alongside each node's
// content, implementing the "Combined" read kind (§4.4.3).
type RenderContext struct {
	Root     *ucg.Entity
	Children []*ucg.Association
	Content  map[string]*ucg.Entity // child association ID -> entity
}

func (f *Facade) RenderContext(ctx context.Context, rootID string) (*RenderContext, error) {
	root, err := f.store.GetEntity(ctx, rootID)
	if err != nil {
		return nil, err
	}
	children, err := f.store.Children(ctx, rootID)
	if err != nil {
		return nil, err
	}
	content := make(map[string]*ucg.Entity, len(children))
	for _, a := range children {
		e, err := f.store.GetEntity(ctx, a.ChildID)
		if err != nil {
			continue
		}
		content[a.ID] = e
	}
	return &RenderContext{Root: root, Children: children, Content: content}, nil
}

func (f *Facade) Search(ctx context.Context, query string, topN int) ([]search.Candidate, error) {
	return f.SearchQuery(ctx, query, topN)
}

func (f *Facade) ResolveTranslation(locale, key, snippetScope, pluginScope string) string {
	r := f.current()
	if r.trans == nil {
		return "[" + key + "]"
	}
	return r.trans.Resolve(locale, key, snippetScope, pluginScope)
}

func (f *Facade) ApplyFirewallOnEmit(ctx context.Context, templateKey, value string) (string, error) {
	return f.fw.Apply(ctx, templateKey, value)
}

// RebalanceChildren is the explicit admin operation resolving the
// fractional-weight Open Question (§9): it renumbers parentID's children to
// dense weights 0, 10, 20, … in their current order without otherwise
// changing the graph.
func (f *Facade) RebalanceChildren(ctx context.Context, parentID string) error {
	children, err := f.store.Children(ctx, parentID)
	if err != nil {
		return err
	}
	for i, a := range children {
		if _, err := f.store.Move(ctx, a.ChildID, parentID, i*10); err != nil {
			return err
		}
	}
	return nil
}
