package ucg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/ucgraph/core/pkg/errors"
	"github.com/ucgraph/core/pkg/logging"
	"github.com/ucgraph/core/pkg/metrics"
	"github.com/ucgraph/core/pkg/retry"
	"github.com/ucgraph/core/internal/firewall"
	"github.com/ucgraph/core/internal/registry"
)

// Option configures a Store at construction time, following the
// functional-options idiom used throughout the owning services.
type Option func(*Store)

func WithSearchIndexer(s SearchIndexer) Option { return func(st *Store) { st.search = s } }
func WithMetrics(m *metrics.Metrics) Option     { return func(st *Store) { st.metrics = m } }

// Store is the UCG component: it owns the graph and coordinates the four
// storage layers. Registry and Firewall are consulted but not owned.
type Store struct {
	lc  LiveContent
	pc  PerformanceCache
	sb  StructuralBackup
	reg *registry.Registry
	fw  *firewall.Engine

	search  SearchIndexer
	metrics *metrics.Metrics
	log     *logging.Logger
}

// New builds a Store. lc must not be nil; pc and sb may be nil, in which
// case the corresponding degraded-mode behaviour of §4.4.4 applies
// immediately rather than only under failure.
func New(lc LiveContent, pc PerformanceCache, sb StructuralBackup, reg *registry.Registry, fw *firewall.Engine, log *logging.Logger, opts ...Option) *Store {
	s := &Store{lc: lc, pc: pc, sb: sb, reg: reg, fw: fw, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) recordWrite(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordWrite(op, status, time.Since(start))
}

// CreateEntity validates against Registry, runs the Firewall over every
// incoming field, commits the entity row to LC, and — if the type carries
// a composition rule — auto-instantiates and associates the declared
// children at weights 0, 10, 20, ….
func (s *Store) CreateEntity(ctx context.Context, typ, name string, fields map[string]any) (*Entity, error) {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("create_entity", start, err) }()

	if !s.reg.IsKnown(typ) {
		err = coreerrors.NewValidation("type", fmt.Sprintf("unknown type %q", typ))
		return nil, err
	}
	if verr := s.reg.Validate(typ, fields); verr != nil {
		err = verr
		return nil, err
	}

	sanitized, ferr := s.runFirewallOnFields(ctx, typ, fields)
	if ferr != nil {
		err = ferr
		return nil, err
	}

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}

	if name != "" {
		if _, lookupErr := s.lc.GetEntityBySlug(ctx, typ, name); lookupErr == nil {
			_ = s.lc.Rollback(ctx)
			err = coreerrors.NewConflict("semantic name", fmt.Sprintf("%s/%s already exists", typ, name))
			return nil, err
		}
	}

	now := time.Now().UTC()
	e := &Entity{
		ID:         uuid.NewString(),
		Type:       typ,
		Name:       name,
		Fields:     sanitized,
		Content:    map[string]map[string]string{},
		State:      StateDraft,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err = s.lc.PutEntity(ctx, e); err != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}

	if comp := s.reg.CompositionOf(typ); comp != nil {
		for i, childType := range comp.Children {
			child := &Entity{
				ID:         uuid.NewString(),
				Type:       childType,
				Content:    map[string]map[string]string{},
				Fields:     map[string]any{},
				State:      StateDraft,
				CreatedAt:  now,
				ModifiedAt: now,
			}
			if err = s.lc.PutEntity(ctx, child); err != nil {
				_ = s.lc.Rollback(ctx)
				err = coreerrors.NewStorageUnavailable("lc", err)
				return nil, err
			}
			if _, err = s.associateLocked(ctx, e.ID, child.ID, i*10); err != nil {
				_ = s.lc.Rollback(ctx)
				return nil, err
			}
		}
	}

	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}

	s.afterCommit(ctx, e)
	return e, nil
}

// UpdateEntity re-validates and re-fires the firewall over the fields being
// changed, then commits in place.
func (s *Store) UpdateEntity(ctx context.Context, id string, fields map[string]any) (*Entity, error) {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("update_entity", start, err) }()

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	e, gerr := s.lc.GetEntity(ctx, id)
	if gerr != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewNotFound("entity", id)
		return nil, err
	}

	merged := make(map[string]any, len(e.Fields)+len(fields))
	for k, v := range e.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if verr := s.reg.Validate(e.Type, merged); verr != nil {
		_ = s.lc.Rollback(ctx)
		err = verr
		return nil, err
	}
	sanitized, ferr := s.runFirewallOnFields(ctx, e.Type, fields)
	if ferr != nil {
		_ = s.lc.Rollback(ctx)
		err = ferr
		return nil, err
	}
	for k, v := range sanitized {
		e.Fields[k] = v
	}
	e.ModifiedAt = time.Now().UTC()
	if err = s.lc.PutEntity(ctx, e); err != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	s.afterCommit(ctx, e)
	return e, nil
}

// DeleteEntity removes e's LC row and cascades to its associations and, when
// a composition rule is present, recursively to its composed children (P9).
// No tombstone is kept: nothing sets StateDeleted, and a deleted entity is
// simply absent from LC.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("delete_entity", start, err) }()

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return err
	}
	e, gerr := s.lc.GetEntity(ctx, id)
	if gerr != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewNotFound("entity", id)
		return err
	}

	var deleted []string
	if err = s.cascadeDelete(ctx, e, &deleted); err != nil {
		_ = s.lc.Rollback(ctx)
		return err
	}
	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return err
	}

	for _, id := range deleted {
		s.afterDelete(ctx, id)
	}
	return nil
}

// cascadeDelete removes e and, for composite types, its exclusively-owned
// composed children; every deleted entity id is appended to deleted so the
// caller can clear PC/search projections after commit.
func (s *Store) cascadeDelete(ctx context.Context, e *Entity, deleted *[]string) error {
	comp := s.reg.CompositionOf(e.Type)
	if comp != nil {
		children, err := s.lc.ChildrenOf(ctx, e.ID)
		if err != nil {
			return coreerrors.NewStorageUnavailable("lc", err)
		}
		for _, a := range children {
			child, gerr := s.lc.GetEntity(ctx, a.ChildID)
			if gerr == nil {
				parents, _ := s.lc.ParentsOf(ctx, child.ID)
				if len(parents) <= 1 {
					if err := s.cascadeDelete(ctx, child, deleted); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := s.lc.DeleteAssociationsByParent(ctx, e.ID); err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	// Edges pointing at e from parents outside the cascade must go too, or
	// they would dangle against a deleted child.
	parents, err := s.lc.ParentsOf(ctx, e.ID)
	if err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	for _, a := range parents {
		if err := s.lc.DeleteAssociation(ctx, a.ID); err != nil {
			return coreerrors.NewStorageUnavailable("lc", err)
		}
	}
	if err := s.lc.DeleteEntity(ctx, e.ID); err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	*deleted = append(*deleted, e.ID)
	return nil
}

// Associate creates a directed edge parent->child at weight, computing the
// materialised path from commit-order position (§4.4.2 step 3).
func (s *Store) Associate(ctx context.Context, parentID, childID string, weight int) (*Association, error) {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("associate", start, err) }()

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	a, aerr := s.associateLocked(ctx, parentID, childID, weight)
	if aerr != nil {
		_ = s.lc.Rollback(ctx)
		err = aerr
		return nil, err
	}
	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	s.afterAssociate(ctx, a)
	return a, nil
}

// checkDepthCaps walks from startID up through every ancestor association,
// enforcing spec.md's "no association rooted in a T entity exceeds depth D"
// against every ancestor that declares a max_nesting_depth, not just the
// immediate parent. hops is the number of edges between startID and the
// association being checked (1 for a direct child of startID); each step
// further up the chain adds one hop.
func (s *Store) checkDepthCaps(ctx context.Context, startID string, hops int) error {
	currentID := startID
	for {
		entity, err := s.lc.GetEntity(ctx, currentID)
		if err != nil {
			return coreerrors.NewStorageUnavailable("lc", err)
		}
		if def := s.reg.Definition(entity.Type); def != nil && def.MaxNestingDepth != nil && hops-1 > *def.MaxNestingDepth {
			return coreerrors.NewValidation("depth", fmt.Sprintf("exceeds max_nesting_depth %d rooted at %s", *def.MaxNestingDepth, entity.Type))
		}
		parents, err := s.lc.ParentsOf(ctx, currentID)
		if err != nil {
			return coreerrors.NewStorageUnavailable("lc", err)
		}
		if len(parents) == 0 {
			return nil
		}
		currentID = parents[0].ParentID
		hops++
	}
}

// associateLocked must run inside an already-open LC transaction; it is
// shared by CreateEntity's composition step and the public Associate call
// so next_index is always computed within the same transaction that
// commits the row (avoids duplicate positional indices under concurrency).
func (s *Store) associateLocked(ctx context.Context, parentID, childID string, weight int) (*Association, error) {
	if _, err := s.lc.GetEntity(ctx, parentID); err != nil {
		return nil, coreerrors.NewNotFound("entity", parentID)
	}
	if _, err := s.lc.GetEntity(ctx, childID); err != nil {
		return nil, coreerrors.NewNotFound("entity", childID)
	}
	siblings, err := s.lc.ChildrenOf(ctx, parentID)
	if err != nil {
		return nil, coreerrors.NewStorageUnavailable("lc", err)
	}
	for _, a := range siblings {
		if a.ChildID == childID {
			return nil, coreerrors.NewConflict("association", fmt.Sprintf("%s already a child of %s", childID, parentID))
		}
	}

	// Root entities carry no path prefix; a parent that is itself
	// attached somewhere contributes its own path as our prefix.
	parentPath := ""
	parentAssocs, _ := s.lc.ParentsOf(ctx, parentID)
	if len(parentAssocs) > 0 {
		parentPath = parentAssocs[0].Path
	}

	if err := s.checkDepthCaps(ctx, parentID, 1); err != nil {
		return nil, err
	}

	idx, err := s.lc.NextChildIndex(ctx, parentID)
	if err != nil {
		return nil, coreerrors.NewStorageUnavailable("lc", err)
	}
	path := strconv.Itoa(idx)
	if parentPath != "" {
		path = parentPath + "." + path
	}
	depth := strings.Count(path, ".")

	a := &Association{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		ChildID:   childID,
		Weight:    weight,
		Depth:     depth,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.lc.PutAssociation(ctx, a); err != nil {
		return nil, coreerrors.NewStorageUnavailable("lc", err)
	}
	if err := s.markAttached(ctx, childID); err != nil {
		return nil, err
	}
	return a, nil
}

// markAttached transitions childID's state machine to Attached (§4.4.5
// associate→Attached) if it is not already there.
func (s *Store) markAttached(ctx context.Context, childID string) error {
	child, err := s.lc.GetEntity(ctx, childID)
	if err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	if child.State == StateAttached {
		return nil
	}
	child.State = StateAttached
	if err := s.lc.PutEntity(ctx, child); err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	return nil
}

// markOrphanedIfDetached transitions childID's state machine to Orphaned
// (§4.4.5 last disassociate→Orphaned) once it no longer has any parent
// association. A deleted entity (absent from LC) is left alone.
func (s *Store) markOrphanedIfDetached(ctx context.Context, childID string) error {
	remaining, err := s.lc.ParentsOf(ctx, childID)
	if err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	if len(remaining) > 0 {
		return nil
	}
	child, err := s.lc.GetEntity(ctx, childID)
	if err != nil {
		return nil
	}
	if child.State == StateOrphaned {
		return nil
	}
	child.State = StateOrphaned
	if err := s.lc.PutEntity(ctx, child); err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	return nil
}

// Disassociate removes the edge; if it was the child's only attachment the
// child transitions to Orphaned (it is not deleted).
func (s *Store) Disassociate(ctx context.Context, associationID string) error {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("disassociate", start, err) }()

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return err
	}
	childID, gerr := s.associationChild(ctx, associationID)
	if gerr != nil {
		_ = s.lc.Rollback(ctx)
		err = gerr
		return err
	}
	if err = s.lc.DeleteAssociation(ctx, associationID); err != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewStorageUnavailable("lc", err)
		return err
	}
	if childID != "" {
		if err = s.markOrphanedIfDetached(ctx, childID); err != nil {
			_ = s.lc.Rollback(ctx)
			return err
		}
	}
	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return err
	}
	if s.pc != nil && childID != "" {
		_ = s.pc.Delete(ctx, "entity:"+childID)
	}
	s.invalidateStructural(ctx)
	return nil
}

// associationChild looks up the child end of associationID so Disassociate
// can re-check the child's state machine after the edge is removed.
func (s *Store) associationChild(ctx context.Context, associationID string) (string, error) {
	all, err := s.lc.AllAssociations(ctx)
	if err != nil {
		return "", coreerrors.NewStorageUnavailable("lc", err)
	}
	for _, a := range all {
		if a.ID == associationID {
			return a.ChildID, nil
		}
	}
	return "", coreerrors.NewNotFound("association", associationID)
}

// Move detaches child from its current parent and reattaches it under
// newParent at newWeight, recomputing descendant paths in the same
// transaction and re-checking the moved subtree's depth cap.
func (s *Store) Move(ctx context.Context, childID, newParentID string, newWeight int) (*Association, error) {
	start := time.Now()
	var err error
	defer func() { s.recordWrite("move", start, err) }()

	ctx, err = s.lc.BeginTx(ctx)
	if err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}

	oldParents, _ := s.lc.ParentsOf(ctx, childID)
	var oldPath string
	if len(oldParents) > 0 {
		oldPath = oldParents[0].Path
	}
	var descendants []*Association
	if oldPath != "" {
		descendants, err = s.lc.SubtreeByPathPrefix(ctx, oldPath)
		if err != nil {
			_ = s.lc.Rollback(ctx)
			err = coreerrors.NewStorageUnavailable("lc", err)
			return nil, err
		}
	}
	// Validate the destination before any row is touched: a failed Move
	// must leave no state change behind. The subtree's hop counts below
	// newParentID are fully determined by the old depths, so the depth cap
	// is checkable up front too.
	if _, gerr := s.lc.GetEntity(ctx, newParentID); gerr != nil {
		_ = s.lc.Rollback(ctx)
		err = coreerrors.NewNotFound("entity", newParentID)
		return nil, err
	}
	maxHops := 1
	oldDepth := strings.Count(oldPath, ".")
	for _, d := range descendants {
		if d.Path == oldPath {
			continue
		}
		if hops := 1 + (d.Depth - oldDepth); hops > maxHops {
			maxHops = hops
		}
	}
	if err = s.checkDepthCaps(ctx, newParentID, maxHops); err != nil {
		_ = s.lc.Rollback(ctx)
		return nil, err
	}

	for _, a := range oldParents {
		if err = s.lc.DeleteAssociation(ctx, a.ID); err != nil {
			_ = s.lc.Rollback(ctx)
			err = coreerrors.NewStorageUnavailable("lc", err)
			return nil, err
		}
	}

	a, aerr := s.associateLocked(ctx, newParentID, childID, newWeight)
	if aerr != nil {
		_ = s.lc.Rollback(ctx)
		err = aerr
		return nil, err
	}

	// Rewrite every descendant association's materialised path so it keeps
	// the new position as its prefix.
	for _, d := range descendants {
		if d.ID == a.ID || d.Path == oldPath {
			continue
		}
		d.Path = a.Path + strings.TrimPrefix(d.Path, oldPath)
		d.Depth = strings.Count(d.Path, ".")
		if err = s.lc.PutAssociation(ctx, d); err != nil {
			_ = s.lc.Rollback(ctx)
			err = coreerrors.NewStorageUnavailable("lc", err)
			return nil, err
		}
	}

	if err = s.lc.Commit(ctx); err != nil {
		err = coreerrors.NewStorageUnavailable("lc", err)
		return nil, err
	}
	s.afterAssociate(ctx, a)
	return a, nil
}

func (s *Store) runFirewallOnFields(ctx context.Context, typ string, fields map[string]any) (map[string]any, error) {
	if s.fw == nil {
		return fields, nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		sv, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		clean, err := s.fw.Apply(ctx, typ+"."+k, sv)
		if err != nil {
			return nil, err
		}
		out[k] = clean
	}
	return out, nil
}

// ---- post-commit projections (fire-and-forget, §5) ----

func (s *Store) afterCommit(ctx context.Context, e *Entity) {
	s.writeProtectedEntity(ctx, e)
	if def := s.reg.Definition(e.Type); def != nil && def.Searchable && s.search != nil {
		text := map[string]string{}
		for _, f := range def.Indexable {
			switch v := e.Fields[f].(type) {
			case string:
				text[f] = v
			case nil:
			default:
				if flat := flattenFieldText(v); flat != "" {
					text[f] = flat
				}
			}
		}
		if err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}, func() error {
			return s.search.IndexEntity(ctx, e.ID, e.Type, text)
		}); err != nil {
			s.log.WithError(err).Warn("search indexing failed after retries")
		}
	}
	if s.sb != nil {
		if err := s.sb.EnqueueResync(ctx, ResyncJob{Kind: "association", EntityID: e.ID}); err != nil {
			s.log.WithError(err).Warn("structural backup enqueue failed")
		}
	}
}

func (s *Store) afterAssociate(ctx context.Context, a *Association) {
	// The child's State changed in LC; drop its protected blob so the next
	// read repopulates rather than serving the pre-association state.
	if s.pc != nil {
		_ = s.pc.Delete(ctx, "entity:"+a.ChildID)
	}
	s.invalidateStructural(ctx)
	if s.sb != nil {
		_ = s.sb.EnqueueResync(ctx, ResyncJob{Kind: "association", EntityID: a.ChildID})
	}
}

func (s *Store) afterDelete(ctx context.Context, entityID string) {
	// Search removal reads entity:<id>:words to find the word sets to leave,
	// so it runs before the PC purge below deletes that key.
	if s.search != nil {
		if err := s.search.RemoveEntity(ctx, entityID); err != nil {
			s.log.WithError(err).Warn("search removal failed")
		}
	}
	if s.pc != nil {
		_ = s.pc.DeletePrefix(ctx, "entity:"+entityID)
	}
	s.invalidateStructural(ctx)
}

func (s *Store) writeProtectedEntity(ctx context.Context, e *Entity) {
	if s.pc == nil {
		return
	}
	blob, err := json.Marshal(e)
	if err != nil {
		s.log.LogDegraded(ctx, "pc", err.Error())
		return
	}
	if err := s.pc.Set(ctx, "entity:"+e.ID, string(blob), Protected); err != nil {
		s.log.LogDegraded(ctx, "pc", err.Error())
	}
}

func (s *Store) invalidateStructural(ctx context.Context) {
	if s.pc == nil {
		return
	}
	_ = s.pc.DeletePrefix(ctx, "assoc:")
	_ = s.pc.DeletePrefix(ctx, "children:")
}

// ---- read path (§4.4.3) ----

// GetEntity serves from PC when available, falling back to LC on miss
// (read-your-writes is satisfied because CreateEntity/UpdateEntity commit
// to LC before any PC write is attempted). A PC miss is repopulated from LC
// so the next read hits the cache.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	start := time.Now()
	if s.pc != nil {
		if blob, ok, err := s.pc.Get(ctx, "entity:"+id); err == nil && ok {
			var e Entity
			if err := json.Unmarshal([]byte(blob), &e); err == nil {
				if s.metrics != nil {
					s.metrics.RecordRead("content", "ok", time.Since(start))
				}
				return e.Clone(), nil
			}
		}
	}
	e, err := s.lc.GetEntity(ctx, id)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordRead("content", status, time.Since(start))
	}
	if err != nil {
		return nil, coreerrors.NewNotFound("entity", id)
	}
	s.writeProtectedEntity(ctx, e)
	return e.Clone(), nil
}

// GetBySlug resolves a routable entity by (type, slug); only routable types
// are looked up (§4.4.3 Routing).
func (s *Store) GetBySlug(ctx context.Context, typ, slug string) (*Entity, error) {
	def := s.reg.Definition(typ)
	if def == nil || !def.Routable {
		return nil, coreerrors.NewNotFound("entity", slug)
	}
	e, err := s.lc.GetEntityBySlug(ctx, typ, slug)
	if err != nil {
		return nil, coreerrors.NewNotFound("entity", slug)
	}
	return e.Clone(), nil
}

// Children returns parentID's children ordered (weight ASC, created_at ASC,
// id ASC) — P1.
func (s *Store) Children(ctx context.Context, parentID string) ([]*Association, error) {
	assocs, err := s.lc.ChildrenOf(ctx, parentID)
	if err != nil {
		return nil, coreerrors.NewStorageUnavailable("lc", err)
	}
	sortAssociations(assocs)
	return assocs, nil
}

func sortAssociations(a []*Association) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0; j-- {
			if less(a[j], a[j-1]) {
				a[j], a[j-1] = a[j-1], a[j]
			} else {
				break
			}
		}
	}
}

func less(x, y *Association) bool {
	if x.Weight != y.Weight {
		return x.Weight < y.Weight
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID < y.ID
}

// Subtree returns every association whose path is at or below root's path,
// served as the structural half of a Combined read (§4.4.3).
func (s *Store) Subtree(ctx context.Context, pathPrefix string) ([]*Association, error) {
	out, err := s.lc.SubtreeByPathPrefix(ctx, pathPrefix)
	if err != nil {
		return nil, coreerrors.NewStorageUnavailable("lc", err)
	}
	sortAssociations(out)
	return out, nil
}

// RebuildPC performs the Startup-step-3 streaming rebuild: entities,
// associations, child sets, then (via the search indexer) the search
// index. It is also the recovery path after PC loses structural keys
// entirely (§4.4.4 rebuild mode).
func (s *Store) RebuildPC(ctx context.Context) error {
	if s.pc == nil {
		return nil
	}
	if err := s.pc.FlushProtected(ctx); err != nil {
		return coreerrors.NewStorageUnavailable("pc", err)
	}
	entities, err := s.lc.AllEntities(ctx)
	if err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	for _, e := range entities {
		s.writeProtectedEntity(ctx, e)
	}
	assocs, err := s.lc.AllAssociations(ctx)
	if err != nil {
		return coreerrors.NewStorageUnavailable("lc", err)
	}
	for _, a := range assocs {
		_ = s.pc.Set(ctx, "assoc:"+a.Path, a.ID, Protected)
	}
	if s.metrics != nil {
		s.metrics.PCRebuildsTotal.Inc()
	}
	return nil
}
