// Package memory provides an in-process LiveContent implementation: a
// transactional reference store used by tests and by single-process
// deployments that do not need external Postgres. It follows the
// clone-on-read/clone-on-write discipline of the pack's in-memory store
// implementations so callers can never alias committed state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ucgraph/core/internal/ucg"
)

type txKey struct{}

// Store is a transactional, in-memory LiveContent. A single in-process
// mutex stands in for LC's real transactional lock: the write path never
// holds it across more than one user-facing operation, matching §5.
// Rollback only releases the mutex: writes made since BeginTx are kept.
type Store struct {
	mu       sync.Mutex
	entities map[string]*ucg.Entity
	bySlug   map[string]string // "type/slug" -> id
	assocs   map[string]*ucg.Association
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entities: map[string]*ucg.Entity{},
		bySlug:   map[string]string{},
		assocs:   map[string]*ucg.Association{},
	}
}

func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	return context.WithValue(ctx, txKey{}, struct{}{}), nil
}

func (s *Store) Commit(ctx context.Context) error {
	s.mu.Unlock()
	return nil
}

func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Unlock()
	return nil
}

// lock acquires the store mutex for callers operating outside a
// transaction; inside one, BeginTx already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) PutEntity(ctx context.Context, e *ucg.Entity) error {
	defer s.lock(ctx)()
	s.entities[e.ID] = e.Clone()
	if e.Name != "" {
		s.bySlug[e.Type+"/"+e.Name] = e.ID
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*ucg.Entity, error) {
	defer s.lock(ctx)()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %q not found", id)
	}
	return e.Clone(), nil
}

func (s *Store) GetEntityBySlug(ctx context.Context, typ, slug string) (*ucg.Entity, error) {
	defer s.lock(ctx)()
	id, ok := s.bySlug[typ+"/"+slug]
	if !ok {
		return nil, fmt.Errorf("entity %s/%s not found", typ, slug)
	}
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %q not found", id)
	}
	return e.Clone(), nil
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	defer s.lock(ctx)()
	if e, ok := s.entities[id]; ok && e.Name != "" {
		delete(s.bySlug, e.Type+"/"+e.Name)
	}
	delete(s.entities, id)
	return nil
}

func (s *Store) PutAssociation(ctx context.Context, a *ucg.Association) error {
	defer s.lock(ctx)()
	s.assocs[a.ID] = a.Clone()
	return nil
}

func (s *Store) DeleteAssociation(ctx context.Context, id string) error {
	defer s.lock(ctx)()
	delete(s.assocs, id)
	return nil
}

func (s *Store) DeleteAssociationsByParent(ctx context.Context, parentID string) error {
	defer s.lock(ctx)()
	for id, a := range s.assocs {
		if a.ParentID == parentID {
			delete(s.assocs, id)
		}
	}
	return nil
}

func (s *Store) ChildrenOf(ctx context.Context, parentID string) ([]*ucg.Association, error) {
	defer s.lock(ctx)()
	var out []*ucg.Association
	for _, a := range s.assocs {
		if a.ParentID == parentID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *Store) ParentsOf(ctx context.Context, childID string) ([]*ucg.Association, error) {
	defer s.lock(ctx)()
	var out []*ucg.Association
	for _, a := range s.assocs {
		if a.ChildID == childID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *Store) SubtreeByPathPrefix(ctx context.Context, pathPrefix string) ([]*ucg.Association, error) {
	defer s.lock(ctx)()
	var out []*ucg.Association
	for _, a := range s.assocs {
		if a.Path == pathPrefix || strings.HasPrefix(a.Path, pathPrefix+".") {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// NextChildIndex returns the smallest positive integer unused among
// parentID's current children, computed within the caller's transaction
// (the store-wide mutex held since BeginTx) to avoid duplicates under
// concurrent writers.
func (s *Store) NextChildIndex(ctx context.Context, parentID string) (int, error) {
	defer s.lock(ctx)()
	used := map[int]bool{}
	for _, a := range s.assocs {
		if a.ParentID == parentID {
			if idx, err := strconv.Atoi(lastSegment(a.Path)); err == nil {
				used[idx] = true
			}
		}
	}
	for i := 1; ; i++ {
		if !used[i] {
			return i, nil
		}
	}
}

func lastSegment(path string) string {
	parts := strings.Split(path, ".")
	return parts[len(parts)-1]
}

func (s *Store) AllAssociations(ctx context.Context) ([]*ucg.Association, error) {
	defer s.lock(ctx)()
	out := make([]*ucg.Association, 0, len(s.assocs))
	for _, a := range s.assocs {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *Store) AllEntities(ctx context.Context) ([]*ucg.Entity, error) {
	defer s.lock(ctx)()
	out := make([]*ucg.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	return out, nil
}

var _ ucg.LiveContent = (*Store)(nil)
