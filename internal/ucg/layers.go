package ucg

import "context"

// LiveContent is the authoritative, transactional layer (LC). Production
// deployments back it with Postgres (internal/ucg/storage/postgres); tests
// use an in-memory implementation (internal/ucg/storage/memory) whose
// transactions serialise writers but whose Rollback does not undo writes.
type LiveContent interface {
	BeginTx(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	PutEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	GetEntityBySlug(ctx context.Context, typ, slug string) (*Entity, error)
	DeleteEntity(ctx context.Context, id string) error

	PutAssociation(ctx context.Context, a *Association) error
	DeleteAssociation(ctx context.Context, id string) error
	DeleteAssociationsByParent(ctx context.Context, parentID string) error
	ChildrenOf(ctx context.Context, parentID string) ([]*Association, error)
	ParentsOf(ctx context.Context, childID string) ([]*Association, error)
	SubtreeByPathPrefix(ctx context.Context, pathPrefix string) ([]*Association, error)
	NextChildIndex(ctx context.Context, parentID string) (int, error)

	AllAssociations(ctx context.Context) ([]*Association, error)
	AllEntities(ctx context.Context) ([]*Entity, error)
}

// KeyClass distinguishes PC's two eviction classes (§4.4.4).
type KeyClass int

const (
	Protected  KeyClass = iota // no TTL; entities, associations, children sets, word sets
	Expendable                 // TTL; rendered fragments, sessions, compiled templates
)

// PerformanceCache is the volatile, rebuildable layer (PC).
type PerformanceCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, class KeyClass) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	FlushProtected(ctx context.Context) error
	Available(ctx context.Context) bool
}

// StructuralBackup is the compressed, eventually-consistent snapshot layer
// (SB). Writes are queued and applied by a background resync worker.
type StructuralBackup interface {
	EnqueueResync(ctx context.Context, job ResyncJob) error
	QueueDepth() int
}

// ResyncJob names what must be re-derived into SB; the worker walks LC for
// the actual content rather than carrying it inline.
type ResyncJob struct {
	Kind     string // "association" | "schema"
	EntityID string
}

// SearchIndexer is the observer UCG writes project into (internal/search
// implements this without importing this package, avoiding a cycle).
type SearchIndexer interface {
	IndexEntity(ctx context.Context, entityID, entityType string, searchableText map[string]string) error
	RemoveEntity(ctx context.Context, entityID string) error
}
