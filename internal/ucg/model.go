// Package ucg implements the Universal Content Graph: the entity+association
// substrate, the four-layer storage coherency protocol, and the write/read
// paths that mediate between them.
package ucg

import "time"

// State is the entity lifecycle state machine (§4.4.5).
type State string

const (
	StateDraft    State = "draft"
	StateAttached State = "attached"
	StateOrphaned State = "orphaned"
	StateDeleted  State = "deleted"
)

// Entity is an identified node in the graph.
type Entity struct {
	ID         string
	Type       string
	Name       string // optional semantic name, unique per type
	Fields     map[string]any
	Content    map[string]map[string]string // locale -> field -> localized value
	State      State
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Association is a directed, ordered edge between two entities.
type Association struct {
	ID        string
	ParentID  string // empty => root
	ChildID   string
	Weight    int
	Depth     int
	Path      string // dotted materialised path, e.g. "1.2.3"
	CreatedAt time.Time
}

// Clone returns a deep-enough copy of e so that callers holding references
// into a layer's internal maps cannot mutate committed state (mirrors the
// clone-on-read/clone-on-write discipline of the teacher's in-memory store).
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Fields = make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		out.Fields[k] = v
	}
	out.Content = make(map[string]map[string]string, len(e.Content))
	for locale, fields := range e.Content {
		fc := make(map[string]string, len(fields))
		for k, v := range fields {
			fc[k] = v
		}
		out.Content[locale] = fc
	}
	return &out
}

// Clone returns a shallow copy of a (Association has no nested mutable
// fields so a value copy suffices).
func (a *Association) Clone() *Association {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}
