// Package postgres implements the Live Content layer on top of PostgreSQL,
// adapted from the owning repository's BaseStore tx-in-context pattern:
// transactions are threaded through context.Context rather than passed as
// an explicit parameter, so Store's write-path methods can call
// LiveContent without knowing whether a transaction is open.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ucgraph/core/internal/ucg"
)

type txKey struct{}

// Store is the Postgres-backed LiveContent.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sqlx.DB. Migrations are applied separately
// via golang-migrate (see Migrate).
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, letting every method
// below run unchanged whether or not a transaction is open.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (s *Store) querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, txKey{}, tx), nil
}

func (s *Store) Commit(ctx context.Context) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return nil
	}
	return tx.Commit()
}

func (s *Store) Rollback(ctx context.Context) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return nil
	}
	return tx.Rollback()
}

type entityRow struct {
	ID         string          `db:"id"`
	Type       string          `db:"type"`
	Name       sql.NullString  `db:"name"`
	Fields     json.RawMessage `db:"fields"`
	Content    json.RawMessage `db:"content"`
	State      string          `db:"state"`
	CreatedAt  sql.NullTime    `db:"created_at"`
	ModifiedAt sql.NullTime    `db:"modified_at"`
}

func toRow(e *ucg.Entity) (*entityRow, error) {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(e.Content)
	if err != nil {
		return nil, err
	}
	row := &entityRow{
		ID:        e.ID,
		Type:      e.Type,
		Fields:    fields,
		Content:   content,
		State:     string(e.State),
	}
	if e.Name != "" {
		row.Name = sql.NullString{String: e.Name, Valid: true}
	}
	row.CreatedAt = sql.NullTime{Time: e.CreatedAt, Valid: !e.CreatedAt.IsZero()}
	row.ModifiedAt = sql.NullTime{Time: e.ModifiedAt, Valid: !e.ModifiedAt.IsZero()}
	return row, nil
}

func fromRow(row *entityRow) (*ucg.Entity, error) {
	e := &ucg.Entity{
		ID:         row.ID,
		Type:       row.Type,
		State:      ucg.State(row.State),
		CreatedAt:  row.CreatedAt.Time,
		ModifiedAt: row.ModifiedAt.Time,
	}
	if row.Name.Valid {
		e.Name = row.Name.String
	}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &e.Fields); err != nil {
			return nil, err
		}
	} else {
		e.Fields = map[string]any{}
	}
	if len(row.Content) > 0 {
		if err := json.Unmarshal(row.Content, &e.Content); err != nil {
			return nil, err
		}
	} else {
		e.Content = map[string]map[string]string{}
	}
	return e, nil
}

const upsertEntitySQL = `
INSERT INTO ucg_entities (id, type, name, fields, content, state, created_at, modified_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  type = EXCLUDED.type, name = EXCLUDED.name, fields = EXCLUDED.fields,
  content = EXCLUDED.content, state = EXCLUDED.state, modified_at = EXCLUDED.modified_at`

func (s *Store) PutEntity(ctx context.Context, e *ucg.Entity) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	_, err = s.querier(ctx).ExecContext(ctx, upsertEntitySQL,
		row.ID, row.Type, row.Name, row.Fields, row.Content, row.State, row.CreatedAt, row.ModifiedAt)
	return err
}

func (s *Store) GetEntity(ctx context.Context, id string) (*ucg.Entity, error) {
	var row entityRow
	err := s.querier(ctx).GetContext(ctx, &row, `SELECT id, type, name, fields, content, state, created_at, modified_at FROM ucg_entities WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *Store) GetEntityBySlug(ctx context.Context, typ, slug string) (*ucg.Entity, error) {
	var row entityRow
	err := s.querier(ctx).GetContext(ctx, &row, `SELECT id, type, name, fields, content, state, created_at, modified_at FROM ucg_entities WHERE type = $1 AND name = $2`, typ, slug)
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM ucg_entities WHERE id = $1`, id)
	return err
}

type assocRow struct {
	ID        string `db:"id"`
	ParentID  sql.NullString `db:"parent_id"`
	ChildID   string `db:"child_id"`
	Weight    int    `db:"weight"`
	Depth     int    `db:"depth"`
	Path      string `db:"path"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func assocFromRow(r *assocRow) *ucg.Association {
	a := &ucg.Association{ID: r.ID, ChildID: r.ChildID, Weight: r.Weight, Depth: r.Depth, Path: r.Path, CreatedAt: r.CreatedAt.Time}
	if r.ParentID.Valid {
		a.ParentID = r.ParentID.String
	}
	return a
}

const upsertAssocSQL = `
INSERT INTO ucg_associations (id, parent_id, child_id, weight, depth, path, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  parent_id = EXCLUDED.parent_id, child_id = EXCLUDED.child_id,
  weight = EXCLUDED.weight, depth = EXCLUDED.depth, path = EXCLUDED.path`

func (s *Store) PutAssociation(ctx context.Context, a *ucg.Association) error {
	var parentID sql.NullString
	if a.ParentID != "" {
		parentID = sql.NullString{String: a.ParentID, Valid: true}
	}
	_, err := s.querier(ctx).ExecContext(ctx, upsertAssocSQL, a.ID, parentID, a.ChildID, a.Weight, a.Depth, a.Path, a.CreatedAt)
	return err
}

func (s *Store) DeleteAssociation(ctx context.Context, id string) error {
	_, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM ucg_associations WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteAssociationsByParent(ctx context.Context, parentID string) error {
	_, err := s.querier(ctx).ExecContext(ctx, `DELETE FROM ucg_associations WHERE parent_id = $1`, parentID)
	return err
}

func (s *Store) queryAssocs(ctx context.Context, query string, args ...any) ([]*ucg.Association, error) {
	var rows []assocRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*ucg.Association, 0, len(rows))
	for i := range rows {
		out = append(out, assocFromRow(&rows[i]))
	}
	return out, nil
}

func (s *Store) ChildrenOf(ctx context.Context, parentID string) ([]*ucg.Association, error) {
	return s.queryAssocs(ctx, `SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations WHERE parent_id = $1`, parentID)
}

func (s *Store) ParentsOf(ctx context.Context, childID string) ([]*ucg.Association, error) {
	return s.queryAssocs(ctx, `SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations WHERE child_id = $1`, childID)
}

// SubtreeByPathPrefix uses the `path LIKE parent.path || '.%'` traversal
// named explicitly in the design notes, rather than a recursive CTE walk.
func (s *Store) SubtreeByPathPrefix(ctx context.Context, pathPrefix string) ([]*ucg.Association, error) {
	return s.queryAssocs(ctx,
		`SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations WHERE path = $1 OR path LIKE $2`,
		pathPrefix, pathPrefix+".%")
}

func (s *Store) NextChildIndex(ctx context.Context, parentID string) (int, error) {
	rows, err := s.ChildrenOf(ctx, parentID)
	if err != nil {
		return 0, err
	}
	used := map[int]bool{}
	for _, a := range rows {
		var idx int
		if _, err := fmt.Sscanf(lastPathSegment(a.Path), "%d", &idx); err == nil {
			used[idx] = true
		}
	}
	for i := 1; ; i++ {
		if !used[i] {
			return i, nil
		}
	}
}

func lastPathSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}

func (s *Store) AllAssociations(ctx context.Context) ([]*ucg.Association, error) {
	return s.queryAssocs(ctx, `SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations`)
}

func (s *Store) AllEntities(ctx context.Context) ([]*ucg.Entity, error) {
	var rows []entityRow
	if err := s.querier(ctx).SelectContext(ctx, &rows, `SELECT id, type, name, fields, content, state, created_at, modified_at FROM ucg_entities`); err != nil {
		return nil, err
	}
	out := make([]*ucg.Entity, 0, len(rows))
	for i := range rows {
		e, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

var _ ucg.LiveContent = (*Store)(nil)
