package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ucgraph/core/internal/ucg"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

var entityColumns = []string{"id", "type", "name", "fields", "content", "state", "created_at", "modified_at"}
var assocColumns = []string{"id", "parent_id", "child_id", "weight", "depth", "path", "created_at"}

func TestGetEntityScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, type, name, fields, content, state, created_at, modified_at FROM ucg_entities WHERE id =").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(entityColumns).
			AddRow("e1", "page", "home", []byte(`{"title":"Home"}`), []byte(`{"de":{"title":"Start"}}`), "attached", created, created))

	e, err := store.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "page", e.Type)
	assert.Equal(t, "home", e.Name)
	assert.Equal(t, "Home", e.Fields["title"])
	assert.Equal(t, "Start", e.Content["de"]["title"])
	assert.Equal(t, ucg.StateAttached, e.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutEntityUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO ucg_entities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.PutEntity(context.Background(), &ucg.Entity{
		ID:        "e1",
		Type:      "page",
		Name:      "home",
		Fields:    map[string]any{"title": "Home"},
		Content:   map[string]map[string]string{},
		State:     ucg.StateDraft,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextChildIndexSkipsUsedIndices(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations WHERE parent_id =").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(assocColumns).
			AddRow("a1", "p1", "c1", 0, 1, "1.1", now).
			AddRow("a2", "p1", "c2", 10, 1, "1.2", now).
			AddRow("a3", "p1", "c3", 20, 1, "1.4", now))

	idx, err := store.NextChildIndex(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubtreeByPathPrefixUsesLikePattern(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, parent_id, child_id, weight, depth, path, created_at FROM ucg_associations WHERE path = (.+) OR path LIKE`).
		WithArgs("1.2", "1.2.%").
		WillReturnRows(sqlmock.NewRows(assocColumns).
			AddRow("a1", "p1", "c1", 0, 1, "1.2", now).
			AddRow("a2", "c1", "c2", 0, 2, "1.2.1", now))

	out, err := store.SubtreeByPathPrefix(context.Background(), "1.2")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1.2.1", out[1].Path)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A write performed inside BeginTx must go through the transaction's
// connection, and Rollback must discard it.
func TestTxWriteAndRollback(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ucg_associations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	ctx, err := store.BeginTx(context.Background())
	require.NoError(t, err)
	err = store.PutAssociation(ctx, &ucg.Association{ID: "a1", ParentID: "p1", ChildID: "c1", Path: "1.1", Depth: 1, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, store.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitOutsideTxIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.Commit(context.Background()))
	require.NoError(t, store.Rollback(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAssociationsByParent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM ucg_associations WHERE parent_id =").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.DeleteAssociationsByParent(context.Background(), "p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
