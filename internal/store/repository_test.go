package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
)

type widget struct {
	ID   int64
	Name string
	Size int
}

var widgetMapping = Mapping[widget]{
	Table:   "widgets",
	Columns: []string{"name", "size"},
	Schema: &filter.Schema{
		Fields: map[string]filter.Field{
			"name": {Kind: filter.KindString},
			"size": {Kind: filter.KindInt, Ops: []string{"gt"}},
		},
	},
	Values: func(w *widget) []any { return []any{w.Name, w.Size} },
	Scan: func(row Scanner, w *widget) error {
		return row.Scan(&w.ID, &w.Name, &w.Size)
	},
	ID:    func(w *widget) int64 { return w.ID },
	SetID: func(w *widget, id int64) { w.ID = id },
}

func testRepo() *Repository[widget] {
	return NewRepository(nil, widgetMapping, zap.NewNop())
}

func TestMappingColumns(t *testing.T) {
	assert.Equal(t, "id, name, size", widgetMapping.selectColumns())
	assert.True(t, widgetMapping.hasColumn("size"))
	assert.False(t, widgetMapping.hasColumn("id"))
	assert.False(t, widgetMapping.hasColumn("color"))
}

func TestSetClauseSortsColumns(t *testing.T) {
	r := testRepo()

	set, args, err := r.setClause(map[string]any{"size": 3, "name": "a"})
	require.NoError(t, err)
	assert.Equal(t, "name = $1, size = $2", set)
	assert.Equal(t, []any{"a", 3}, args.Values())
}

func TestSetClauseRejectsUnknownColumn(t *testing.T) {
	r := testRepo()

	_, _, err := r.setClause(map[string]any{"color": "red"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "color")

	_, _, err = r.setClause(nil)
	require.Error(t, err)
}

func TestUpdateRejectsMissingBulkFilter(t *testing.T) {
	r := testRepo()

	_, err := r.Update(context.Background(), ByFilter{},
		map[string]any{"size": 1}, ReturningCount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter")
}

func TestGetByRejectsUnknownColumn(t *testing.T) {
	r := testRepo()

	_, err := r.GetBy(context.Background(), map[string]any{"color": "red"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "color")
}

func TestUpsertRejectsUnknownMatchColumn(t *testing.T) {
	r := testRepo()

	err := r.Upsert(context.Background(), &widget{}, nil)
	require.Error(t, err)

	err = r.Upsert(context.Background(), &widget{}, []string{"color"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "color")
}

type recordingDB struct {
	execs []string
}

func (f *recordingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return rowsAffected(1), nil
}

func (f *recordingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (f *recordingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

type rowsAffected int64

func (n rowsAffected) LastInsertId() (int64, error) { return 0, nil }
func (n rowsAffected) RowsAffected() (int64, error) { return int64(n), nil }

func TestMapUpdateAppliesEveryPatch(t *testing.T) {
	db := &recordingDB{}
	r := NewRepository(db, widgetMapping, zap.NewNop())

	patches := map[int64]map[string]any{
		3: {"size": 30},
		1: {"size": 10},
		2: {"name": "b"},
	}

	updated, err := r.MapUpdate(context.Background(), patches, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	// One statement per row, ids in ascending order.
	require.Len(t, db.execs, 3)
	assert.Equal(t, "UPDATE widgets SET size = $1 WHERE id = $2", db.execs[0])
	assert.Equal(t, "UPDATE widgets SET name = $1 WHERE id = $2", db.execs[1])
	assert.Equal(t, "UPDATE widgets SET size = $1 WHERE id = $2", db.execs[2])
}

func TestMapUpdateRejectsUnknownColumn(t *testing.T) {
	db := &recordingDB{}
	r := NewRepository(db, widgetMapping, zap.NewNop())

	updated, err := r.MapUpdate(context.Background(),
		map[int64]map[string]any{1: {"color": "red"}}, 0)
	require.Error(t, err)
	assert.Equal(t, 0, updated)
	assert.Empty(t, db.execs)
}

func TestIsSlice(t *testing.T) {
	assert.True(t, isSlice([]int64{1}))
	assert.True(t, isSlice([]string{"a"}))
	assert.False(t, isSlice("a"))
	assert.False(t, isSlice(1))
	// Byte slices are scalar bind values.
	assert.False(t, isSlice([]byte("a")))
}
