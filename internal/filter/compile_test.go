package filter

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileComparisons(t *testing.T) {
	f := New(testSchema())
	require.NoError(t, f.Where("id", "eq", int64(5)))
	require.NoError(t, f.Where("id", "gt", int64(1)))

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "id = $1 AND id > $2", where)
	assert.Equal(t, []any{int64(5), int64(1)}, args.Values())
}

func TestCompileMembership(t *testing.T) {
	f := New(testSchema())
	require.NoError(t, f.Where("status", "in", []int64{0, 1}))
	require.NoError(t, f.Where("status", "not_in", []int64{-1}))

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "status = ANY($1) AND NOT (status = ANY($2))", where)
	require.Len(t, args.Values(), 2)
	assert.Equal(t, pq.Array([]int64{0, 1}), args.Values()[0])
}

func TestCompileSetOperators(t *testing.T) {
	setCol := "string_to_array(coalesce(tags, ''), ',')"

	f := New(testSchema())
	require.NoError(t, f.Where("tags", "contains", []string{"vip"}))
	require.NoError(t, f.Where("tags", "any", []string{"a", "b"}))

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, setCol+" @> $1::text[] AND "+setCol+" && $2::text[]", where)
}

func TestCompileIsNull(t *testing.T) {
	f := New(testSchema())
	require.NoError(t, f.Where("tags", "isnull", true))
	require.NoError(t, f.Where("created_at", "gt", nil))

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "tags IS NULL AND created_at > $1", where)

	f = New(testSchema())
	require.NoError(t, f.Where("tags", "isnull", false))
	where, err = f.Compile(NewArgs())
	require.NoError(t, err)
	assert.Equal(t, "tags IS NOT NULL", where)
}

func TestCompilePatternWrapping(t *testing.T) {
	f := New(testSchema())
	require.NoError(t, f.Where("number", "ilike", "555"))

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "number ILIKE $1", where)
	assert.Equal(t, []any{"%555%"}, args.Values())

	// A caller-supplied wildcard disables the implicit wrap.
	f = New(testSchema())
	require.NoError(t, f.Where("number", "ilike", "55%"))
	args = NewArgs()
	_, err = f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, []any{"55%"}, args.Values())
}

func TestCompileSearchExpandsAcrossColumns(t *testing.T) {
	schema := testSchema()
	schema.SearchColumns = []string{"number", "info_1"}

	f := New(schema)
	f.Search("abc")

	args := NewArgs()
	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "(number ILIKE $1 OR info_1 ILIKE $2)", where)
	assert.Equal(t, []any{"%abc%", "%abc%"}, args.Values())
}

func TestCompileEmptyFilter(t *testing.T) {
	where, err := New(testSchema()).Compile(NewArgs())
	require.NoError(t, err)
	assert.Equal(t, "", where)
}

func TestArgsSeededNumbering(t *testing.T) {
	// Placeholder numbering continues after values bound by the caller.
	args := NewArgs(1, "x")
	f := New(testSchema())
	require.NoError(t, f.Where("id", "eq", int64(9)))

	where, err := f.Compile(args)
	require.NoError(t, err)
	assert.Equal(t, "id = $3", where)
	assert.Equal(t, []any{1, "x", int64(9)}, args.Values())
}
