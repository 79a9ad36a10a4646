package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return &Schema{
		Fields: map[string]Field{
			"id":         {Kind: KindInt, Ops: []string{"neq", "in", "gt"}},
			"number":     {Kind: KindString, Ops: []string{"ilike", "in"}},
			"status":     {Kind: KindInt, Ops: []string{"in", "not_in"}},
			"tags":       {Kind: KindString, Ops: []string{"contains", "any", "all", "isnull"}},
			"created_at": {Kind: KindTime, Ops: []string{"gt", "lte"}},
		},
		OrderingField: DefaultOrderingField,
		SearchField:   "search",
		SearchColumns: []string{"number"},
	}
}

func TestWhereValidatesFieldAndOperator(t *testing.T) {
	f := New(testSchema())

	require.NoError(t, f.Where("id", "", int64(3)))
	require.NoError(t, f.Where("id", "gt", int64(1)))

	var unknownField *UnknownFieldError
	err := f.Where("missing", "eq", 1)
	require.ErrorAs(t, err, &unknownField)
	assert.Equal(t, "missing", unknownField.Field)

	// Declared field, undeclared operator suffix.
	err = f.Where("number", "gt", "5")
	require.ErrorAs(t, err, &unknownField)
	assert.Equal(t, "number__gt", unknownField.Field)

	var unsupported *UnsupportedOperatorError
	err = f.Where("id", "between", 1)
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "between", unsupported.Op)

	assert.Len(t, f.Conditions(), 2)
}

func TestParseOrderingResolvesDirections(t *testing.T) {
	keys, err := testSchema().ParseOrdering([]string{"-created_at", "id"})
	require.NoError(t, err)
	require.Equal(t, []OrderKey{
		{Column: "created_at", Desc: true},
		{Column: "id", Desc: false},
	}, keys)
}

func TestParseOrderingUnknownField(t *testing.T) {
	_, err := testSchema().ParseOrdering([]string{"id", "-bogus"})
	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Field)
}

func TestParseOrderingDuplicateField(t *testing.T) {
	// Direction sign does not make the column distinct.
	_, err := testSchema().ParseOrdering([]string{"id", "-id"})
	var dup *DuplicateOrderingFieldError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"id"}, dup.Fields)
}

func TestParseOrderingWhitelist(t *testing.T) {
	schema := testSchema()
	schema.OrderingAllow = []string{"created_at"}

	keys, err := schema.ParseOrdering([]string{"-created_at"})
	require.NoError(t, err)
	require.Len(t, keys, 1)

	_, err = schema.ParseOrdering([]string{"id"})
	var disallowed *DisallowedOrderingFieldError
	require.ErrorAs(t, err, &disallowed)
	assert.Equal(t, []string{"id"}, disallowed.Fields)
	assert.Equal(t, []string{"created_at"}, disallowed.Allowed)
}

func TestOrderedBySetsOrdering(t *testing.T) {
	f := New(testSchema())
	assert.False(t, f.HasOrdering())

	require.NoError(t, f.OrderedBy("-id"))
	assert.True(t, f.HasOrdering())
	assert.Equal(t, "id DESC", f.OrderBy())

	require.NoError(t, f.OrderedBy())
	assert.False(t, f.HasOrdering())
}
