package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"a"},
		{"a", "b", "c"},
		{"", ""},
	}
	for _, items := range cases {
		assert.Equal(t, items, SplitList(JoinList(items)))
	}

	// Empty string and empty list are the same value on the wire.
	assert.Nil(t, SplitList(""))
	assert.Equal(t, "", JoinList(nil))
}

func TestParseQueryConditions(t *testing.T) {
	values := url.Values{
		"id":          {"7"},
		"id__gt":      {"3"},
		"status__in":  {"0,1"},
		"number":      {"555"},
		"tags__any":   {"vip,fresh"},
		"created_at__lte": {"2026-01-02T15:04:05Z"},
	}

	f, err := ParseQuery(testSchema(), values)
	require.NoError(t, err)

	conds := f.Conditions()
	require.Len(t, conds, 6)

	byKey := map[string]Condition{}
	for _, c := range conds {
		byKey[c.Column+"__"+c.Op] = c
	}

	assert.Equal(t, int64(7), byKey["id__eq"].Value)
	assert.Equal(t, int64(3), byKey["id__gt"].Value)
	assert.Equal(t, []int64{0, 1}, byKey["status__in"].Value)
	assert.Equal(t, "555", byKey["number__eq"].Value)
	assert.Equal(t, []string{"vip", "fresh"}, byKey["tags__any"].Value)

	wantTime, _ := time.Parse(time.RFC3339, "2026-01-02T15:04:05Z")
	assert.Equal(t, wantTime, byKey["created_at__lte"].Value)
}

func TestParseQueryOrderingAndSearch(t *testing.T) {
	values := url.Values{
		"order_by": {"-created_at, id"},
		"search":   {"55"},
	}

	f, err := ParseQuery(testSchema(), values)
	require.NoError(t, err)
	assert.True(t, f.HasOrdering())
	assert.Equal(t, "created_at DESC, id ASC", f.OrderBy())
	assert.Equal(t, "55", f.search)
}

func TestParseQueryRepeatedKeys(t *testing.T) {
	values := url.Values{
		"order_by":   {"-created_at", "id"},
		"status__in": {"0", "1"},
	}

	f, err := ParseQuery(testSchema(), values)
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC, id ASC", f.OrderBy())

	require.Len(t, f.Conditions(), 1)
	assert.Equal(t, []int64{0, 1}, f.Conditions()[0].Value)
}

func TestParseQueryRejectsUnknownField(t *testing.T) {
	_, err := ParseQuery(testSchema(), url.Values{"bogus": {"1"}})
	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Field)

	_, err = ParseQuery(testSchema(), url.Values{"number__gt": {"1"}})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "number__gt", unknown.Field)
}

func TestParseQueryRejectsBadValues(t *testing.T) {
	var invalid *InvalidValueError

	_, err := ParseQuery(testSchema(), url.Values{"id": {"seven"}})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "id", invalid.Field)

	_, err = ParseQuery(testSchema(), url.Values{"status__in": {"1,x"}})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "x", invalid.Value)

	_, err = ParseQuery(testSchema(), url.Values{"created_at__gt": {"yesterday"}})
	require.ErrorAs(t, err, &invalid)
}

func TestParseQueryIsNull(t *testing.T) {
	f, err := ParseQuery(testSchema(), url.Values{"tags__isnull": {"true"}})
	require.NoError(t, err)
	require.Len(t, f.Conditions(), 1)
	assert.Equal(t, true, f.Conditions()[0].Value)

	_, err = ParseQuery(testSchema(), url.Values{"tags__isnull": {"maybe"}})
	var invalid *InvalidValueError
	require.ErrorAs(t, err, &invalid)
}

func TestParseQueryEmptyListMeansEmpty(t *testing.T) {
	f, err := ParseQuery(testSchema(), url.Values{"status__in": {""}})
	require.NoError(t, err)
	require.Len(t, f.Conditions(), 1)
	assert.Equal(t, []int64{}, f.Conditions()[0].Value)
}
