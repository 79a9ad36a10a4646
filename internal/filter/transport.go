package filter

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SplitList decodes the wire representation of a list value: the empty
// string is the empty list, otherwise elements are comma-separated.
// SplitList and JoinList round-trip losslessly for elements that do not
// contain the delimiter.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// JoinList encodes a list for the wire. The empty list encodes to the
// empty string.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// ParseQuery builds a validated Filter from query-string-style parameters.
// A bare declared name means equality; "<name>__<op>" applies the suffixed
// operator; the schema's ordering field carries comma-delimited "[-]column"
// tokens. Any other name fails with UnknownFieldError before anything
// touches the store.
func ParseQuery(schema *Schema, values url.Values) (*Filter, error) {
	f := New(schema)

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := mergeOccurrences(values[key])

		if schema.OrderingField != "" && key == schema.OrderingField {
			if err := f.OrderedBy(orderingTokens(raw)...); err != nil {
				return nil, err
			}
			continue
		}

		if schema.SearchField != "" && key == schema.SearchField {
			f.Search(raw)
			continue
		}

		column, op := key, "eq"
		if base, suffix, found := strings.Cut(key, "__"); found {
			column, op = base, suffix
		}

		if _, ok := schema.Fields[column]; !ok {
			return nil, &UnknownFieldError{Field: key}
		}
		if _, err := Op(op); err != nil {
			return nil, err
		}
		if !schema.allowsOp(column, op) {
			return nil, &UnknownFieldError{Field: key}
		}

		value, err := parseValue(schema.Fields[column].Kind, key, op, raw)
		if err != nil {
			return nil, err
		}
		f.conds = append(f.conds, Condition{Column: column, Op: op, Value: value})
	}

	return f, nil
}

// mergeOccurrences folds a repeated query key into the comma-delimited
// form, so order_by=created_at&order_by=-id equals order_by=created_at,-id.
func mergeOccurrences(vs []string) string {
	if len(vs) == 1 {
		return vs[0]
	}
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ",")
}

func orderingTokens(raw string) []string {
	var tokens []string
	for _, t := range SplitList(raw) {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func parseValue(kind Kind, field, op, raw string) (any, error) {
	switch {
	case op == "isnull":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &InvalidValueError{Field: field, Value: raw}
		}
		return b, nil
	case op == "like" || op == "ilike":
		// Pattern matching always works on the textual form.
		return raw, nil
	case IsListOp(op):
		return parseList(kind, field, raw)
	default:
		return parseScalar(kind, field, raw)
	}
}

func parseScalar(kind Kind, field, raw string) (any, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &InvalidValueError{Field: field, Value: raw}
		}
		return n, nil
	case KindTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &InvalidValueError{Field: field, Value: raw}
		}
		return t, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &InvalidValueError{Field: field, Value: raw}
		}
		return b, nil
	default:
		return raw, nil
	}
}

func parseList(kind Kind, field, raw string) (any, error) {
	items := SplitList(raw)
	switch kind {
	case KindInt:
		out := make([]int64, 0, len(items))
		for _, item := range items {
			n, err := strconv.ParseInt(item, 10, 64)
			if err != nil {
				return nil, &InvalidValueError{Field: field, Value: item}
			}
			out = append(out, n)
		}
		return out, nil
	case KindTime:
		out := make([]time.Time, 0, len(items))
		for _, item := range items {
			t, err := time.Parse(time.RFC3339, item)
			if err != nil {
				return nil, &InvalidValueError{Field: field, Value: item}
			}
			out = append(out, t)
		}
		return out, nil
	default:
		out := make([]string, 0, len(items))
		out = append(out, items...)
		return out, nil
	}
}
