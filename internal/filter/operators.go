package filter

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Args accumulates bind values for one query build and hands out the
// matching $n placeholders. Values are never interpolated into SQL.
type Args struct {
	vals []any
}

// NewArgs returns an Args list pre-seeded with values already bound by the
// caller, so placeholder numbering stays consistent across the whole
// statement.
func NewArgs(initial ...any) *Args {
	return &Args{vals: initial}
}

// Add binds a value and returns its placeholder.
func (a *Args) Add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// Values returns the bound values in placeholder order.
func (a *Args) Values() []any {
	return a.vals
}

// OpFunc renders one predicate against a named column, binding its value
// through args.
type OpFunc func(column string, value any, args *Args) string

// operators maps an operator token to its predicate builder. The registry is
// pure: builders only assemble SQL fragments and bind values.
var operators = map[string]OpFunc{
	"eq":  func(c string, v any, a *Args) string { return c + " = " + a.Add(v) },
	"neq": func(c string, v any, a *Args) string { return c + " <> " + a.Add(v) },
	"gt":  func(c string, v any, a *Args) string { return c + " > " + a.Add(v) },
	"gte": func(c string, v any, a *Args) string { return c + " >= " + a.Add(v) },
	"lt":  func(c string, v any, a *Args) string { return c + " < " + a.Add(v) },
	"lte": func(c string, v any, a *Args) string { return c + " <= " + a.Add(v) },

	"in": func(c string, v any, a *Args) string {
		return c + " = ANY(" + a.Add(pq.Array(v)) + ")"
	},
	"not_in": func(c string, v any, a *Args) string {
		return "NOT (" + c + " = ANY(" + a.Add(pq.Array(v)) + "))"
	},

	"isnull": func(c string, v any, a *Args) string {
		if b, ok := v.(bool); ok && !b {
			return c + " IS NOT NULL"
		}
		return c + " IS NULL"
	},

	"like": func(c string, v any, a *Args) string {
		return c + " LIKE " + a.Add(likePattern(v))
	},
	"ilike": func(c string, v any, a *Args) string {
		return c + " ILIKE " + a.Add(likePattern(v))
	},

	// Set operators over comma-delimited columns. contains/all test that the
	// column's set includes every given element, any tests for a nonempty
	// intersection.
	"contains": func(c string, v any, a *Args) string {
		return setExpr(c) + " @> " + a.Add(pq.Array(v)) + "::text[]"
	},
	"all": func(c string, v any, a *Args) string {
		return setExpr(c) + " @> " + a.Add(pq.Array(v)) + "::text[]"
	},
	"any": func(c string, v any, a *Args) string {
		return setExpr(c) + " && " + a.Add(pq.Array(v)) + "::text[]"
	},
}

// listOps are the operator tokens whose values travel the wire as one
// comma-delimited string.
var listOps = map[string]bool{
	"in":       true,
	"not_in":   true,
	"contains": true,
	"any":      true,
	"all":      true,
}

// Op resolves an operator token against the registry.
func Op(name string) (OpFunc, error) {
	fn, ok := operators[name]
	if !ok {
		return nil, &UnsupportedOperatorError{Op: name}
	}
	return fn, nil
}

// IsListOp reports whether the operator expects a list value.
func IsListOp(name string) bool {
	return listOps[name]
}

func setExpr(column string) string {
	return "string_to_array(coalesce(" + column + ", ''), ',')"
}

// likePattern wraps the value with wildcards on both sides unless the caller
// already supplied one.
func likePattern(v any) string {
	s := fmt.Sprintf("%v", v)
	if strings.Contains(s, "%") {
		return s
	}
	return "%" + s + "%"
}
