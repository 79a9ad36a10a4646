package filter

import (
	"sort"
	"strings"
)

// DefaultOrderingField is the conventional wire name for the ordering list.
const DefaultOrderingField = "order_by"

// Kind is the scalar type of a declared field. Wire values are parsed into
// this type before compilation.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindTime
	KindBool
)

// Field declares one filterable column: its scalar kind and the operator
// suffixes permitted beyond bare equality.
type Field struct {
	Kind Kind
	Ops  []string
}

// Schema is the fixed, per-entity declaration of legal query fields.
// Only names declared here (bare, or suffixed with a declared operator)
// are accepted from the wire.
type Schema struct {
	// Fields maps column name to its declaration.
	Fields map[string]Field

	// OrderingField is the wire name carrying ordering tokens; empty
	// disables ordering for the entity.
	OrderingField string

	// OrderingAllow optionally restricts sortable columns. Nil allows any
	// declared field.
	OrderingAllow []string

	// SearchField, when set, declares a field whose value is matched with
	// ILIKE across SearchColumns, ORed together.
	SearchField   string
	SearchColumns []string
}

func (s *Schema) allowsOp(column, op string) bool {
	f, ok := s.Fields[column]
	if !ok {
		return false
	}
	if op == "eq" {
		return true
	}
	for _, candidate := range f.Ops {
		if candidate == op {
			return true
		}
	}
	return false
}

// ParseOrdering validates ordering tokens ("col" or "-col") against the
// schema and returns the resolved sort keys.
func (s *Schema) ParseOrdering(tokens []string) ([]OrderKey, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]OrderKey, 0, len(tokens))
	seen := make(map[string]int, len(tokens))
	var unknown, disallowed []string

	allowed := map[string]bool{}
	for _, name := range s.OrderingAllow {
		allowed[name] = true
	}

	for _, token := range tokens {
		desc := strings.HasPrefix(token, "-")
		name := strings.TrimLeft(token, "+-")
		if _, ok := s.Fields[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		if len(s.OrderingAllow) > 0 && !allowed[name] {
			disallowed = append(disallowed, name)
		}
		seen[name]++
		keys = append(keys, OrderKey{Column: name, Desc: desc})
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &UnknownFieldError{Field: strings.Join(dedup(unknown), ", ")}
	}

	var dups []string
	for name, n := range seen {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, &DuplicateOrderingFieldError{Fields: dups}
	}

	if len(disallowed) > 0 {
		sort.Strings(disallowed)
		return nil, &DisallowedOrderingFieldError{
			Fields:  dedup(disallowed),
			Allowed: s.OrderingAllow,
		}
	}

	return keys, nil
}

// Condition is one (column, operator, bound value) triple.
type Condition struct {
	Column string
	Op     string
	Value  any
}

// OrderKey is one resolved sort key.
type OrderKey struct {
	Column string
	Desc   bool
}

// Filter is an ephemeral, per-request set of validated conditions plus an
// ordering specification. Build one with New/ParseQuery, compile it, then
// discard it.
type Filter struct {
	schema *Schema
	conds  []Condition
	order  []OrderKey
	search string
}

// New returns an empty filter bound to a schema.
func New(schema *Schema) *Filter {
	return &Filter{schema: schema}
}

// Schema returns the schema this filter validates against.
func (f *Filter) Schema() *Schema {
	return f.schema
}

// Where adds one validated condition. An empty op means equality.
func (f *Filter) Where(column, op string, value any) error {
	if op == "" {
		op = "eq"
	}
	if _, err := Op(op); err != nil {
		return err
	}
	if !f.schema.allowsOp(column, op) {
		name := column
		if op != "eq" {
			name = column + "__" + op
		}
		return &UnknownFieldError{Field: name}
	}
	f.conds = append(f.conds, Condition{Column: column, Op: op, Value: value})
	return nil
}

// Search sets the free-text search term for the schema's search columns.
func (f *Filter) Search(term string) {
	f.search = term
}

// OrderedBy replaces the ordering specification after validating the tokens.
func (f *Filter) OrderedBy(tokens ...string) error {
	keys, err := f.schema.ParseOrdering(tokens)
	if err != nil {
		return err
	}
	f.order = keys
	return nil
}

// HasOrdering reports whether an ordering specification is present.
func (f *Filter) HasOrdering() bool {
	return len(f.order) > 0
}

// Conditions returns the validated conditions in insertion order.
func (f *Filter) Conditions() []Condition {
	return f.conds
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
