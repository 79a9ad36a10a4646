package filter

import "strings"

// Compile renders the filter's conditions as one WHERE fragment (without the
// WHERE keyword), binding every value through args. Conditions are ANDed; a
// search term expands to ILIKE across the schema's search columns, ORed.
// An empty fragment means no restriction.
func (f *Filter) Compile(args *Args) (string, error) {
	parts := make([]string, 0, len(f.conds)+1)

	for _, cond := range f.conds {
		fn, err := Op(cond.Op)
		if err != nil {
			return "", err
		}
		parts = append(parts, fn(cond.Column, cond.Value, args))
	}

	if f.search != "" && len(f.schema.SearchColumns) > 0 {
		ors := make([]string, 0, len(f.schema.SearchColumns))
		for _, column := range f.schema.SearchColumns {
			ors = append(ors, column+" ILIKE "+args.Add(likePattern(f.search)))
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}

	return strings.Join(parts, " AND "), nil
}

// OrderBy renders the ordering keys as an ORDER BY column list, e.g.
// "created_at DESC, id ASC". Empty when no ordering was specified, leaving
// result order store-defined.
func (f *Filter) OrderBy() string {
	if len(f.order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.order))
	for _, key := range f.order {
		dir := " ASC"
		if key.Desc {
			dir = " DESC"
		}
		parts = append(parts, key.Column+dir)
	}
	return strings.Join(parts, ", ")
}
