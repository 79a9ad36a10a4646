package filter

import (
	"fmt"
	"strings"
)

// UnknownFieldError reports a query field that is not declared on the
// target schema.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s is not a valid filter field", e.Field)
}

// UnsupportedOperatorError reports an operator token with no registered
// handler.
type UnsupportedOperatorError struct {
	Op string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator: %s", e.Op)
}

// DuplicateOrderingFieldError reports columns that appear more than once in
// an ordering specification, regardless of direction sign.
type DuplicateOrderingFieldError struct {
	Fields []string
}

func (e *DuplicateOrderingFieldError) Error() string {
	return fmt.Sprintf("ordering fields can appear at most once, duplicates: %s",
		strings.Join(e.Fields, ", "))
}

// DisallowedOrderingFieldError reports ordering columns outside the
// configured whitelist.
type DisallowedOrderingFieldError struct {
	Fields  []string
	Allowed []string
}

func (e *DisallowedOrderingFieldError) Error() string {
	return fmt.Sprintf("%s is not allowed for ordering, allowed: %s",
		strings.Join(e.Fields, ", "), strings.Join(e.Allowed, ", "))
}

// InvalidValueError reports a wire value that cannot be parsed into the
// declared field type.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %q", e.Field, e.Value)
}
