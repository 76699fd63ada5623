package leasestore

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Filter is a small document predicate language: equality on top-level fields combined
// with and/or. The zero Filter matches every document.
type Filter struct {
	Op      Op       `json:"op,omitempty"`
	Field   string   `json:"field,omitempty"`
	Value   any      `json:"value,omitempty"`
	Clauses []Filter `json:"clauses,omitempty"`
}

// All matches every document.
func All() Filter {
	return Filter{}
}

func Eq(field string, value any) Filter {
	return Filter{Op: OpEq, Field: field, Value: value}
}

func And(clauses ...Filter) Filter {
	return Filter{Op: OpAnd, Clauses: clauses}
}

func Or(clauses ...Filter) Filter {
	return Filter{Op: OpOr, Clauses: clauses}
}

// ByID matches the document with the given id.
func ByID(id string) Filter {
	return Eq(FieldID, id)
}

// IsAll reports whether f is the match-everything filter.
func (f Filter) IsAll() bool {
	return f.Op == ""
}

// Validate rejects malformed filters.
func (f Filter) Validate() error {
	switch f.Op {
	case "":
		return nil
	case OpEq:
		if f.Field == "" {
			return fmt.Errorf("%w: eq without field", ErrInvalidFilter)
		}
		if _, ok := (Document{}).Field(f.Field); !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Field)
		}
		return nil
	case OpAnd, OpOr:
		if len(f.Clauses) == 0 {
			return fmt.Errorf("%w: %s without clauses", ErrInvalidFilter, f.Op)
		}
		for _, c := range f.Clauses {
			if c.IsAll() {
				return fmt.Errorf("%w: empty clause in %s", ErrInvalidFilter, f.Op)
			}
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
	}
}

// Matches evaluates the filter against a document.
func (f Filter) Matches(d Document) bool {
	switch f.Op {
	case "":
		return true
	case OpEq:
		v, ok := d.Field(f.Field)
		return ok && valuesEqual(v, f.Value)
	case OpAnd:
		for _, c := range f.Clauses {
			if !c.Matches(d) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Clauses {
			if c.Matches(d) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ID returns the id a filter pins, either directly or through a top-level conjunction.
func (f Filter) ID() (string, bool) {
	switch f.Op {
	case OpEq:
		if f.Field != FieldID {
			return "", false
		}
		id, ok := f.Value.(string)
		return id, ok
	case OpAnd:
		for _, c := range f.Clauses {
			if id, ok := c.ID(); ok {
				return id, true
			}
		}
	}
	return "", false
}

func (f Filter) String() string {
	switch f.Op {
	case "":
		return "{}"
	case OpEq:
		return fmt.Sprintf("%s=%v", f.Field, f.Value)
	default:
		parts := make([]string, 0, len(f.Clauses))
		for _, c := range f.Clauses {
			parts = append(parts, c.String())
		}
		return fmt.Sprintf("%s(%s)", f.Op, strings.Join(parts, ", "))
	}
}

func valuesEqual(a, b any) bool {
	if an, ok := asInt64(a); ok {
		bn, ok := asInt64(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// asInt64 normalizes the numeric forms a value takes after crossing a JSON boundary.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
