package sqlstmt

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags a bound SQL value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindI64
	KindU64
	KindText
)

// Value is a typed SQL parameter.
type Value struct {
	kind ValueKind
	i64  int64
	u64  uint64
	text string
}

func Null() Value { return Value{kind: KindNull} }
func I64(v int64) Value { return Value{kind: KindI64, i64: v} }
func U64(v uint64) Value { return Value{kind: KindU64, u64: v} }
func Text(v string) Value { return Value{kind: KindText, text: v} }
func (v Value) Kind() ValueKind { return v.kind }

// OptionalText binds NULL for an empty string.
func OptionalText(v string) Value {
	if v == "" {
		return Null()
	}
	return Text(v)
}

// Any returns the value in the form database drivers accept.
func (v Value) Any() interface{} {
	switch v.kind {
	case KindI64:
		return v.i64
	case KindU64:
		return v.u64
	case KindText:
		return v.text
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindI64:
		return strconv.FormatInt(v.i64, 10)
	case KindU64:
		return strconv.FormatUint(v.u64, 10)
	case KindText:
		return strconv.Quote(v.text)
	default:
		return "NULL"
	}
}

// Statement is a SQL template with positional ($N) parameters.
type Statement struct {
	SQL    string
	Params []Value
}

// New builds a statement. Placeholders in sql must be numbered to match params.
func New(sql string, params ...Value) Statement {
	out := Statement{SQL: sql}
	if len(params) > 0 {
		out.Params = append([]Value(nil), params...)
	}
	return out
}

// Bind appends a parameter and returns its placeholder.
func (s *Statement) Bind(v Value) string {
	s.Params = append(s.Params, v)
	return "$" + strconv.Itoa(len(s.Params))
}

// ReplaceFragment substitutes a structural fragment for marker. The marker must
// appear exactly once in the template.
func (s *Statement) ReplaceFragment(marker, fragment string) error {
	if marker == "" {
		return fmt.Errorf("empty fragment marker")
	}
	count := strings.Count(s.SQL, marker)
	if count != 1 {
		return fmt.Errorf("fragment marker %s found %d times", marker, count)
	}
	s.SQL = strings.Replace(s.SQL, marker, fragment, 1)
	return nil
}

// Args returns the bound parameters for a driver call.
func (s Statement) Args() []interface{} {
	if len(s.Params) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(s.Params))
	for _, p := range s.Params {
		args = append(args, p.Any())
	}
	return args
}

// Batch is an ordered list of statements applied as one unit.
type Batch struct {
	stmts []Statement
}

func NewBatch(stmts ...Statement) Batch {
	return Batch{stmts: append([]Statement(nil), stmts...)}
}

func (b *Batch) Add(stmts ...Statement) {
	b.stmts = append(b.stmts, stmts...)
}

// Extend appends every statement of other, preserving order.
func (b *Batch) Extend(other Batch) {
	b.stmts = append(b.stmts, other.stmts...)
}

func (b Batch) Len() int { return len(b.stmts) }
func (b Batch) IsEmpty() bool { return len(b.stmts) == 0 }

// Statements returns a copy of the statements in insertion order.
func (b Batch) Statements() []Statement {
	return append([]Statement(nil), b.stmts...)
}
