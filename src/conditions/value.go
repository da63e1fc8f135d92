package conditions

import "fmt"

// Kind is the type of an expression value. The grammar is closed over
// numbers and booleans; nothing else exists.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
)

func (k Kind) String() string {
	if k == KindNumber {
		return "number"
	}
	return "bool"
}

// Value is the result of evaluating an expression or a field lookup.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value   { return Value{Kind: KindBool, Bool: b} }

func (v Value) String() string {
	if v.Kind == KindNumber {
		return fmt.Sprintf("%g", v.Num)
	}
	return fmt.Sprintf("%t", v.Bool)
}

// FieldSource is the closed context an expression evaluates against:
// named fields only, no host-language escape hatches.
type FieldSource interface {
	Field(name string) (Value, bool)
}

// SnapshotProvider serves point-in-time contexts for one instrument at
// a decision date. Snapshot is the single latest session before the
// date; Window returns up to n per-session contexts ending there,
// oldest first.
type SnapshotProvider interface {
	Snapshot() (FieldSource, bool)
	Window(n int) []FieldSource
}

// MapFields is a FieldSource backed by a plain map, used by tests and
// by callers that assemble contexts by hand.
type MapFields map[string]Value

func (m MapFields) Field(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}
