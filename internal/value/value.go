// Package value implements ThymioVariable, the self-describing dynamic
// value carried inside wire messages for node variables and events.
package value

import "fmt"

// Kind tags the concrete type a Value holds.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindList
	KindMap
)

// Value is a tagged dynamic value: integer, floating-point, boolean,
// string, list, or map of strings to values.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	list []Value
	m    map[string]Value
}

func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func List(v []Value) Value  { return Value{kind: KindList, list: v} }
func Map(v map[string]Value) Value { return Value{kind: KindMap, m: v} }

// Kind returns the tag of the value.
func (v Value) Kind() Kind { return v.kind }

func (v Value) Int() (int64, bool)            { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)        { return v.f, v.kind == KindFloat }
func (v Value) Bool() (bool, bool)            { return v.b, v.kind == KindBool }
func (v Value) Str() (string, bool)           { return v.s, v.kind == KindString }
func (v Value) List() ([]Value, bool)         { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Equal reports deep structural equality, used by round-trip tests.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindString:
		return v.s
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return "<invalid>"
	}
}
