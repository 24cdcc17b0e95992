package wire

import (
	"fmt"

	"github.com/mobsya/thymio-broker/internal/value"
)

// value writes a self-describing dynamic value: one tag byte
// followed by the kind-specific payload. Lists and maps recurse.
func (w *writer) value(v value.Value) {
	switch v.Kind() {
	case value.KindInt:
		w.u8(uint8(value.KindInt))
		i, _ := v.Int()
		w.i64(i)
	case value.KindFloat:
		w.u8(uint8(value.KindFloat))
		f, _ := v.Float()
		w.f64(f)
	case value.KindBool:
		w.u8(uint8(value.KindBool))
		b, _ := v.Bool()
		w.bool(b)
	case value.KindString:
		w.u8(uint8(value.KindString))
		s, _ := v.Str()
		w.str(s)
	case value.KindList:
		w.u8(uint8(value.KindList))
		list, _ := v.List()
		w.u32(uint32(len(list)))
		for _, item := range list {
			w.value(item)
		}
	case value.KindMap:
		w.u8(uint8(value.KindMap))
		m, _ := v.Map()
		w.u32(uint32(len(m)))
		for k, item := range m {
			w.str(k)
			w.value(item)
		}
	default:
		// Unreachable for values constructed through the value package's
		// constructors; encode as a null string rather than panic.
		w.u8(uint8(value.KindString))
		w.str("")
	}
}

func (r *reader) value() (value.Value, error) {
	tag, err := r.u8()
	if err != nil {
		return value.Value{}, err
	}
	switch value.Kind(tag) {
	case value.KindInt:
		i, err := r.i64()
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(i), nil
	case value.KindFloat:
		f, err := r.f64()
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(f), nil
	case value.KindBool:
		b, err := r.boolean()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case value.KindString:
		s, err := r.str()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case value.KindList:
		n, err := r.u32()
		if err != nil {
			return value.Value{}, err
		}
		list := make([]value.Value, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := r.value()
			if err != nil {
				return value.Value{}, err
			}
			list = append(list, item)
		}
		return value.List(list), nil
	case value.KindMap:
		n, err := r.u32()
		if err != nil {
			return value.Value{}, err
		}
		m := make(map[string]value.Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.str()
			if err != nil {
				return value.Value{}, err
			}
			v, err := r.value()
			if err != nil {
				return value.Value{}, err
			}
			m[k] = v
		}
		return value.Map(m), nil
	default:
		return value.Value{}, fmt.Errorf("wire: unknown value tag %d", tag)
	}
}

func (w *writer) valueMap(m map[string]value.Value) {
	w.u32(uint32(len(m)))
	for k, v := range m {
		w.str(k)
		w.value(v)
	}
}

func (r *reader) valueMap() (map[string]value.Value, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]value.Value, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
