// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package synthetic

import (
	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"
)

// Values holds the field values of a struct, by field name. Missing fields
// encode as zero.
type Values map[string]interface{}

// Variant is the value of a variant field: the selected member's label and
// its value. The label must agree with the variant's tag field.
type Variant struct {
	Label string
	Value interface{}
}

// Encode writes v to w as declaration d.
//
// Integers accept any Go integer type, enums additionally accept labels,
// floats accept float32 and float64, and strings accept string. Structs take
// Values, variants take Variant, and arrays and sequences take a slice of
// element values, a []byte, or (for character elements) a string. Arrays
// shorter than their declared length are zero padded.
func Encode(w *bitbuffer.W, d types.Declaration, v interface{}) error {
	w.Align(d.Alignment())

	switch t := d.(type) {
	case *types.Integer:
		u, err := toUint64(v)
		if err != nil {
			return err
		}
		w.WriteUnsigned(u, t.Length, t.Order)
		return nil

	case *types.Enum:
		if label, ok := v.(string); ok {
			val, ok := t.Value(label)
			if !ok {
				return errors.Errorf("enum has no label %q", label)
			}
			v = val
		}
		return Encode(w, t.Container, v)

	case *types.Float:
		var f float64
		switch fv := v.(type) {
		case nil:
		case float64:
			f = fv
		case float32:
			f = float64(fv)
		default:
			return errors.Errorf("cannot encode %T as a float", v)
		}
		return w.WriteFloat(f, t.Exponent, t.Mantissa, t.Order)

	case *types.String:
		s, _ := v.(string)
		return w.WriteCString(s)

	case *types.Struct:
		vals, err := toValues(v)
		if err != nil {
			return err
		}
		for _, f := range t.Fields() {
			if err := Encode(w, f.Decl, vals[f.Name]); err != nil {
				return errors.Wrapf(err, "field %q", f.Name)
			}
		}
		return nil

	case *types.Array:
		elems, err := toElements(v)
		if err != nil {
			return err
		}
		if int64(len(elems)) > t.Length {
			return errors.Errorf("%d elements exceed array length %d", len(elems), t.Length)
		}
		for i := int64(0); i < t.Length; i++ {
			var ev interface{}
			if i < int64(len(elems)) {
				ev = elems[i]
			}
			if err := Encode(w, t.Element, ev); err != nil {
				return errors.Wrapf(err, "element %d", i)
			}
		}
		return nil

	case *types.Sequence:
		elems, err := toElements(v)
		if err != nil {
			return err
		}
		for i, ev := range elems {
			if err := Encode(w, t.Element, ev); err != nil {
				return errors.Wrapf(err, "element %d", i)
			}
		}
		return nil

	case *types.Variant:
		vv, ok := v.(Variant)
		if !ok {
			return errors.Errorf("cannot encode %T as a variant", v)
		}
		m := t.Member(vv.Label)
		if m == nil {
			return errors.Errorf("variant has no member %q", vv.Label)
		}
		return Encode(w, m, vv.Value)

	default:
		return errors.Errorf("unknown declaration type %T", d)
	}
}

func toUint64(v interface{}) (uint64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int:
		return uint64(t), nil
	case int8:
		return uint64(t), nil
	case int16:
		return uint64(t), nil
	case int32:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case uint:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint32:
		return uint64(t), nil
	case uint64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errors.Errorf("cannot encode %T as an integer", v)
	}
}

func toValues(v interface{}) (Values, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Values:
		return t, nil
	case map[string]interface{}:
		return Values(t), nil
	default:
		return nil, errors.Errorf("cannot encode %T as a struct", v)
	}
}

func toElements(v interface{}) ([]interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return t, nil
	case string:
		return toElements([]byte(t))
	case []byte:
		elems := make([]interface{}, len(t))
		for i, b := range t {
			elems[i] = b
		}
		return elems, nil
	case []int32:
		elems := make([]interface{}, len(t))
		for i, e := range t {
			elems[i] = e
		}
		return elems, nil
	case []int64:
		elems := make([]interface{}, len(t))
		for i, e := range t {
			elems[i] = e
		}
		return elems, nil
	case []uint64:
		elems := make([]interface{}, len(t))
		for i, e := range t {
			elems[i] = e
		}
		return elems, nil
	default:
		return nil, errors.Errorf("cannot encode %T as an array", v)
	}
}
