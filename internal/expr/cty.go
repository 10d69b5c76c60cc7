package expr

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// ToCtyValue конвертирует нативное Go-значение в cty.Value.
//
// Покрывает типы, которые приходят из JSONB-переменных процесса:
// строки, числа, bool, срезы и map[string]any. Nil становится
// cty.NullVal(cty.DynamicPseudoType).
func ToCtyValue(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil

	case string:
		return cty.StringVal(val), nil

	case bool:
		return cty.BoolVal(val), nil

	case int:
		return cty.NumberIntVal(int64(val)), nil

	case int64:
		return cty.NumberIntVal(val), nil

	case float64:
		return cty.NumberFloatVal(val), nil

	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return cty.NumberFloatVal(f), nil

	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, item := range val {
			ev, err := ToCtyValue(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil

	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for key, item := range val {
			av, err := ToCtyValue(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %q: %w", key, err)
			}
			attrs[key] = av
		}
		return cty.ObjectVal(attrs), nil

	default:
		return cty.NilVal, fmt.Errorf("unsupported variable type %T", v)
	}
}

// FromCtyValue конвертирует cty.Value обратно в нативное Go-значение.
// Используется script-executor'ом для записи результатов в переменные.
func FromCtyValue(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil

	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			native, err := FromCtyValue(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			key, ev := it.Element()
			native, err := FromCtyValue(ev)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}
