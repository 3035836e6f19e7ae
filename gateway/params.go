package gateway

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Params — the parameter bag attached to subscriptions and posts.
//
// Values are restricted to a closed set of shapes: string, bool, number
// (float64, as decoded from JSON), or a flat array of those scalars.
// Nested arrays and objects are rejected at decode time so the matching
// predicate never has to consider them.
// ---------------------------------------------------------------------------

// Value is one parameter value: string, bool, float64, or []Value of scalars.
type Value any

// Params maps parameter names to values.
type Params map[string]Value

// DecodeParams parses a JSON object into Params, validating value shapes.
func DecodeParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, NewError(CodeBadRequest, "params must be a JSON object")
	}

	params := make(Params, len(decoded))
	for key, value := range decoded {
		normalized, err := normalizeValue(value, false)
		if err != nil {
			return nil, NewError(CodeBadRequest, fmt.Sprintf("param %q: %v", key, err))
		}
		params[key] = normalized
	}
	return params, nil
}

func normalizeValue(value any, inArray bool) (Value, error) {
	switch v := value.(type) {
	case string, bool, float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case []any:
		if inArray {
			return nil, fmt.Errorf("nested arrays are not allowed")
		}
		arr := make([]Value, 0, len(v))
		for _, element := range v {
			scalar, err := normalizeValue(element, true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, scalar)
		}
		return arr, nil
	case []Value:
		if inArray {
			return nil, fmt.Errorf("nested arrays are not allowed")
		}
		arr := make([]Value, 0, len(v))
		for _, element := range v {
			scalar, err := normalizeValue(element, true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, scalar)
		}
		return arr, nil
	case nil:
		return nil, fmt.Errorf("null values are not allowed")
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

// Normalize validates a Params constructed in Go code (server-side posts)
// and coerces integer scalars to float64 so matching stays type-uniform.
func (p Params) Normalize() (Params, error) {
	if p == nil {
		return nil, nil
	}
	out := make(Params, len(p))
	for key, value := range p {
		normalized, err := normalizeValue(value, false)
		if err != nil {
			return nil, NewError(CodeBadRequest, fmt.Sprintf("param %q: %v", key, err))
		}
		out[key] = normalized
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Match — the subscription matching predicate.
//
// Every key of stored must agree with query. A key absent from query is
// a failure in exclusive mode and a don't-care in inclusive mode.
// Array-valued stored params require full containment in an array query
// (stored ⊆ query), or membership of a scalar query. The result never
// depends on map iteration order.
// ---------------------------------------------------------------------------

// Match reports whether a stored parameter set agrees with a query set.
// Exclusive mode additionally requires every stored key to be present in
// the query.
func Match(stored, query Params, exclusive bool) bool {
	for key, storedValue := range stored {
		queryValue, present := query[key]
		if !present {
			if exclusive {
				return false
			}
			continue
		}
		if !valueMatches(storedValue, queryValue) {
			return false
		}
	}
	return true
}

func valueMatches(stored, query Value) bool {
	storedArr, storedIsArr := stored.([]Value)
	queryArr, queryIsArr := query.([]Value)

	switch {
	case storedIsArr && queryIsArr:
		// Full containment: every stored element must appear in the query.
		for _, element := range storedArr {
			if !arrayContains(queryArr, element) {
				return false
			}
		}
		return true
	case storedIsArr:
		return arrayContains(storedArr, query)
	case queryIsArr:
		return arrayContains(queryArr, stored)
	default:
		return scalarEqual(stored, query)
	}
}

func arrayContains(arr []Value, scalar Value) bool {
	for _, element := range arr {
		if scalarEqual(element, scalar) {
			return true
		}
	}
	return false
}

func scalarEqual(a, b Value) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	return a == b
}

func asNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
