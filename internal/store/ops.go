package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type OpKind string

const (
	OpSet          OpKind = "set"
	OpAppendUnique OpKind = "append_unique"
	OpSetWhere     OpKind = "set_where"
	OpSetEach      OpKind = "set_each"
)

// Op is one field-level mutation. Ops travel over the wire as JSON.
type Op struct {
	Kind     OpKind `json:"kind"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
	Key      string `json:"key,omitempty"`
	Match    any    `json:"match,omitempty"`
	Subfield string `json:"subfield,omitempty"`
}

// Set replaces a top-level field.
func Set(field string, value any) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

// AppendUnique appends element to the array field unless an element with
// the same value at key is already there.
func AppendUnique(field string, element map[string]any, key string) Op {
	return Op{Kind: OpAppendUnique, Field: field, Value: element, Key: key}
}

// SetWhere replaces subfield of the array element whose key equals match.
func SetWhere(field, key string, match any, subfield string, value any) Op {
	return Op{Kind: OpSetWhere, Field: field, Key: key, Match: match, Subfield: subfield, Value: value}
}

// SetEach replaces subfield on every element of the array field.
func SetEach(field, subfield string, value any) Op {
	return Op{Kind: OpSetEach, Field: field, Subfield: subfield, Value: value}
}

const serverValueKey = ".sv"

// ServerTimestamp is a placeholder the store swaps for its own clock, in
// Unix milliseconds, when the value is written.
func ServerTimestamp() map[string]any {
	return map[string]any{serverValueKey: "timestamp"}
}

// Apply runs ops against a copy of doc. The input is never modified.
func Apply(doc Document, ops []Op, now time.Time) (Document, error) {
	out, err := Clone(doc)
	if err != nil {
		return nil, err
	}
	for i, op := range ops {
		if op.Field == "" {
			return nil, fmt.Errorf("%w: op %d has no field", ErrInvalidUpdate, i)
		}
		value, err := normalize(op.Value)
		if err != nil {
			return nil, err
		}
		value = ResolveServerValues(value, now)

		switch op.Kind {
		case OpSet:
			out[op.Field] = value

		case OpAppendUnique:
			elem, ok := value.(map[string]any)
			if !ok || op.Key == "" {
				return nil, fmt.Errorf("%w: append_unique needs an object and a key", ErrInvalidUpdate)
			}
			arr, err := arrayField(out, op.Field)
			if err != nil {
				return nil, err
			}
			if indexWhere(arr, op.Key, elem[op.Key]) < 0 {
				arr = append(arr, elem)
			}
			out[op.Field] = arr

		case OpSetWhere:
			if op.Key == "" || op.Subfield == "" {
				return nil, fmt.Errorf("%w: set_where needs key and subfield", ErrInvalidUpdate)
			}
			match, err := normalize(op.Match)
			if err != nil {
				return nil, err
			}
			arr, err := arrayField(out, op.Field)
			if err != nil {
				return nil, err
			}
			if i := indexWhere(arr, op.Key, match); i >= 0 {
				if elem, ok := arr[i].(map[string]any); ok {
					elem[op.Subfield] = value
				}
			}

		case OpSetEach:
			if op.Subfield == "" {
				return nil, fmt.Errorf("%w: set_each needs a subfield", ErrInvalidUpdate)
			}
			arr, err := arrayField(out, op.Field)
			if err != nil {
				return nil, err
			}
			for _, el := range arr {
				if elem, ok := el.(map[string]any); ok {
					elem[op.Subfield] = value
				}
			}

		default:
			return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidUpdate, op.Kind)
		}
	}
	return out, nil
}

// ResolveServerValues replaces every ServerTimestamp placeholder in v.
func ResolveServerValues(v any, now time.Time) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 && t[serverValueKey] == "timestamp" {
			return float64(now.UnixMilli())
		}
		for k, el := range t {
			t[k] = ResolveServerValues(el, now)
		}
		return t
	case Document:
		return Document(ResolveServerValues(map[string]any(t), now).(map[string]any))
	case []any:
		for i, el := range t {
			t[i] = ResolveServerValues(el, now)
		}
		return t
	default:
		return v
	}
}

// Clone deep-copies doc through JSON, which also coerces Go values into
// the JSON shape every backend stores.
func Clone(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	out := Document{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return out, nil
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return out, nil
}

func arrayField(doc Document, field string) ([]any, error) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return []any{}, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not an array", ErrInvalidUpdate, field)
	}
	return arr, nil
}

func indexWhere(arr []any, key string, match any) int {
	for i, el := range arr {
		elem, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := elem[key]; ok && scalarEqual(v, match) {
			return i
		}
	}
	return -1
}

// scalarEqual compares JSON scalars; objects and arrays never match.
func scalarEqual(a, b any) bool {
	switch a.(type) {
	case string, float64, bool:
		return a == b
	default:
		return false
	}
}
