package store

import (
	"fmt"

	"github.com/roach88/domino/internal/ir"
)

// marshalValue converts an IRValue to canonical JSON TEXT for storage.
func marshalValue(what string, v ir.IRValue) (string, error) {
	if v == nil {
		v = ir.IRNull{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT. Integers are decoded without
// float64 precision loss.
func unmarshalValue(what, data string) (ir.IRValue, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return v, nil
}

// marshalTags stores a nil tag set as {}.
func marshalTags(tags ir.IRObject) (string, error) {
	if tags == nil {
		return "{}", nil
	}
	return marshalValue("tags", tags)
}

func unmarshalTags(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	v, err := unmarshalValue("tags", data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal tags: expected object, got %s", ir.TypeName(v))
	}
	return obj, nil
}
