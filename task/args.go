package task

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/xraph/conduit"
)

// Args are a task's named arguments.
type Args map[string]any

// ArgsFrom converts a JSON-serializable struct (or map) to Args.
func ArgsFrom(v any) (Args, error) {
	if a, ok := v.(Args); ok {
		return a, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode args: %v", conduit.ErrSerialization, err)
	}
	var a Args
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: args must encode as an object: %v", conduit.ErrSerialization, err)
	}
	return a, nil
}

// Decode fills v from the arguments, matching names to json tags.
func (a Args) Decode(v any) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: encode args: %v", conduit.ErrSerialization, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode args: %v", conduit.ErrSerialization, err)
	}
	return nil
}

// String returns the argument named key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Clone returns a shallow copy.
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}
