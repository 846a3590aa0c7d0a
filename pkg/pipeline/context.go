package pipeline

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Context is the shared, progressively extended data threaded through a run.
// A Context returned by a handler is a fragment to merge into it.
type Context map[string]any

// Clone returns a deep copy of c. Maps and slices are copied, every other
// value (funcs, pointers, structs) is shared.
func Clone(c Context) Context {
	if c == nil {
		return Context{}
	}

	return cloneMap(c)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch m := v.(type) {
	case map[string]any:
		return cloneMap(m)
	case Context:
		return Context(cloneMap(m))
	}

	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Slice || val.IsNil() {
		return v
	}

	out := reflect.MakeSlice(val.Type(), val.Len(), val.Len())
	for i := 0; i < val.Len(); i++ {
		elem := val.Index(i)
		cloned := cloneValue(elem.Interface())
		if cloned == nil {
			continue
		}
		out.Index(i).Set(reflect.ValueOf(cloned))
	}

	return out.Interface()
}

// asMap reports whether v is a string-keyed mapping the merger recurses into.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	default:
		return nil, false
	}
}

// Decode copies the values of c into out, which must be a pointer to a struct
// or map. Field names are matched case-insensitively or through
// `mapstructure` tags.
func Decode(c Context, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "unable to create context decoder")
	}

	err = decoder.Decode(map[string]any(c))
	if err != nil {
		return errors.Wrap(err, "unable to decode context")
	}

	return nil
}
