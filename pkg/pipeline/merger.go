package pipeline

import "reflect"

// Merge returns a new Context holding update merged over base. Neither
// argument is modified.
//
// For every key of update:
//   - when both values are mappings they are merged recursively,
//   - when both values are slices the result is base followed by update,
//   - otherwise the value from update replaces the one from base. Funcs are
//     always replaced, never merged.
//
// Keys present only in base are kept as they are.
func Merge(base, update Context) Context {
	return Context(mergeMaps(base, update))
}

func mergeMaps(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}

	for k, v := range update {
		current, exists := merged[k]
		if !exists {
			merged[k] = v
			continue
		}
		merged[k] = mergeValues(current, v)
	}

	return merged
}

func mergeValues(base, update any) any {
	baseMap, baseIsMap := asMap(base)
	updateMap, updateIsMap := asMap(update)
	if baseIsMap && updateIsMap {
		return mergeMaps(baseMap, updateMap)
	}

	if concatenated, ok := concatSlices(base, update); ok {
		return concatenated
	}

	return update
}

// concatSlices appends update to a copy of base when both are slices. Slices
// of the same type keep it; mixed element types fall back to []any.
func concatSlices(base, update any) (any, bool) {
	baseVal := reflect.ValueOf(base)
	updateVal := reflect.ValueOf(update)
	if baseVal.Kind() != reflect.Slice || updateVal.Kind() != reflect.Slice {
		return nil, false
	}

	total := baseVal.Len() + updateVal.Len()
	if baseVal.Type() == updateVal.Type() {
		out := reflect.MakeSlice(baseVal.Type(), 0, total)
		out = reflect.AppendSlice(out, baseVal)
		out = reflect.AppendSlice(out, updateVal)
		return out.Interface(), true
	}

	out := make([]any, 0, total)
	for i := 0; i < baseVal.Len(); i++ {
		out = append(out, baseVal.Index(i).Interface())
	}
	for i := 0; i < updateVal.Len(); i++ {
		out = append(out, updateVal.Index(i).Interface())
	}

	return out, true
}
