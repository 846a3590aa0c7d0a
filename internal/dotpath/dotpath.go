// Package dotpath resolves dotted paths such as "branch.leaf" against nested
// string-keyed maps. Numeric segments index into slices.
package dotpath

import (
	"reflect"
	"strconv"
	"strings"
)

// Split returns the segments of path. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}

	return strings.Split(path, ".")
}

// Get returns the value found at path and whether every segment resolved.
func Get(root any, path string) (any, bool) {
	segments := Split(path)
	if len(segments) == 0 {
		return nil, false
	}

	current := root
	for _, segment := range segments {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}

	return current, true
}

// Has reports whether path resolves in root. A key holding nil still counts
// as present.
func Has(root any, path string) bool {
	_, ok := Get(root, path)
	return ok
}

func child(node any, segment string) (any, bool) {
	if node == nil {
		return nil, false
	}

	if m, ok := node.(map[string]any); ok {
		v, found := m[segment]
		return v, found
	}

	val := reflect.ValueOf(node)
	switch val.Kind() {
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := val.MapIndex(reflect.ValueOf(segment).Convert(val.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= val.Len() {
			return nil, false
		}
		return val.Index(idx).Interface(), true
	default:
		return nil, false
	}
}
