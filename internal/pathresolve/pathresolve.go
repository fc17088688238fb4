// Package pathresolve implements the small dotted-path/array-index
// interpreter spec.md §4.3 and §9 call for: resolving a source_path like
// "owner.id" or "tags.0" against a raw record (map[string]any nested with
// further maps and slices).
package pathresolve

import (
	"strconv"
	"strings"
)

// Resolve walks path (dot-separated segments, numeric segments index into
// slices) against record and returns the located value. It returns
// (nil, false) when any segment is missing or the value shape at a segment
// doesn't match (e.g. indexing into a non-slice).
func Resolve(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = record
	for _, segment := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[segment]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

