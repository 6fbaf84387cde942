package docstore

import "strings"

// ApplyTransform mutates fields in place. Dotted field paths address nested
// map keys; union creates missing intermediate maps, remove treats a missing
// path as a no-op. Removing the last element deletes the key so empty sets
// never linger in a document.
func ApplyTransform(fields map[string]interface{}, tr Transform) error {
	parts := strings.Split(tr.Field, ".")
	parent := fields
	for _, p := range parts[:len(parts)-1] {
		child, ok := parent[p]
		if !ok {
			if tr.Kind == TransformRemove {
				return nil
			}
			next := make(map[string]interface{})
			parent[p] = next
			parent = next
			continue
		}
		m, ok := child.(map[string]interface{})
		if !ok {
			return ErrBadTransform
		}
		parent = m
	}

	leaf := parts[len(parts)-1]
	set, err := StringSet(parent[leaf])
	if err != nil {
		return err
	}

	switch tr.Kind {
	case TransformUnion:
		for _, e := range tr.Elems {
			if !containsString(set, e) {
				set = append(set, e)
			}
		}
	case TransformRemove:
		kept := set[:0]
		for _, v := range set {
			if !containsString(tr.Elems, v) {
				kept = append(kept, v)
			}
		}
		set = kept
	}

	if len(set) == 0 {
		delete(parent, leaf)
		return nil
	}

	out := make([]interface{}, len(set))
	for i, v := range set {
		out[i] = v
	}
	parent[leaf] = out
	return nil
}

// StringSet coerces a document field into a string slice. Fields decoded from
// JSON arrive as []interface{}; fields built in process may be []string.
func StringSet(v interface{}) ([]string, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), vv...), nil
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, ErrBadTransform
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ErrBadTransform
	}
}

func containsString(set []string, v string) bool {
	for _, e := range set {
		if e == v {
			return true
		}
	}
	return false
}
