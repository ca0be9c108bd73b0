package store

import "fmt"

// setPath writes value at the dotted path, creating intermediate objects
// as needed.
func setPath(doc map[string]any, path string, value any) error {
	parts := splitPath(path)
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok || next == nil {
			child := map[string]any{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q is not an object", part)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// getPath reads the value at the dotted path.
func getPath(doc map[string]any, path string) (any, bool) {
	parts := splitPath(path)
	var current any = doc
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// pushPath appends value to the array at the dotted path, creating the
// array when absent.
func pushPath(doc map[string]any, path string, value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	current, ok := getPath(doc, path)
	if !ok || current == nil {
		return setPath(doc, path, []any{normalized})
	}
	items, ok := current.([]any)
	if !ok {
		return fmt.Errorf("field %q is not an array", path)
	}
	return setPath(doc, path, append(items, normalized))
}
