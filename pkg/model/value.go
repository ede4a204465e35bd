package model

// Path helpers over the heterogeneous value bags the subscription sources
// produce. Every accessor tolerates missing keys and wrong types, returning
// the zero value, so projection code stays linear.

// getMap walks nested maps along the path
func getMap(v map[string]any, path ...string) map[string]any {
	cur := v
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// getString reads a string leaf at the path
func getString(v map[string]any, path ...string) string {
	leaf := leafValue(v, path)
	s, _ := leaf.(string)
	return s
}

// getFloat reads a numeric leaf at the path. JSON numbers arrive as
// float64; trait decoding produces float64 and int64.
func getFloat(v map[string]any, path ...string) float64 {
	switch n := leafValue(v, path).(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

// getBool reads a boolean leaf at the path
func getBool(v map[string]any, path ...string) bool {
	b, _ := leafValue(v, path).(bool)
	return b
}

// has reports whether the path resolves to any value
func has(v map[string]any, path ...string) bool {
	return leafValue(v, path) != nil
}

func leafValue(v map[string]any, path []string) any {
	if len(path) == 0 {
		return nil
	}
	parent := v
	if len(path) > 1 {
		parent = getMap(v, path[:len(path)-1]...)
	}
	if parent == nil {
		return nil
	}
	return parent[path[len(path)-1]]
}

// mergeValue merges src into dst: nested maps merge recursively, everything
// else replaces. dst is mutated.
func mergeValue(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeValue(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// copyValue deep-copies a value bag so store reads never alias writer state
func copyValue(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		if m, ok := val.(map[string]any); ok {
			out[k] = copyValue(m)
			continue
		}
		if s, ok := val.([]any); ok {
			cp := make([]any, len(s))
			for i, e := range s {
				if m, ok := e.(map[string]any); ok {
					cp[i] = copyValue(m)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
			continue
		}
		out[k] = val
	}
	return out
}
