package backend

// extractLocation pulls the result location out of a completed job's output
// data. Workers disagree on the shape, so three are tolerated:
//
//	data[0][0].name  nested file object carrying a worker-relative path
//	data[0].url      file object carrying an absolute URL
//	data[1]          plain string in the alternate slot
//
// A bare string in data[0] is accepted as well. Returns false when no
// location can be found.
func extractLocation(data []any) (string, bool) {
	if len(data) == 0 {
		return "", false
	}

	switch first := data[0].(type) {
	case string:
		if first != "" {
			return first, true
		}
	case []any:
		if len(first) > 0 {
			if obj, ok := first[0].(map[string]any); ok {
				if name, ok := stringField(obj, "name"); ok {
					return name, true
				}
				if url, ok := stringField(obj, "url"); ok {
					return url, true
				}
			}
		}
	case map[string]any:
		if url, ok := stringField(first, "url"); ok {
			return url, true
		}
		if name, ok := stringField(first, "name"); ok {
			return name, true
		}
	}

	if len(data) > 1 {
		if alt, ok := data[1].(string); ok && alt != "" {
			return alt, true
		}
	}
	return "", false
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
