// internal/graph/props.go
package graph

// AsString returns v as a string, or "" when it is not one.
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsStringPtr returns nil for absent or non-string values.
func AsStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// AsInt normalises the integer types the drivers hand back.
func AsInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// AsBool returns v as a bool, false when absent.
func AsBool(v any) bool {
	b, _ := v.(bool)
	return b
}
