package model

import "fmt"

// StringifyCallbackArgs recursively coerces map keys to strings,
// satisfying spec.md §9's resolution of the callback_args Open
// Question: keys are stringified at the JSON boundary regardless of
// what the producer passed in.
func StringifyCallbackArgs(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = StringifyCallbackArgs(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[toString(k)] = StringifyCallbackArgs(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = StringifyCallbackArgs(val)
		}
		return out
	default:
		return v
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
