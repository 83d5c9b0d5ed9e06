package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is returned by Resolve when a path does not exist in the tree.
// It is distinct from a present nil (JSON null).
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Resolve walks a dot-separated path through a generic tree of maps and
// slices. Numeric segments index into slices. Any missing segment yields
// Undefined.
func Resolve(tree any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return Undefined
	}
	current := tree
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return Undefined
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return Undefined
			}
			current = node[idx]
		default:
			return Undefined
		}
	}
	return current
}

// Stringify renders a resolved value the way it is substituted into text and
// compared by equals: numbers without trailing zeros, composites as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case undefined:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toFloat coerces a value to float64. Strings are parsed; anything else
// that is not numeric reports false.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
