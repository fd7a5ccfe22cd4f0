// Package respath extracts fields out of a step's response or payload data
// using JSONPath expressions, the way a switch-style step would pick a
// branch out of its input.
package respath

import (
	"fmt"
	"strconv"

	"github.com/oliveagle/jsonpath"
)

// Lookup evaluates expression (a JSONPath expression, e.g. "$.order.id")
// against data and returns the matched value.
func Lookup(data map[string]any, expression string) (any, error) {
	return jsonpath.JsonPathLookup(data, expression)
}

// LookupString evaluates expression and coerces the result to a string,
// mirroring the coercions a branching step applies to route on a field's
// value regardless of its underlying JSON type.
func LookupString(data map[string]any, expression string) (string, error) {
	value, err := Lookup(data, expression)
	if err != nil {
		return "", err
	}
	return stringify(value)
}

func stringify(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatInt(int64(v), 10), nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("respath: unsupported value type %T", value)
	}
}
