package params

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float reads a numeric value, falling back to def when the key is
// missing or holds something that is not a number.
func Float(values Values, key string, def float64) float64 {
	if f, ok := toFloat(values[key]); ok {
		return f
	}
	return def
}

// Int reads a numeric value rounded to the nearest integer
func Int(values Values, key string, def int) int {
	if f, ok := toFloat(values[key]); ok {
		return int(math.Round(f))
	}
	return def
}

// String reads a string value, falling back to def
func String(values Values, key string, def string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return def
}

// Bool reads a boolean value, falling back to def
func Bool(values Values, key string, def bool) bool {
	switch v := values[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
