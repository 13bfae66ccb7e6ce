package broker

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FloatFrom returns m[key] as a float64. Native numbers are returned as is,
// numeric strings are parsed. Absent keys, other types and unparseable
// strings yield 0.
func FloatFrom(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	return coerce(m[key])
}

func coerce(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// FlexibleFloat decodes a JSON number, a numeric string or an object with a
// "value" field. Anything else decodes as 0 without failing.
type FlexibleFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		*f = 0
		return nil
	}

	if obj, ok := raw.(map[string]any); ok {
		*f = FlexibleFloat(FloatFrom(obj, "value"))
		return nil
	}
	*f = FlexibleFloat(coerce(raw))
	return nil
}

// Float64 returns the value as a float64.
func (f FlexibleFloat) Float64() float64 {
	return float64(f)
}
