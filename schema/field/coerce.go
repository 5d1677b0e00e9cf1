package field

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Coerce converts v to the Go type backing fields of type t. It accepts the
// shapes produced by generic decoders (JSON numbers, RFC 3339 strings,
// base64 strings, []any) so that state decoded by any codec reads back with
// the same Go types that were written. nil is returned unchanged.
func Coerce(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString, TypeEnum, TypeUUID:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case TypeInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt || n > math.MaxInt {
			return nil, fmt.Errorf("field: value %d overflows int", n)
		}
		return int(n), nil
	case TypeInt64:
		return toInt64(v)
	case TypeFloat64:
		return toFloat64(v)
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			tm, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("field: parse time: %w", err)
			}
			return tm, nil
		}
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("field: decode bytes: %w", err)
			}
			return b, nil
		}
	case TypeStrings:
		switch v := v.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, len(v))
			for i, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("field: unexpected list item %T, expect string", e)
				}
				out[i] = s
			}
			return out, nil
		}
	case TypeJSON:
		return v, nil
	}
	return nil, fmt.Errorf("field: cannot use %T as %s", v, t)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("field: value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field: value %v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("field: cannot use %T as an integer", v)
}

func toFloat64(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("field: cannot use %T as a float", v)
	}
	return float64(n), nil
}
