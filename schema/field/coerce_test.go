package field_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera/schema/field"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	tests := []struct {
		name string
		typ  field.Type
		in   any
		want any
	}{
		{"nil", field.TypeString, nil, nil},
		{"string", field.TypeString, "a", "a"},
		{"string_bytes", field.TypeEnum, []byte("b"), "b"},
		{"int_from_float", field.TypeInt, 3.0, 3},
		{"int_from_int8", field.TypeInt, int8(-3), -3},
		{"int_from_uint16", field.TypeInt, uint16(7), 7},
		{"int64_from_int", field.TypeInt64, 9, int64(9)},
		{"int64_from_number", field.TypeInt64, json.Number("12"), int64(12)},
		{"float_from_int", field.TypeFloat64, 2, 2.0},
		{"float_from_float32", field.TypeFloat64, float32(0.5), 0.5},
		{"bool", field.TypeBool, true, true},
		{"time", field.TypeTime, at, at},
		{"time_from_string", field.TypeTime, at.Format(time.RFC3339Nano), at},
		{"bytes_from_base64", field.TypeBytes, "aGk=", []byte("hi")},
		{"strings_from_any", field.TypeStrings, []any{"a", "b"}, []string{"a", "b"}},
		{"json", field.TypeJSON, map[string]any{"k": 1.0}, map[string]any{"k": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := field.Coerce(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		typ field.Type
		in  any
	}{
		"fraction":    {field.TypeInt, 1.5},
		"bool_string": {field.TypeBool, "true"},
		"bad_time":    {field.TypeTime, "yesterday"},
		"bad_base64":  {field.TypeBytes, "***"},
		"bad_item":    {field.TypeStrings, []any{"a", 1}},
		"int_string":  {field.TypeInt64, "12"},
		"float_bool":  {field.TypeFloat64, false},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := field.Coerce(tc.typ, tc.in)
			assert.Error(t, err)
		})
	}
}
