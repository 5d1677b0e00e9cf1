// Package field provides fluent builders for declaring entity properties.
//
//	field.String("number").NotEmpty().MaxLen(32).Immutable()
//	field.Int("quantity").Positive().Default(1)
//	field.Float("total").NonNegative()
//	field.Bool("archived").Default(false)
//	field.Time("placed_at").Default(time.Now)
//	field.Enum("status").Values("draft", "placed", "shipped").Default("draft")
//	field.UUID("token").Default(uuid.NewString)
//	field.Strings("tags").Optional()
//	field.JSON("metadata").Optional()
//
// Every builder implements tessera.Field through its Descriptor method.
// Misuse of a builder, such as a default of the wrong type or an enum
// without values, is recorded in Descriptor.Err and reported when the
// entity model is assembled.
//
// # Values
//
// Property values are held as plain Go values: string for String, Text,
// Enum and UUID fields, int, int64 and float64 for numeric fields, bool,
// time.Time, []byte, []string and any for JSON fields. Coerce converts
// values decoded by a storage codec back to these types.
//
// # Validation
//
// Validators run on non-nil values when the owning entity checks its
// constraints. A nil value on a field that is neither Optional nor
// Nillable is reported as a "required" violation.
package field
