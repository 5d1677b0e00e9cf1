package field

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// A Type represents a field type.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeTime
	TypeJSON
	TypeUUID
	TypeBytes
	TypeEnum
	TypeString
	TypeInt
	TypeInt64
	TypeFloat64
	TypeStrings
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeTime:    "time.Time",
	TypeJSON:    "json.RawMessage",
	TypeUUID:    "uuid",
	TypeBytes:   "[]byte",
	TypeEnum:    "enum",
	TypeString:  "string",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeStrings: "[]string",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64
}

// TypeInfo holds the information of a field type.
type TypeInfo struct {
	Type Type
	// Ident is the Go type used by generated accessors.
	Ident string
	// PkgPath is the import path of Ident, if any.
	PkgPath string
}

// String returns the Go type identifier of the field.
func (t TypeInfo) String() string {
	if t.Ident != "" {
		return t.Ident
	}
	return t.Type.String()
}

// Validator is a named validation rule applied to a non-nil field value.
type Validator struct {
	Rule string
	Fn   func(any) error
}

// Descriptor for field configuration.
type Descriptor struct {
	Name       string      // field name.
	Info       *TypeInfo   // field type info.
	Default    any         // static default value, or a func() T.
	Optional   bool        // nil is an accepted value.
	Nillable   bool        // nil is distinct from the zero value.
	Immutable  bool        // can only be set while the entity is new.
	Comment    string      // field comment.
	Enums      []string    // enum values.
	Validators []Validator // validators applied to non-nil values.
	Err        error       // builder misuse.
}

// DefaultValue returns the default value of the field, calling the default
// function if one was configured.
func (d *Descriptor) DefaultValue() (any, bool) {
	switch f := d.Default.(type) {
	case nil:
		return nil, false
	case func() string:
		return f(), true
	case func() int:
		return f(), true
	case func() int64:
		return f(), true
	case func() float64:
		return f(), true
	case func() bool:
		return f(), true
	case func() time.Time:
		return f(), true
	case func() []byte:
		return f(), true
	case func() []string:
		return f(), true
	case func() any:
		return f(), true
	default:
		return d.Default, true
	}
}

// Validate runs every validator against v and returns one error per failed
// rule. nil values are reported as missing unless the field is optional.
func (d *Descriptor) Validate(v any) []error {
	if v == nil {
		if d.Optional || d.Nillable {
			return nil
		}
		return []error{&RuleError{Rule: "required", Err: errors.New("value is required")}}
	}
	var errs []error
	for _, vd := range d.Validators {
		if err := vd.Fn(v); err != nil {
			errs = append(errs, &RuleError{Rule: vd.Rule, Err: err})
		}
	}
	return errs
}

// RuleError is returned by Descriptor.Validate for each failed rule.
type RuleError struct {
	Rule string
	Err  error
}

// Error returns the error string.
func (e *RuleError) Error() string { return e.Err.Error() }

// Unwrap returns the validator error.
func (e *RuleError) Unwrap() error { return e.Err }

func (d *Descriptor) addValidator(rule string, fn func(any) error) {
	d.Validators = append(d.Validators, Validator{Rule: rule, Fn: fn})
}

func (d *Descriptor) checkDefault(v any) {
	if v == nil || reflect.TypeOf(v).Kind() == reflect.Func {
		return
	}
	if _, err := Coerce(d.Info.Type, v); err != nil {
		d.Err = errors.Join(d.Err, fmt.Errorf("field %q: invalid default: %w", d.Name, err))
	}
}

// typed wraps a typed validation function into an untyped one.
func typed[T any](fn func(T) error) func(any) error {
	return func(v any) error {
		t, ok := v.(T)
		if !ok {
			var zero T
			return fmt.Errorf("unexpected value type %T, expect %T", v, zero)
		}
		return fn(t)
	}
}

// String returns a new Field with type string.
func String(name string) *stringBuilder {
	return &stringBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeString},
	}}
}

// Text returns a new string field without a length limit. It is an alias
// for String, kept for readability of schemas holding long texts.
func Text(name string) *stringBuilder {
	return String(name)
}

// stringBuilder is the builder for string fields.
type stringBuilder struct {
	desc *Descriptor
}

// NotEmpty adds a length validator that requires a non-empty value.
func (b *stringBuilder) NotEmpty() *stringBuilder {
	b.desc.addValidator("not_empty", typed(func(s string) error {
		if s == "" {
			return errors.New("value is empty")
		}
		return nil
	}))
	return b
}

// MinLen adds a length validator for this field.
func (b *stringBuilder) MinLen(i int) *stringBuilder {
	b.desc.addValidator("min_len", typed(func(s string) error {
		if len(s) < i {
			return fmt.Errorf("value is less than the required length %d", i)
		}
		return nil
	}))
	return b
}

// MaxLen adds a length validator for this field.
func (b *stringBuilder) MaxLen(i int) *stringBuilder {
	b.desc.addValidator("max_len", typed(func(s string) error {
		if len(s) > i {
			return fmt.Errorf("value is greater than the required length %d", i)
		}
		return nil
	}))
	return b
}

// Match adds a regex matcher for this field.
func (b *stringBuilder) Match(re *regexp.Regexp) *stringBuilder {
	b.desc.addValidator("match", typed(func(s string) error {
		if !re.MatchString(s) {
			return fmt.Errorf("value does not match pattern %q", re.String())
		}
		return nil
	}))
	return b
}

// Validate adds a custom validator for this field.
func (b *stringBuilder) Validate(fn func(string) error) *stringBuilder {
	b.desc.addValidator("custom", typed(fn))
	return b
}

// Default sets the default value of the field.
func (b *stringBuilder) Default(s string) *stringBuilder {
	b.desc.Default = s
	return b
}

// DefaultFunc sets a function producing the default value.
func (b *stringBuilder) DefaultFunc(fn func() string) *stringBuilder {
	b.desc.Default = fn
	return b
}

// Optional indicates that this field may hold no value.
func (b *stringBuilder) Optional() *stringBuilder {
	b.desc.Optional = true
	return b
}

// Nillable indicates that nil is distinct from the empty string.
func (b *stringBuilder) Nillable() *stringBuilder {
	b.desc.Nillable = true
	return b
}

// Immutable indicates that this field cannot be updated once the entity
// was completed.
func (b *stringBuilder) Immutable() *stringBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *stringBuilder) Comment(c string) *stringBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *stringBuilder) Descriptor() *Descriptor {
	b.desc.checkDefault(b.desc.Default)
	return b.desc
}

// number is the set of Go types backing numeric fields.
type number interface {
	~int | ~int64 | ~float64
}

// numericBuilder is the builder for numeric fields.
type numericBuilder[T number] struct {
	desc *Descriptor
}

func newNumeric[T number](name string, t Type) *numericBuilder[T] {
	return &numericBuilder[T]{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: t},
	}}
}

// Int returns a new Field with type int.
func Int(name string) *numericBuilder[int] { return newNumeric[int](name, TypeInt) }

// Int64 returns a new Field with type int64.
func Int64(name string) *numericBuilder[int64] { return newNumeric[int64](name, TypeInt64) }

// Float returns a new Field with type float64.
func Float(name string) *numericBuilder[float64] { return newNumeric[float64](name, TypeFloat64) }

// Range adds a range validator for this field where the given value needs
// to be in the range of [i, j].
func (b *numericBuilder[T]) Range(i, j T) *numericBuilder[T] {
	b.desc.addValidator("range", typed(func(v T) error {
		if v < i || v > j {
			return fmt.Errorf("value %v out of range [%v, %v]", v, i, j)
		}
		return nil
	}))
	return b
}

// Min adds a minimum value validator for this field. Operation fails if
// the validator fails.
func (b *numericBuilder[T]) Min(i T) *numericBuilder[T] {
	b.desc.addValidator("min", typed(func(v T) error {
		if v < i {
			return fmt.Errorf("value %v is less than %v", v, i)
		}
		return nil
	}))
	return b
}

// Max adds a maximum value validator for this field.
func (b *numericBuilder[T]) Max(i T) *numericBuilder[T] {
	b.desc.addValidator("max", typed(func(v T) error {
		if v > i {
			return fmt.Errorf("value %v is greater than %v", v, i)
		}
		return nil
	}))
	return b
}

// Positive adds a minimum value validator with the value of 1.
func (b *numericBuilder[T]) Positive() *numericBuilder[T] {
	b.desc.addValidator("positive", typed(func(v T) error {
		if v <= 0 {
			return fmt.Errorf("value %v is not positive", v)
		}
		return nil
	}))
	return b
}

// NonNegative adds a minimum value validator with the value of 0.
func (b *numericBuilder[T]) NonNegative() *numericBuilder[T] {
	return b.Min(0)
}

// Validate adds a custom validator for this field.
func (b *numericBuilder[T]) Validate(fn func(T) error) *numericBuilder[T] {
	b.desc.addValidator("custom", typed(fn))
	return b
}

// Default sets the default value of the field.
func (b *numericBuilder[T]) Default(v T) *numericBuilder[T] {
	b.desc.Default = v
	return b
}

// DefaultFunc sets a function producing the default value.
func (b *numericBuilder[T]) DefaultFunc(fn func() T) *numericBuilder[T] {
	b.desc.Default = func() any { return fn() }
	return b
}

// Optional indicates that this field may hold no value.
func (b *numericBuilder[T]) Optional() *numericBuilder[T] {
	b.desc.Optional = true
	return b
}

// Nillable indicates that nil is distinct from zero.
func (b *numericBuilder[T]) Nillable() *numericBuilder[T] {
	b.desc.Nillable = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *numericBuilder[T]) Immutable() *numericBuilder[T] {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *numericBuilder[T]) Comment(c string) *numericBuilder[T] {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *numericBuilder[T]) Descriptor() *Descriptor {
	b.desc.checkDefault(b.desc.Default)
	return b.desc
}

// Bool returns a new Field with type bool.
func Bool(name string) *boolBuilder {
	return &boolBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeBool},
	}}
}

// boolBuilder is the builder for boolean fields.
type boolBuilder struct {
	desc *Descriptor
}

// Default sets the default value of the field.
func (b *boolBuilder) Default(v bool) *boolBuilder {
	b.desc.Default = v
	return b
}

// Optional indicates that this field may hold no value.
func (b *boolBuilder) Optional() *boolBuilder {
	b.desc.Optional = true
	return b
}

// Nillable indicates that nil is distinct from false.
func (b *boolBuilder) Nillable() *boolBuilder {
	b.desc.Nillable = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *boolBuilder) Immutable() *boolBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *boolBuilder) Comment(c string) *boolBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *boolBuilder) Descriptor() *Descriptor {
	return b.desc
}

// Time returns a new Field with type time.Time.
func Time(name string) *timeBuilder {
	return &timeBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeTime, Ident: "time.Time", PkgPath: "time"},
	}}
}

// timeBuilder is the builder for time fields.
type timeBuilder struct {
	desc *Descriptor
}

// Default sets the function producing the default value, e.g. time.Now.
func (b *timeBuilder) Default(fn func() time.Time) *timeBuilder {
	b.desc.Default = fn
	return b
}

// Optional indicates that this field may hold no value.
func (b *timeBuilder) Optional() *timeBuilder {
	b.desc.Optional = true
	return b
}

// Nillable indicates that nil is distinct from the zero time.
func (b *timeBuilder) Nillable() *timeBuilder {
	b.desc.Nillable = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *timeBuilder) Immutable() *timeBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *timeBuilder) Comment(c string) *timeBuilder {
	b.desc.Comment = c
	return b
}

// Validate adds a custom validator for this field.
func (b *timeBuilder) Validate(fn func(time.Time) error) *timeBuilder {
	b.desc.addValidator("custom", typed(fn))
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *timeBuilder) Descriptor() *Descriptor {
	return b.desc
}

// UUID returns a new Field holding a UUID in its canonical string form.
func UUID(name string) *uuidBuilder {
	d := &Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeUUID, Ident: "string"},
	}
	d.addValidator("uuid", typed(func(s string) error {
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Errorf("value %q is not a UUID: %w", s, err)
		}
		return nil
	}))
	return &uuidBuilder{d}
}

// uuidBuilder is the builder for UUID fields.
type uuidBuilder struct {
	desc *Descriptor
}

// Default sets the function producing the default value, e.g. uuid.NewString.
func (b *uuidBuilder) Default(fn func() string) *uuidBuilder {
	b.desc.Default = fn
	return b
}

// Optional indicates that this field may hold no value.
func (b *uuidBuilder) Optional() *uuidBuilder {
	b.desc.Optional = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *uuidBuilder) Immutable() *uuidBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *uuidBuilder) Comment(c string) *uuidBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *uuidBuilder) Descriptor() *Descriptor {
	return b.desc
}

// Enum returns a new Field with type enum. Values are added with Values.
func Enum(name string) *enumBuilder {
	return &enumBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeEnum, Ident: "string"},
	}}
}

// enumBuilder is the builder for enum fields.
type enumBuilder struct {
	desc *Descriptor
}

// Values adds given values to the enum values.
func (b *enumBuilder) Values(values ...string) *enumBuilder {
	for _, v := range values {
		if slices.Contains(b.desc.Enums, v) {
			b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: duplicate enum value %q", b.desc.Name, v))
			continue
		}
		b.desc.Enums = append(b.desc.Enums, v)
	}
	return b
}

// Default sets the default value of the field.
func (b *enumBuilder) Default(v string) *enumBuilder {
	b.desc.Default = v
	return b
}

// Optional indicates that this field may hold no value.
func (b *enumBuilder) Optional() *enumBuilder {
	b.desc.Optional = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *enumBuilder) Immutable() *enumBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *enumBuilder) Comment(c string) *enumBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *enumBuilder) Descriptor() *Descriptor {
	if len(b.desc.Enums) == 0 {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: missing enum values", b.desc.Name))
	}
	if d, ok := b.desc.Default.(string); ok && !slices.Contains(b.desc.Enums, d) {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: default %q is not an enum value", b.desc.Name, d))
	}
	enums := b.desc.Enums
	if !slices.ContainsFunc(b.desc.Validators, func(v Validator) bool { return v.Rule == "enum" }) {
		b.desc.addValidator("enum", typed(func(s string) error {
			if !slices.Contains(enums, s) {
				return fmt.Errorf("value %q is not a valid enum value", s)
			}
			return nil
		}))
	}
	return b.desc
}

// Bytes returns a new Field with type bytes.
func Bytes(name string) *bytesBuilder {
	return &bytesBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeBytes},
	}}
}

// bytesBuilder is the builder for bytes fields.
type bytesBuilder struct {
	desc *Descriptor
}

// MaxLen adds a length validator for this field.
func (b *bytesBuilder) MaxLen(i int) *bytesBuilder {
	b.desc.addValidator("max_len", typed(func(v []byte) error {
		if len(v) > i {
			return fmt.Errorf("value is greater than the required length %d", i)
		}
		return nil
	}))
	return b
}

// Optional indicates that this field may hold no value.
func (b *bytesBuilder) Optional() *bytesBuilder {
	b.desc.Optional = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *bytesBuilder) Immutable() *bytesBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *bytesBuilder) Comment(c string) *bytesBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *bytesBuilder) Descriptor() *Descriptor {
	return b.desc
}

// JSON returns a new Field holding an arbitrary JSON-compatible value
// (maps, slices, strings, numbers and booleans).
func JSON(name string) *jsonBuilder {
	return &jsonBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeJSON, Ident: "any"},
	}}
}

// jsonBuilder is the builder for JSON fields.
type jsonBuilder struct {
	desc *Descriptor
}

// Optional indicates that this field may hold no value.
func (b *jsonBuilder) Optional() *jsonBuilder {
	b.desc.Optional = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *jsonBuilder) Immutable() *jsonBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *jsonBuilder) Comment(c string) *jsonBuilder {
	b.desc.Comment = c
	return b
}

// Validate adds a custom validator for this field.
func (b *jsonBuilder) Validate(fn func(any) error) *jsonBuilder {
	b.desc.addValidator("custom", fn)
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *jsonBuilder) Descriptor() *Descriptor {
	return b.desc
}

// Strings returns a new Field with type []string.
func Strings(name string) *stringsBuilder {
	return &stringsBuilder{&Descriptor{
		Name: name,
		Info: &TypeInfo{Type: TypeStrings},
	}}
}

// stringsBuilder is the builder for string list fields.
type stringsBuilder struct {
	desc *Descriptor
}

// Default sets the function producing the default value.
func (b *stringsBuilder) Default(fn func() []string) *stringsBuilder {
	b.desc.Default = fn
	return b
}

// MaxItems adds a length validator for this field.
func (b *stringsBuilder) MaxItems(i int) *stringsBuilder {
	b.desc.addValidator("max_items", typed(func(v []string) error {
		if len(v) > i {
			return fmt.Errorf("value has %d items, more than %d", len(v), i)
		}
		return nil
	}))
	return b
}

// Optional indicates that this field may hold no value.
func (b *stringsBuilder) Optional() *stringsBuilder {
	b.desc.Optional = true
	return b
}

// Immutable indicates that this field cannot be updated.
func (b *stringsBuilder) Immutable() *stringsBuilder {
	b.desc.Immutable = true
	return b
}

// Comment sets the comment of the field.
func (b *stringsBuilder) Comment(c string) *stringsBuilder {
	b.desc.Comment = c
	return b
}

// Descriptor implements the tessera.Field interface by returning its descriptor.
func (b *stringsBuilder) Descriptor() *Descriptor {
	return b.desc
}
