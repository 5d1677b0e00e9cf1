package tessera

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors. Every structured error below matches its
// sentinel with errors.Is.
var (
	// ErrNotFound is returned when an entity does not exist, or was removed
	// in the current unit of work.
	ErrNotFound = errors.New("tessera: entity not found")

	// ErrAlreadyExists is returned when creating an entity whose reference
	// is already known.
	ErrAlreadyExists = errors.New("tessera: entity already exists")

	// ErrConstraintViolation is returned when an entity breaks one or more
	// declared constraints.
	ErrConstraintViolation = errors.New("tessera: constraint violation")

	// ErrConcurrentModification is returned when a completion lost an
	// optimistic concurrency race.
	ErrConcurrentModification = errors.New("tessera: concurrent modification")

	// ErrLifecycle is returned when a lifecycle hook refused a transition.
	ErrLifecycle = errors.New("tessera: lifecycle hook failed")

	// ErrCompletion is returned when a unit of work could not complete.
	ErrCompletion = errors.New("tessera: completion failed")

	// ErrSessionClosed is returned when using a unit of work, or one of
	// its entities, after the session was completed or discarded.
	ErrSessionClosed = errors.New("tessera: unit of work is closed")
)

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Ref Reference
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tessera: entity %s not found", e.Ref)
}

// Is reports whether err is ErrNotFound.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError for ref.
func NewNotFoundError(ref Reference) *NotFoundError {
	return &NotFoundError{Ref: ref}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// AlreadyExistsError reports an attempt to create a known entity.
type AlreadyExistsError struct {
	Ref Reference
}

// Error returns the error string.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("tessera: entity %s already exists", e.Ref)
}

// Is reports whether err is ErrAlreadyExists.
func (e *AlreadyExistsError) Is(err error) bool {
	return err == ErrAlreadyExists
}

// NewAlreadyExistsError returns a new AlreadyExistsError for ref.
func NewAlreadyExistsError(ref Reference) *AlreadyExistsError {
	return &AlreadyExistsError{Ref: ref}
}

// IsAlreadyExists returns true if the error is an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	var e *AlreadyExistsError
	return errors.As(err, &e) || errors.Is(err, ErrAlreadyExists)
}

// Violation describes one broken constraint of an entity.
type Violation struct {
	Accessor string // Property or association name
	Rule     string // Short rule name, e.g. "required" or "max"
	Value    any    // Offending value, if any
	Err      error  // Validator error
}

// Error returns the error string.
func (v Violation) Error() string {
	if v.Err != nil {
		return fmt.Sprintf("%s: %v", v.Accessor, v.Err)
	}
	return fmt.Sprintf("%s: %s", v.Accessor, v.Rule)
}

// ConstraintViolationError carries every violation found on one entity.
type ConstraintViolationError struct {
	Ref        Reference
	Violations []Violation
}

// Error returns the error string.
func (e *ConstraintViolationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tessera: entity %s violates %d constraint(s)", e.Ref, len(e.Violations))
	for i, v := range e.Violations {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(v.Error())
	}
	return sb.String()
}

// Is reports whether err is ErrConstraintViolation.
func (e *ConstraintViolationError) Is(err error) bool {
	return err == ErrConstraintViolation
}

// NewConstraintViolationError returns a new ConstraintViolationError, or nil
// when there are no violations.
func NewConstraintViolationError(ref Reference, violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ConstraintViolationError{Ref: ref, Violations: violations}
}

// IsConstraintViolation returns true if the error is, or contains, a
// ConstraintViolationError.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintViolationError
	return errors.As(err, &e) || errors.Is(err, ErrConstraintViolation)
}

// Violations flattens every violation carried by err, including those
// aggregated inside a CompletionError.
func Violations(err error) []Violation {
	var out []Violation
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *ConstraintViolationError:
			out = append(out, e.Violations...)
		case interface{ Unwrap() []error }:
			for _, err := range e.Unwrap() {
				walk(err)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}

// ConcurrentModificationError lists every entity whose stored version
// moved since it was read by the failing unit of work.
type ConcurrentModificationError struct {
	Refs []Reference
}

// Error returns the error string.
func (e *ConcurrentModificationError) Error() string {
	refs := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		refs[i] = r.String()
	}
	return fmt.Sprintf("tessera: concurrent modification of %s", strings.Join(refs, ", "))
}

// Is reports whether err is ErrConcurrentModification.
func (e *ConcurrentModificationError) Is(err error) bool {
	return err == ErrConcurrentModification
}

// NewConcurrentModificationError returns a new ConcurrentModificationError.
func NewConcurrentModificationError(refs ...Reference) *ConcurrentModificationError {
	return &ConcurrentModificationError{Refs: refs}
}

// IsConcurrentModification returns true if the error is a ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrentModificationError
	return errors.As(err, &e) || errors.Is(err, ErrConcurrentModification)
}

// Lifecycle operations reported by LifecycleError.
const (
	OpCreate = "create"
	OpRemove = "remove"
)

// LifecycleError wraps the error returned by a lifecycle hook.
type LifecycleError struct {
	Ref  Reference
	Hook string // Hook name
	Op   string // OpCreate or OpRemove
	Err  error  // Error returned by the hook
}

// Error returns the error string.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("tessera: %s hook %q of %s: %v", e.Op, e.Hook, e.Ref, e.Err)
}

// Unwrap returns the hook error.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// Is reports whether err is ErrLifecycle.
func (e *LifecycleError) Is(err error) bool {
	return err == ErrLifecycle
}

// NewLifecycleError returns a new LifecycleError.
func NewLifecycleError(ref Reference, hook, op string, err error) *LifecycleError {
	return &LifecycleError{Ref: ref, Hook: hook, Op: op, Err: err}
}

// IsLifecycleError returns true if the error is a LifecycleError.
func IsLifecycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *LifecycleError
	return errors.As(err, &e)
}

// CompletionError aggregates the causes of a failed completion: several
// constraint violations, a refused callback or a store failure.
type CompletionError struct {
	Errors []error
}

// Error returns the error string.
func (e *CompletionError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tessera: completion failed"
	case 1:
		return fmt.Sprintf("tessera: completion failed: %v", e.Errors[0])
	}
	var sb strings.Builder
	sb.WriteString("tessera: completion failed with multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the aggregated errors.
func (e *CompletionError) Unwrap() []error {
	return e.Errors
}

// Is reports whether err is ErrCompletion.
func (e *CompletionError) Is(err error) bool {
	return err == ErrCompletion
}

// NewCompletionError returns a CompletionError for the non-nil errors, or
// nil if there are none.
func NewCompletionError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &CompletionError{Errors: filtered}
}

// IsCompletionError returns true if the error is a CompletionError.
func IsCompletionError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompletionError
	return errors.As(err, &e)
}

// SessionClosedError reports use of a closed unit of work.
type SessionClosedError struct {
	Session string // Unit of work identity
	Reason  string // "completed" or "discarded"
}

// Error returns the error string.
func (e *SessionClosedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tessera: unit of work %s is closed (%s)", e.Session, e.Reason)
	}
	return fmt.Sprintf("tessera: unit of work %s is closed", e.Session)
}

// Is reports whether err is ErrSessionClosed.
func (e *SessionClosedError) Is(err error) bool {
	return err == ErrSessionClosed
}

// NewSessionClosedError returns a new SessionClosedError.
func NewSessionClosedError(session, reason string) *SessionClosedError {
	return &SessionClosedError{Session: session, Reason: reason}
}

// IsSessionClosed returns true if the error is a SessionClosedError.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	var e *SessionClosedError
	return errors.As(err, &e) || errors.Is(err, ErrSessionClosed)
}

// UnknownAccessorError is returned when looking up a property or
// association the entity type does not declare.
type UnknownAccessorError struct {
	Type string
	Name string
	Kind string // "property" or "association"
}

// Error returns the error string.
func (e *UnknownAccessorError) Error() string {
	return fmt.Sprintf("tessera: type %s has no %s %q", e.Type, e.Kind, e.Name)
}

// NewUnknownAccessorError returns a new UnknownAccessorError.
func NewUnknownAccessorError(typ, kind, name string) *UnknownAccessorError {
	return &UnknownAccessorError{Type: typ, Kind: kind, Name: name}
}

// IsUnknownAccessor returns true if the error is an UnknownAccessorError.
func IsUnknownAccessor(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownAccessorError
	return errors.As(err, &e)
}

// IsRetryable reports whether err leaves the failing unit of work open so
// the caller may fix the problem and complete again.
func IsRetryable(err error) bool {
	return IsConstraintViolation(err) || IsConcurrentModification(err) || IsCompletionError(err)
}
