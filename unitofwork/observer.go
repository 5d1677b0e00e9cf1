package unitofwork

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/tessera"
)

// Outcome is the way a completion attempt or a session ended.
type Outcome uint8

// Outcomes. Callbacks only ever receive OutcomeCompleted and
// OutcomeDiscarded.
const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeDiscarded
	OutcomeApplied
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeApplied:
		return "applied"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// Callback is notified around completions of one unit of work.
type Callback interface {
	// BeforeCompletion runs before the changes are validated. An error
	// aborts the completion; the session stays open.
	BeforeCompletion(ctx context.Context, u *UnitOfWork) error
	// AfterCompletion runs after a successful completion or a discard.
	AfterCompletion(ctx context.Context, u *UnitOfWork, outcome Outcome)
}

// CallbackFuncs adapts functions to a Callback. Either function may be
// nil. Register it by pointer so that it can be removed again.
type CallbackFuncs struct {
	Before func(context.Context, *UnitOfWork) error
	After  func(context.Context, *UnitOfWork, Outcome)
}

// BeforeCompletion implements Callback.
func (c *CallbackFuncs) BeforeCompletion(ctx context.Context, u *UnitOfWork) error {
	if c.Before == nil {
		return nil
	}
	return c.Before(ctx, u)
}

// AfterCompletion implements Callback.
func (c *CallbackFuncs) AfterCompletion(ctx context.Context, u *UnitOfWork, outcome Outcome) {
	if c.After != nil {
		c.After(ctx, u, outcome)
	}
}

// Report summarizes a completion attempt or the end of a session.
type Report struct {
	ID      string
	Usecase tessera.Usecase
	Outcome Outcome
	// Err is the completion error of a failed attempt.
	Err error
	// Duration is the time since the session was opened.
	Duration time.Duration
	// Loaded counts the entities the session read from the store.
	Loaded int
	// Created, Updated and Removed count the changes submitted by the
	// attempt. They are zero for discarded sessions.
	Created, Updated, Removed int
	// Conflicts counts the entities of a concurrent modification.
	Conflicts int
}

// Observer is notified of every completion attempt and every discard.
type Observer interface {
	ObserveUnitOfWork(ctx context.Context, r Report)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(context.Context, Report)

// ObserveUnitOfWork implements Observer.
func (f ObserverFunc) ObserveUnitOfWork(ctx context.Context, r Report) { f(ctx, r) }
