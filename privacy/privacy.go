package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/unitofwork"
)

// Policy decision sentinel errors. Use errors.Is to check for them:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("tessera/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("tessera/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("tessera/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// ChangeRule decides whether a change is authorized.
type ChangeRule interface {
	EvalChange(context.Context, unitofwork.Change) error
}

// ChangeRuleFunc type is an adapter which allows the use of ordinary
// functions as change rules.
type ChangeRuleFunc func(context.Context, unitofwork.Change) error

// EvalChange returns f(ctx, c).
func (f ChangeRuleFunc) EvalChange(ctx context.Context, c unitofwork.Change) error {
	return f(ctx, c)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() ChangeRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() ChangeRule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a context evaluation function. Returning
// nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) ChangeRule {
	return ChangeRuleFunc(func(ctx context.Context, _ unitofwork.Change) error {
		return eval(ctx)
	})
}

// OnOps evaluates the given rule only on changes of the given operations.
func OnOps(rule ChangeRule, ops ...unitofwork.Op) ChangeRule {
	return ChangeRuleFunc(func(ctx context.Context, c unitofwork.Change) error {
		if slices.Contains(ops, c.Op) {
			return rule.EvalChange(ctx, c)
		}
		return Skip
	})
}

// OnTypes evaluates the given rule only on entities of the given types.
func OnTypes(rule ChangeRule, types ...string) ChangeRule {
	return ChangeRuleFunc(func(ctx context.Context, c unitofwork.Change) error {
		if slices.Contains(types, c.Entity.Reference().Type) {
			return rule.EvalChange(ctx, c)
		}
		return Skip
	})
}

// DenyOpRule returns a rule denying the specified operation.
func DenyOpRule(op unitofwork.Op) ChangeRule {
	rule := ChangeRuleFunc(func(_ context.Context, c unitofwork.Change) error {
		return Denyf("tessera/privacy: operation %s is not allowed", c.Op)
	})
	return OnOps(rule, op)
}

// AllowOpRule returns a rule allowing the specified operation.
func AllowOpRule(op unitofwork.Op) ChangeRule {
	return OnOps(fixedDecision{Allow}, op)
}

// Policy is an ordered list of rules. It implements unitofwork.Policy.
type Policy []ChangeRule

// EvalChange evaluates the rules in order. An Allow decision, or no
// decision at all, authorizes the change. Any other error rejects it with
// a *DenyError.
func (p Policy) EvalChange(ctx context.Context, c unitofwork.Change) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return deny(c, decision)
	}
	for _, rule := range p {
		switch decision := rule.EvalChange(ctx, c); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return deny(c, decision)
		}
	}
	return nil
}

// Policies combines the policies of several schemas. A change is
// authorized when no policy rejects it; a policy returning a raw Allow
// decision stops the evaluation.
type Policies []unitofwork.Policy

// EvalChange evaluates the policies in order.
func (policies Policies) EvalChange(ctx context.Context, c unitofwork.Change) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return deny(c, decision)
	}
	for _, policy := range policies {
		switch decision := policy.EvalChange(ctx, c); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// DenyError reports a change rejected by a policy.
type DenyError struct {
	Ref tessera.Reference
	Op  unitofwork.Op
	Err error // Deciding rule error
}

// Error returns the error string.
func (e *DenyError) Error() string {
	return fmt.Sprintf("tessera/privacy: %s of %s denied: %v", e.Op, e.Ref, e.Err)
}

// Unwrap returns the rule error.
func (e *DenyError) Unwrap() error {
	return e.Err
}

func deny(c unitofwork.Change, decision error) error {
	if decision == nil {
		return nil
	}
	var de *DenyError
	if errors.As(decision, &de) {
		return decision
	}
	return &DenyError{Ref: c.Entity.Reference(), Op: c.Op, Err: decision}
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it. The decision overrides every policy
// evaluated under the context.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
// An Allow decision is reported as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalChange(context.Context, unitofwork.Change) error {
	return f.decision
}

var (
	_ unitofwork.Policy = Policy(nil)
	_ unitofwork.Policy = Policies(nil)
	_ unitofwork.Policy = ChangeRuleFunc(nil)
)
