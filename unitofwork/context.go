package unitofwork

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying u as the current unit of work.
func NewContext(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the current unit of work carried by ctx. It reports
// false if there is none, or if it is paused or closed.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(ctxKey{}).(*UnitOfWork)
	if !ok || u == nil || u.state != sessionOpen {
		return nil, false
	}
	return u, true
}
