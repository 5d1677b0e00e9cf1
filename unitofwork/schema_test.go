package unitofwork_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	contrib "github.com/syssam/tessera/contrib/mixin"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/schema/edge"
	"github.com/syssam/tessera/schema/field"
	"github.com/syssam/tessera/schema/mixin"
	"github.com/syssam/tessera/store/memory"
	"github.com/syssam/tessera/unitofwork"
)

type Customer struct{ tessera.Schema }

func (Customer) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("name").NotEmpty(),
	}
}

func (Customer) Mixin() []tessera.Mixin {
	return []tessera.Mixin{mixin.CreateTime{}}
}

type Order struct{ tessera.Schema }

func (Order) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("number").NotEmpty(),
		field.Float("total").NonNegative().Default(0),
		field.String("note").Optional(),
	}
}

func (Order) Edges() []tessera.Edge {
	return []tessera.Edge{
		edge.To("customer", Customer.Type).Unique().Required(),
		edge.To("invoice", Invoice.Type).Unique().Aggregated(),
		edge.To("lines", OrderLine.Type).Aggregated(),
		edge.To("attachments", Attachment.Type).Named().Aggregated(),
		edge.To("related", Order.Type),
	}
}

func (Order) Mixin() []tessera.Mixin {
	return []tessera.Mixin{contrib.Lock{}}
}

type OrderLine struct{ tessera.Schema }

func (OrderLine) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("sku").NotEmpty().Immutable(),
		field.Int("qty").Positive().Default(1),
	}
}

func (OrderLine) Edges() []tessera.Edge {
	return []tessera.Edge{
		edge.To("invoice", Invoice.Type).Unique().Aggregated(),
	}
}

type Invoice struct{ tessera.Schema }

func (Invoice) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("code").Optional(),
	}
}

func (Invoice) Mixin() []tessera.Mixin {
	return []tessera.Mixin{contrib.Lock{}}
}

type Attachment struct{ tessera.Schema }

func (Attachment) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("title").Optional(),
	}
}

type Node struct{ tessera.Schema }

func (Node) Fields() []tessera.Field {
	return []tessera.Field{
		field.String("label").Optional(),
	}
}

func (Node) Edges() []tessera.Edge {
	return []tessera.Edge{
		edge.To("peer", Node.Type).Unique(),
	}
}

var errRejected = errors.New("rejected")

// Ticket records the hooks run on it in its trail.
type Ticket struct{ tessera.Schema }

func (Ticket) Fields() []tessera.Field {
	return []tessera.Field{
		field.Strings("trail").Optional(),
	}
}

func (Ticket) Mixin() []tessera.Mixin {
	return []tessera.Mixin{
		mixin.WithHooks(mixin.Schema{}, trail("mixin")),
	}
}

func (Ticket) Hooks() []tessera.Hook {
	return []tessera.Hook{
		trail("own"),
		tessera.OnCreate("reject", func(_ context.Context, e tessera.Entity) error {
			if e.Reference().ID == "reject" {
				return errRejected
			}
			return nil
		}),
		tessera.OnRemove("farewell", func(_ context.Context, e tessera.Entity) error {
			return appendTrail(e, "removed")
		}),
	}
}

func trail(name string) tessera.Hook {
	return tessera.OnCreate(name, func(_ context.Context, e tessera.Entity) error {
		return appendTrail(e, name)
	})
}

func appendTrail(e tessera.Entity, s string) error {
	v, err := e.Value("trail")
	if err != nil {
		return err
	}
	t, _ := v.([]string)
	return e.SetValue("trail", append(slices.Clone(t), s))
}

var (
	testGraph = graph.MustNew(Customer{}, Order{}, OrderLine{}, Invoice{}, Attachment{}, Node{}, Ticket{})
	testNow   = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
)

func newFactory(t *testing.T, opts ...unitofwork.Option) (*unitofwork.Factory, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]unitofwork.Option{
		unitofwork.WithClock(func() time.Time { return testNow }),
	}, opts...)
	f, err := unitofwork.NewFactory(testGraph, s, opts...)
	require.NoError(t, err)
	return f, s
}

func open(t *testing.T, f *unitofwork.Factory, opts ...unitofwork.SessionOption) *unitofwork.UnitOfWork {
	t.Helper()
	u, err := f.NewUnitOfWork(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(u.Discard)
	return u
}

// seedCustomer stores a customer and returns its reference.
func seedCustomer(t *testing.T, f *unitofwork.Factory, id, name string) tessera.Reference {
	t.Helper()
	ctx := context.Background()
	u := open(t, f)
	c, err := u.NewEntity(ctx, "Customer", id)
	require.NoError(t, err)
	require.NoError(t, c.SetValue("name", name))
	require.NoError(t, u.Complete(ctx))
	return c.Reference()
}

// seedOrder stores an order of customer "c-"+id and returns its reference.
func seedOrder(t *testing.T, f *unitofwork.Factory, id string) tessera.Reference {
	t.Helper()
	ctx := context.Background()
	seedCustomer(t, f, "c-"+id, "ACME")
	u := open(t, f)
	o, err := u.NewEntity(ctx, "Order", id)
	require.NoError(t, err)
	require.NoError(t, o.SetValue("number", "N-"+id))
	customer, err := o.Association("customer")
	require.NoError(t, err)
	require.NoError(t, customer.SetReference(tessera.NewReference("Customer", "c-"+id)))
	require.NoError(t, u.Complete(ctx))
	return o.Reference()
}
