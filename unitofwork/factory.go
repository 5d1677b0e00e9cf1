package unitofwork

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/graph"
	"github.com/syssam/tessera/store"
)

// Factory opens units of work over one graph and one store. It is safe for
// concurrent use.
type Factory struct {
	graph     *graph.Graph
	store     store.EntityStore
	log       *slog.Logger
	ids       tessera.IdentityGenerator
	clock     func() time.Time
	observers []Observer
	policy    Policy
	batchSize int
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger of the factory and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.log = l
	}
}

// WithIdentityGenerator sets the generator of identities for entities
// created without one. The default generates UUIDs.
func WithIdentityGenerator(g tessera.IdentityGenerator) Option {
	return func(f *Factory) {
		f.ids = g
	}
}

// WithClock sets the clock providing the current time of sessions opened
// without an explicit time.
func WithClock(clock func() time.Time) Option {
	return func(f *Factory) {
		f.clock = clock
	}
}

// WithObserver adds an observer notified when sessions finish.
func WithObserver(o Observer) Option {
	return func(f *Factory) {
		f.observers = append(f.observers, o)
	}
}

// WithPolicy sets the policy authorizing the changes of every completion.
func WithPolicy(p Policy) Option {
	return func(f *Factory) {
		f.policy = p
	}
}

// WithBatchSize sets the number of entities GetAll loads per store call.
func WithBatchSize(n int) Option {
	return func(f *Factory) {
		f.batchSize = n
	}
}

// NewFactory returns a factory of units of work over g and s.
func NewFactory(g *graph.Graph, s store.EntityStore, opts ...Option) (*Factory, error) {
	if g == nil {
		return nil, errors.New("unitofwork: nil graph")
	}
	if s == nil {
		return nil, errors.New("unitofwork: nil store")
	}
	f := &Factory{
		graph:     g,
		store:     s,
		log:       slog.Default(),
		ids:       tessera.UUIDGenerator{},
		clock:     time.Now,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Graph returns the entity graph of the factory.
func (f *Factory) Graph() *graph.Graph { return f.graph }

// Store returns the store of the factory.
func (f *Factory) Store() store.EntityStore { return f.store }

// SessionOption configures one unit of work.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	usecase tessera.Usecase
	at      time.Time
}

// WithUsecase sets the usecase of the unit of work. The default is
// tessera.DefaultUsecase.
func WithUsecase(u tessera.Usecase) SessionOption {
	return func(c *sessionConfig) {
		c.usecase = u
	}
}

// At sets the current time of the unit of work, for example to replay
// history. The default is the factory clock at opening time.
func At(t time.Time) SessionOption {
	return func(c *sessionConfig) {
		c.at = t
	}
}

// NewUnitOfWork opens a unit of work.
func (f *Factory) NewUnitOfWork(ctx context.Context, opts ...SessionOption) (*UnitOfWork, error) {
	started := f.clock()
	cfg := sessionConfig{usecase: tessera.DefaultUsecase}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.at.IsZero() {
		cfg.at = started
	}
	suow, err := f.store.NewUnitOfWork(ctx, cfg.usecase, cfg.at)
	if err != nil {
		return nil, err
	}
	u := &UnitOfWork{
		factory:  f,
		store:    suow,
		usecase:  cfg.usecase,
		now:      cfg.at,
		started:  started,
		entities: make(map[tessera.Reference]*Entity),
	}
	u.log = f.log.With("uow", suow.ID(), "usecase", cfg.usecase.Name)
	u.log.Debug("unitofwork: opened", "at", cfg.at)
	return u, nil
}
