package lifecycle

import (
	"time"

	"github.com/chainguard-dev/edurange/internal/scenario"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// DefaultReadinessInterval is the delay between readiness marker checks.
const DefaultReadinessInterval = 15 * time.Second

// Manager holds the collaborators shared by every Controller of a scenario.
type Manager struct {
	compute   Compute
	readiness *Readiness
	addresses AddressManager

	readinessInterval time.Duration
	readinessTimeout  time.Duration
	now               func() time.Time
	tracer            trace.Tracer

	// creates collapses concurrent discover-or-create calls per identity.
	creates singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithReadinessInterval sets the delay between readiness checks.
func WithReadinessInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readinessInterval = d
		}
	}
}

// WithReadinessTimeout bounds how long Start waits for the guest to report
// ready. Zero waits until the context is done.
func WithReadinessTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.readinessTimeout = d
	}
}

// WithClock overrides the clock used for DateCreated tags.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithTracerProvider sets the tracer provider used for Start and Stop spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		m.tracer = tp.Tracer(tracerName)
	}
}

const tracerName = "github.com/chainguard-dev/edurange/internal/lifecycle"

// NewManager returns a Manager driving instances on compute, with readiness
// markers kept in readiness.
func NewManager(compute Compute, readiness *Readiness, opts ...Option) *Manager {
	m := &Manager{
		compute:           compute,
		readiness:         readiness,
		readinessInterval: DefaultReadinessInterval,
		now:               time.Now,
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.addresses = AddressManager{compute: compute, now: m.now}
	return m
}

// Controller returns a controller for cfg. A controller is not safe for
// concurrent use; controllers for the same identity may run concurrently.
func (m *Manager) Controller(cfg *scenario.InstanceConfig) *Controller {
	return &Controller{
		mgr: m,
		cfg: cfg,
		id:  NewIdentity(cfg),
	}
}
