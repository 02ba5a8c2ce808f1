// Package resilience guards receipt delivery: one breaker per receipt endpoint
// and a retrying client that classifies what the endpoint answered.
package resilience

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/hotel-billing/internal/obs"
)

// ErrOpenCircuit is returned while the breaker for an endpoint refuses calls.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is a breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig sizes every breaker a Breakers set hands out.
type BreakerConfig struct {
	// Window is how many recent outcomes are weighed. Defaults to 20.
	Window int
	// MinRequests outcomes must be in the window before the breaker may open.
	MinRequests int
	// FailureRatio of unavailable outcomes in the window opens the breaker.
	FailureRatio float64
	// OpenFor is the cool-off before a single trial delivery is let through.
	OpenFor time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Window <= 0 {
		c.Window = 20
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 1
	}
	if c.MinRequests > c.Window {
		c.MinRequests = c.Window
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.5
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
	return c
}

// Breaker tracks one receipt endpoint over a rolling window of outcomes. In
// half-open exactly one trial delivery is in flight at a time.
type Breaker struct {
	endpoint string
	cfg      BreakerConfig
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	state    State
	window   []bool // true marks an unavailable outcome
	next     int
	filled   int
	failed   int
	openedAt time.Time
	trial    bool
}

// Endpoint is the label the breaker reports under.
func (b *Breaker) Endpoint() string { return b.endpoint }

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a delivery may be attempted now.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		b.trial = true
		return true
	default:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
}

// Record feeds the outcome of an allowed delivery back into the breaker.
func (b *Breaker) Record(ctx context.Context, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	failed := o == Unavailable
	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trial = false
		if failed {
			b.moveLocked(ctx, Open)
		} else {
			b.moveLocked(ctx, Closed)
		}
		return
	}

	if b.filled == len(b.window) {
		if b.window[b.next] {
			b.failed--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = failed
	if failed {
		b.failed++
	}
	b.next = (b.next + 1) % len(b.window)

	if b.filled >= b.cfg.MinRequests && float64(b.failed)/float64(b.filled) >= b.cfg.FailureRatio {
		b.moveLocked(ctx, Open)
	}
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	b.state = to
	switch to {
	case Open:
		b.openedAt = b.now()
	case Closed:
		clear(b.window)
		b.next, b.filled, b.failed = 0, 0, 0
	}
	obs.ObserveReceiptBreaker(b.endpoint, from.String(), to.String(), gaugeValue(to))

	evt := b.logger.Info()
	if to == Open {
		evt = b.logger.Warn()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Str("endpoint", b.endpoint).Str("from", from.String()).Str("to", to.String()).Msg("receipt: breaker state changed")
}

func gaugeValue(s State) float64 {
	switch s {
	case Open:
		return 1
	case HalfOpen:
		return 2
	}
	return 0
}

// Breakers hands out one breaker per receipt endpoint host, so a dead printer
// bridge does not stop deliveries to a healthy one.
type Breakers struct {
	Config BreakerConfig
	Logger zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	byHost map[string]*Breaker
}

// For returns the breaker guarding endpoint, creating it closed on first use.
func (s *Breakers) For(endpoint string) *Breaker {
	key := endpointKey(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byHost[key]; ok {
		return b
	}
	if s.byHost == nil {
		s.byHost = make(map[string]*Breaker)
	}
	cfg := s.Config.withDefaults()
	now := s.Now
	if now == nil {
		now = time.Now
	}
	b := &Breaker{
		endpoint: key,
		cfg:      cfg,
		now:      now,
		logger:   s.Logger,
		window:   make([]bool, cfg.Window),
	}
	s.byHost[key] = b
	obs.ObserveReceiptBreaker(key, "", Closed.String(), gaugeValue(Closed))
	return b
}

func endpointKey(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}
