package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a partner circuit breaker
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// ErrCircuitOpen is returned without calling the partner while its breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // open duration before a probe is allowed
	OnStateChange    func(name string, from, to BreakerState)
}

// DefaultBreakerConfig returns defaults sized for hourly-sweep plus live traffic
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Cooldown:         15 * time.Second,
	}
}

// Breaker guards calls to one upstream. Only transport failures and 5xx
// answers count against it; 4xx answers are the caller's problem.
type Breaker struct {
	name   string
	config *BreakerConfig
	now    func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool

	rejected int64
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Breaker{name: name, config: config, now: time.Now, state: StateClosed}
}

// allow decides whether a call may proceed
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			b.rejected++
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// record feeds a call result back into the breaker
func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}

	if failed {
		b.failures++
		b.successes = 0
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.config.FailureThreshold) {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to != StateHalfOpen {
		b.successes = 0
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats is a snapshot for the readiness endpoint
type BreakerStats struct {
	Name     string       `json:"name"`
	State    BreakerState `json:"state"`
	Failures int          `json:"current_failures"`
	Rejected int64        `json:"rejected"`
}

// Stats returns a snapshot of the breaker
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{Name: b.name, State: b.state, Failures: b.failures, Rejected: b.rejected}
}

// GuardedDoer wraps a Doer with a Breaker
type GuardedDoer struct {
	inner   Doer
	breaker *Breaker
}

// Guard wraps inner with breaker
func Guard(inner Doer, breaker *Breaker) *GuardedDoer {
	return &GuardedDoer{inner: inner, breaker: breaker}
}

// Do implements Doer
func (g *GuardedDoer) Do(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if err := g.breaker.allow(); err != nil {
		return nil, err
	}
	resp, err := g.inner.Do(ctx, req, timeout)
	g.breaker.record(err != nil || resp.StatusCode >= 500)
	return resp, err
}

// Breaker exposes the underlying breaker
func (g *GuardedDoer) Breaker() *Breaker {
	return g.breaker
}
