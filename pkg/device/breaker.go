package device

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
)

// Default breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerSettings configures the transport circuit breaker.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

// Breaker stops hammering a device whose transport keeps failing
// (unplugged cable, adb server restart). Calls fail fast while open.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[string]
}

// NewBreaker creates a breaker; zero fields take defaults.
func NewBreaker(s BreakerSettings) *Breaker {
	maxFailures := s.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := s.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "device-shell",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
	return &Breaker{cb: cb}
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() (string, error)) (string, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", core.ErrDeviceUnavailable.WithCause(err)
	}
	return out, err
}

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
