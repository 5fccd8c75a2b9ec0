package picqer

import (
	"errors"
	"time"

	"github.com/newhook/nextpick/internal/logging"
	"github.com/sony/gobreaker"
)

// BreakerOptions configures the circuit breaker around upstream calls.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive upstream faults that
	// open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 5 * time.Second
)

type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(opts BreakerOptions) *breaker {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	settings := gobreaker.Settings{
		Name:        "picqer",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			var fe *FetchError
			if errors.As(err, &fe) {
				return !fe.upstreamFault()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) execute(path string, fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &FetchError{Kind: KindBreakerOpen, Path: path, Err: err}
	}
	return res, err
}

func (b *breaker) state() string {
	return b.cb.State().String()
}
