// Package breaker wraps a triage.Provider in a circuit breaker so a failing
// inference service is not hammered by every incoming alert.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sieve/internal/triage"
)

// Settings tunes the breaker. Zero values use the defaults below.
type Settings struct {
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe. Default 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open. Default 1.
	HalfOpenRequests uint32
	// OnStateChange is called with the new state name.
	OnStateChange func(state string)
}

// Provider is a triage.Provider guarded by a circuit breaker.
type Provider struct {
	inner triage.Provider
	cb    *gobreaker.CircuitBreaker
}

// New wraps inner. Calls made while the breaker is open fail immediately
// with an error wrapping gobreaker.ErrOpenState.
func New(name string, inner triage.Provider, logger log.Logger, s Settings) *Provider {
	if logger == nil {
		logger = log.Nop()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "llm circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if s.OnStateChange != nil {
				s.OnStateChange(to.String())
			}
		},
		// a caller giving up is not a provider failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Provider{inner: inner, cb: cb}
}

// Send forwards req to the wrapped provider through the breaker.
func (p *Provider) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	out, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.Send(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*triage.LLMResponse), nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (p *Provider) State() string {
	return p.cb.State().String()
}
