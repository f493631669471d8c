package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least five requests.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// CircuitBreakerSource wraps a Source with circuit breaker functionality
type CircuitBreakerSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerSource creates a CircuitBreakerSource. Zero-valued
// settings fields take their defaults.
func NewCircuitBreakerSource(source Source, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := DefaultCircuitBreakerSettings
	if settings.MaxRequests == 0 {
		settings.MaxRequests = d.MaxRequests
	}
	if settings.Interval == 0 {
		settings.Interval = d.Interval
	}
	if settings.Timeout == 0 {
		settings.Timeout = d.Timeout
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = d.MinRequests
	}
	if settings.FailureRatio == 0 {
		settings.FailureRatio = d.FailureRatio
	}

	gbSettings := gobreaker.Settings{
		Name:        "QuoteCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetQuote wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.source.GetQuote(ctx, symbol)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &QuoteLookupError{Symbol: symbol, Err: err}
		}
		return nil, err
	}
	q, ok := res.(*Quote)
	if !ok || q == nil {
		return nil, &QuoteLookupError{Symbol: symbol, Err: errors.New("circuit breaker: type assertion failed")}
	}
	return q, nil
}

// State returns the current breaker state.
func (c *CircuitBreakerSource) State() gobreaker.State {
	return c.breaker.State()
}
