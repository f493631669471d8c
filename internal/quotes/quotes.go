// Package quotes provides market quote sources used to value positions:
// a Tradier HTTP client, circuit breaker and retry wrappers, and a polling
// subscription.
package quotes

import (
	"context"
	"fmt"
	"time"
)

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how old the quote is at now.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// IsStale returns true if the quote is older than maxAge. A non-positive
// maxAge disables the check.
func (q *Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return q.Age(now) > maxAge
}

// Source returns the latest quote for a symbol.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context, symbol string) (*Quote, error)

// GetQuote calls f.
func (f SourceFunc) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return f(ctx, symbol)
}

// QuoteLookupError wraps any failure to obtain a usable quote for a symbol.
type QuoteLookupError struct {
	Symbol string
	Err    error
}

func (e *QuoteLookupError) Error() string {
	return fmt.Sprintf("quote lookup for %s: %v", e.Symbol, e.Err)
}

func (e *QuoteLookupError) Unwrap() error { return e.Err }

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}
