package quotes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig controls RetryingSource backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries twice starting at 200ms.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// RetryingSource retries transient quote failures with jittered backoff.
type RetryingSource struct {
	source Source
	logger logrus.FieldLogger
	config RetryConfig
}

// NewRetryingSource wraps source. An omitted config uses DefaultRetryConfig.
func NewRetryingSource(source Source, logger logrus.FieldLogger, config ...RetryConfig) *RetryingSource {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetryingSource{source: source, logger: logger, config: cfg}
}

// GetQuote calls the wrapped source, retrying transient errors until
// MaxRetries is exhausted or ctx is done.
func (r *RetryingSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, &QuoteLookupError{Symbol: symbol, Err: fmt.Errorf("operation canceled: %w", ctx.Err())}
		}

		q, err := r.source.GetQuote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		lastErr = err

		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}
		r.logger.WithFields(logrus.Fields{
			"symbol":  symbol,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).WithError(err).Debug("Transient quote error, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = r.calculateNextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return nil, &QuoteLookupError{Symbol: symbol, Err: fmt.Errorf("operation canceled during backoff: %w", ctx.Err())}
		}
	}

	var qe *QuoteLookupError
	if errors.As(lastErr, &qe) {
		return nil, lastErr
	}
	return nil, &QuoteLookupError{Symbol: symbol, Err: lastErr}
}

func (r *RetryingSource) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if r.config.MaxBackoff > 0 && backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			r.logger.WithError(err).Warn("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
