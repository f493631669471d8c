package quotes

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSource implements Source with testify/mock expectations.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Quote), args.Error(1)
}

func TestRetryingSource_RetriesTransientThenSucceeds(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	src := &MockSource{}
	want := &Quote{Symbol: "KO", Price: 61.2, Timestamp: time.Now()}
	src.On("GetQuote", mock.Anything, "KO").Return(nil, &APIError{Status: 503, Body: "unavailable"}).Once()
	src.On("GetQuote", mock.Anything, "KO").Return(want, nil).Once()

	r := NewRetryingSource(src, logger, RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	got, err := r.GetQuote(context.Background(), "KO")
	require.NoError(t, err)
	assert.Same(t, want, got)
	src.AssertExpectations(t)
	src.AssertNumberOfCalls(t, "GetQuote", 2)
}

func TestRetryingSource_PermanentErrorNotRetried(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	src := &MockSource{}
	src.On("GetQuote", mock.Anything, "ZZZZ").Return(nil, &APIError{Status: 400, Body: "bad symbol"})

	r := NewRetryingSource(src, logger, RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond})
	_, err := r.GetQuote(context.Background(), "ZZZZ")

	var qe *QuoteLookupError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "ZZZZ", qe.Symbol)
	src.AssertNumberOfCalls(t, "GetQuote", 1)
}
