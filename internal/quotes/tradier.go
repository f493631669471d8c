package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout is the HTTP timeout used when none is configured.
const DefaultTimeout = 10 * time.Second

// TradierSource fetches quotes from the Tradier market data API.
type TradierSource struct {
	client  *http.Client
	apiKey  string
	baseURL string
	sandbox bool
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewTradierSource creates a Tradier quote source. An empty baseURL selects
// the sandbox or production endpoint.
func NewTradierSource(apiKey string, sandbox bool, baseURL string, logger logrus.FieldLogger) *TradierSource {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TradierSource{
		client:  &http.Client{Timeout: DefaultTimeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		sandbox: sandbox,
		logger:  logger,
		now:     time.Now,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierSource) WithHTTPClient(c *http.Client) *TradierSource {
	if c != nil {
		t.client = c
	}
	return t
}

// WithTimeout sets the HTTP client timeout duration.
func (t *TradierSource) WithTimeout(timeout time.Duration) *TradierSource {
	if timeout > 0 && t.client != nil {
		t.client.Timeout = timeout
	}
	return t
}

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// quotesResponse represents the quotes response from the Tradier API.
type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

// quoteItem carries the subset of Tradier quote fields used for valuation.
type quoteItem struct {
	Symbol    string  `json:"symbol"`
	TradeDate int64   `json:"trade_date"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Close     float64 `json:"close"`
	PrevClose float64 `json:"prevclose"`
}

// price picks last, then the bid/ask midpoint, then the closes.
func (q quoteItem) price() float64 {
	switch {
	case q.Last > 0:
		return q.Last
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Close > 0:
		return q.Close
	default:
		return q.PrevClose
	}
}

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierSource) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response quotesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, &QuoteLookupError{Symbol: symbol, Err: err}
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 {
		return nil, &QuoteLookupError{Symbol: symbol, Err: fmt.Errorf("no quote found for symbol: %s", symbol)}
	}

	first := quotes[0]
	price := first.price()
	if price <= 0 {
		return nil, &QuoteLookupError{Symbol: symbol, Err: errors.New("quote has no usable price")}
	}
	ts := t.now().UTC()
	if first.TradeDate > 0 {
		ts = time.UnixMilli(first.TradeDate).UTC()
	}
	return &Quote{Symbol: strings.ToUpper(symbol), Price: price, Timestamp: ts}, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierSource) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "wheel-tracker/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Warn("Failed to close response body")
		}
	}()

	if remaining := resp.Header.Get("X-Ratelimit-Available"); remaining != "" && t.sandbox {
		t.logger.WithField("remaining", remaining).Debug("Tradier rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
