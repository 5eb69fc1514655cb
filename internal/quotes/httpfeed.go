package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFeedConfig configures a polling vendor adapter.
type HTTPFeedConfig struct {
	ID                 string
	Label              string
	Vendor             string
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	DailyCap           int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// HTTPFeed fetches quotes from a JSON-over-HTTP vendor endpoint. It enforces
// its own rate limit and daily request cap so a hot symbol cannot burn the
// vendor budget.
type HTTPFeed struct {
	config      HTTPFeedConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	mu            sync.Mutex
	requestsToday int
	budgetReset   time.Time
}

// vendor wire format: {"symbol": "...", "price": 123.45, "ts": "RFC3339"}
type httpFeedPayload struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     string  `json:"ts"`
}

// NewHTTPFeed creates a polling adapter.
func NewHTTPFeed(config HTTPFeedConfig) (*HTTPFeed, error) {
	if config.ID == "" {
		return nil, fmt.Errorf("http feed id is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("http feed base_url is required")
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 60
	}
	if config.DailyCap <= 0 {
		config.DailyCap = 5000
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 8
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 200
	}

	return &HTTPFeed{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		budgetReset: nextMidnightUTC(time.Now()),
	}, nil
}

func (f *HTTPFeed) ID() string { return f.config.ID }

func (f *HTTPFeed) Label() string {
	if f.config.Label != "" {
		return f.config.Label
	}
	return f.config.ID
}

func (f *HTTPFeed) Vendor() string { return f.config.Vendor }

// Fetch polls the vendor with bounded retries on transient failures.
func (f *HTTPFeed) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if err := f.chargeBudget(); err != nil {
		return nil, err
	}

	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, NewRateLimitError(f.config.ID, symbol)
	}

	var lastErr error
	for attempt := 0; attempt < f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(f.config.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		q, err := f.fetchOnce(ctx, symbol)
		if err == nil {
			return q, nil
		}
		lastErr = err

		// only transient failures are worth retrying
		var ferr *FetchError
		if errors.As(err, &ferr) && (ferr.Kind == "bad_symbol" || ferr.Kind == "provider_error") {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (f *HTTPFeed) fetchOnce(ctx context.Context, symbol string) (*Quote, error) {
	u, err := url.Parse(f.config.BaseURL + "/quote")
	if err != nil {
		return nil, NewProviderError(f.config.ID, symbol, "bad base url", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	if f.config.APIKey != "" {
		q.Set("apikey", f.config.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, NewProviderError(f.config.ID, symbol, "build request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(f.config.ID, symbol, "request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, NewRateLimitError(f.config.ID, symbol)
	case http.StatusNotFound:
		return nil, NewBadSymbolError(f.config.ID, symbol)
	default:
		return nil, NewProviderError(f.config.ID, symbol,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, NewNetworkError(f.config.ID, symbol, "read body", err)
	}

	var payload httpFeedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewProviderError(f.config.ID, symbol, "decode payload", err)
	}

	ts := time.Now().UTC()
	if payload.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.TS); err == nil {
			ts = parsed
		}
	}

	return &Quote{
		Symbol:    symbol,
		Price:     payload.Price,
		Timestamp: ts,
		Source:    f.config.ID,
	}, nil
}

func (f *HTTPFeed) chargeBudget() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if now.After(f.budgetReset) {
		f.requestsToday = 0
		f.budgetReset = nextMidnightUTC(now)
	}
	if f.requestsToday >= f.config.DailyCap {
		return &FetchError{
			Kind:    "rate_limit",
			Source:  f.config.ID,
			Message: fmt.Sprintf("daily cap of %d requests exhausted", f.config.DailyCap),
		}
	}
	f.requestsToday++
	return nil
}

func (f *HTTPFeed) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}

func nextMidnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
