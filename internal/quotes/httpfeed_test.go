package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedAgainst(t *testing.T, baseURL string, cfg HTTPFeedConfig) *HTTPFeed {
	t.Helper()
	cfg.ID = "vendor1"
	cfg.BaseURL = baseURL
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 100000
	}
	f, err := NewHTTPFeed(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestHTTPFeedFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "sekret", r.URL.Query().Get("apikey"))
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "AAPL", "price": 206.80, "ts": "2026-03-02T14:30:00Z",
		})
	}))
	defer srv.Close()

	f := newFeedAgainst(t, srv.URL, HTTPFeedConfig{APIKey: "sekret"})

	q, err := f.Fetch(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 206.80, q.Price)
	assert.Equal(t, "vendor1", q.Source)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), q.Timestamp)
}

func TestHTTPFeedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"symbol": "AAPL", "price": 100.0})
	}))
	defer srv.Close()

	f := newFeedAgainst(t, srv.URL, HTTPFeedConfig{MaxRetries: 3, BackoffBaseMs: 1})

	q, err := f.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFeedBadSymbolNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFeedAgainst(t, srv.URL, HTTPFeedConfig{MaxRetries: 3, BackoffBaseMs: 1})

	_, err := f.Fetch(context.Background(), "NOPE")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bad_symbol", fe.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFeedGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newFeedAgainst(t, srv.URL, HTTPFeedConfig{MaxRetries: 2, BackoffBaseMs: 1})

	_, err := f.Fetch(context.Background(), "AAPL")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "rate_limit", fe.Kind)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFeedDailyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"symbol": "AAPL", "price": 100.0})
	}))
	defer srv.Close()

	f := newFeedAgainst(t, srv.URL, HTTPFeedConfig{DailyCap: 2})

	_, err := f.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "AAPL")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "rate_limit", fe.Kind)
	assert.Contains(t, fe.Message, "daily cap")
}

func TestHTTPFeedConfigValidation(t *testing.T) {
	_, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = NewHTTPFeed(HTTPFeedConfig{ID: "v"})
	assert.Error(t, err)
}
