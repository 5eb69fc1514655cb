package quotes

import (
	"fmt"
	"strings"
	"time"
)

// Quote is a normalized market data point from any source.
// Immutable once produced; the registry keeps only the most recent per symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Validate normalizes the symbol and rejects quotes that must not reach the
// fill model (fail-closed: a bad quote is worse than no quote).
func Validate(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}

	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	if q.Price <= 0 {
		return fmt.Errorf("invalid quote price: %.4f", q.Price)
	}

	if q.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.Timestamp)
	}

	return nil
}

// Age returns how old the quote is at the given instant.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// FetchError represents the different ways a quote fetch can fail.
type FetchError struct {
	Kind    string // "network" | "timeout" | "rate_limit" | "bad_symbol" | "not_ready" | "provider_error"
	Source  string
	Symbol  string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s from %s: %s (%v)", e.Kind, e.Symbol, e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s from %s: %s", e.Kind, e.Symbol, e.Source, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewNetworkError(source, symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: "network", Source: source, Symbol: symbol, Message: message, Cause: cause}
}

func NewTimeoutError(source, symbol string, cause error) *FetchError {
	return &FetchError{Kind: "timeout", Source: source, Symbol: symbol, Message: "fetch timed out", Cause: cause}
}

func NewRateLimitError(source, symbol string) *FetchError {
	return &FetchError{Kind: "rate_limit", Source: source, Symbol: symbol, Message: "rate limit exceeded"}
}

func NewBadSymbolError(source, symbol string) *FetchError {
	return &FetchError{Kind: "bad_symbol", Source: source, Symbol: symbol, Message: "symbol not known to source"}
}

func NewProviderError(source, symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: "provider_error", Source: source, Symbol: symbol, Message: message, Cause: cause}
}
