package quotes

import (
	"context"
	"time"
)

// Source is a market data adapter. Implementations must respect ctx deadlines
// on Fetch and must not retain the returned quote.
type Source interface {
	ID() string
	Label() string
	Vendor() string
	Fetch(ctx context.Context, symbol string) (*Quote, error)
	Close() error
}

// Descriptor is the externally visible health state of a registered source.
// Sources are never deleted, only marked unready.
type Descriptor struct {
	ID                string    `json:"id"`
	Label             string    `json:"label"`
	Vendor            string    `json:"vendor"`
	Ready             bool      `json:"ready"`
	Active            bool      `json:"active"`
	LatencyMs         float64   `json:"latency_ms"` // EWMA over fetch attempts
	LastSuccess       time.Time `json:"last_success"`
	LastError         string    `json:"last_error,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalRequests     int64     `json:"total_requests"`
	TotalErrors       int64     `json:"total_errors"`
}
