package quotes

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// MockSource is the built-in synthetic source. It answers every symbol and
// never fails, which is what guarantees the registry always has a ready
// candidate. Prices are seeded per symbol and stable until overridden.
type MockSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewMockSource creates the mock source with a few well-known symbols seeded.
func NewMockSource() *MockSource {
	return &MockSource{
		prices: map[string]float64{
			"AAPL": 206.80,
			"NVDA": 450.00,
			"MSFT": 415.75,
			"BIOX": 12.50,
		},
	}
}

func (m *MockSource) ID() string     { return "mock" }
func (m *MockSource) Label() string  { return "Built-in synthetic" }
func (m *MockSource) Vendor() string { return "internal" }

// Fetch returns the seeded price for the symbol, deriving a stable synthetic
// price for symbols never seen before.
func (m *MockSource) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	m.mu.Lock()
	price, ok := m.prices[symbol]
	if !ok {
		price = syntheticPrice(symbol)
		m.prices[symbol] = price
	}
	m.mu.Unlock()

	return &Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Source:    m.ID(),
	}, nil
}

func (m *MockSource) Close() error { return nil }

// SetPrice pins a price, used by tests and the replay tool.
func (m *MockSource) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(strings.TrimSpace(symbol))] = price
}

// syntheticPrice maps a symbol to a stable price in [10, 510).
func syntheticPrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%50000)/100
}
