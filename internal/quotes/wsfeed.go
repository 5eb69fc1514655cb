package quotes

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/traderlab/papertrade/internal/observ"
)

// WSFeedConfig configures a streaming vendor adapter.
type WSFeedConfig struct {
	ID              string
	Label           string
	Vendor          string
	URL             string
	MaxStaleness    time.Duration // Fetch rejects ticks older than this
	ReconnectDelay  time.Duration
	ReadDeadlineSec int
}

// WSFeed consumes a vendor websocket stream and serves Fetch from the latest
// tick per symbol. Run must be started for the feed to produce anything;
// until the first tick for a symbol arrives Fetch reports not_ready.
type WSFeed struct {
	config WSFeedConfig

	mu    sync.RWMutex
	ticks map[string]*Quote
}

// vendor wire format: {"symbol": "...", "price": 123.45}
type wsTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// NewWSFeed creates a streaming adapter.
func NewWSFeed(config WSFeedConfig) *WSFeed {
	if config.MaxStaleness <= 0 {
		config.MaxStaleness = 10 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.ReadDeadlineSec <= 0 {
		config.ReadDeadlineSec = 10
	}
	return &WSFeed{
		config: config,
		ticks:  make(map[string]*Quote),
	}
}

func (f *WSFeed) ID() string { return f.config.ID }

func (f *WSFeed) Label() string {
	if f.config.Label != "" {
		return f.config.Label
	}
	return f.config.ID
}

func (f *WSFeed) Vendor() string { return f.config.Vendor }

// Run maintains the websocket connection until ctx is cancelled, reconnecting
// after disconnects.
func (f *WSFeed) Run(ctx context.Context) error {
	for {
		if err := f.connect(ctx); err != nil {
			observ.Log("ws_feed_disconnected", map[string]any{
				"source": f.config.ID,
				"error":  err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.config.ReconnectDelay):
		}
	}
}

func (f *WSFeed) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.config.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	observ.Log("ws_feed_connected", map[string]any{"source": f.config.ID, "url": f.config.URL})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Duration(f.config.ReadDeadlineSec) * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var tick wsTick
		if err := json.Unmarshal(msg, &tick); err != nil {
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}

		symbol := strings.ToUpper(strings.TrimSpace(tick.Symbol))
		f.mu.Lock()
		f.ticks[symbol] = &Quote{
			Symbol:    symbol,
			Price:     tick.Price,
			Timestamp: time.Now().UTC(),
			Source:    f.config.ID,
		}
		f.mu.Unlock()
	}
}

// Fetch serves the latest tick for the symbol, rejecting missing or stale ones.
func (f *WSFeed) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	f.mu.RLock()
	tick, ok := f.ticks[symbol]
	f.mu.RUnlock()

	if !ok {
		return nil, &FetchError{
			Kind:    "not_ready",
			Source:  f.config.ID,
			Symbol:  symbol,
			Message: "no tick received yet",
		}
	}
	if age := time.Since(tick.Timestamp); age > f.config.MaxStaleness {
		return nil, &FetchError{
			Kind:    "not_ready",
			Source:  f.config.ID,
			Symbol:  symbol,
			Message: "latest tick is stale: " + age.String(),
		}
	}

	cp := *tick
	return &cp, nil
}

func (f *WSFeed) Close() error { return nil }
