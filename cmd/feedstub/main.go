// Command feedstub serves a fake market-data vendor for local development:
// a JSON /quote endpoint for the HTTP polling adapter and a /ws stream for
// the websocket adapter, both walking prices randomly around fixed bases.
package main

import (
	"encoding/json"
	"flag"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/traderlab/papertrade/internal/observ"
)

type stub struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

func newStub(seed int64) *stub {
	return &stub{
		rng: rand.New(rand.NewSource(seed)),
		prices: map[string]float64{
			"AAPL": 206.80,
			"NVDA": 450.00,
			"MSFT": 415.75,
			"BIOX": 12.50,
		},
	}
}

func (s *stub) next(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	if !ok {
		return 0, false
	}
	p *= 1 + (s.rng.Float64()-0.5)*0.002
	s.prices[symbol] = p
	return p, true
}

func (s *stub) quoteHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	price, ok := s.next(symbol)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"symbol": symbol,
		"price":  price,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

var upgrader = websocket.Upgrader{}

func (s *stub) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	symbols := []string{"AAPL", "NVDA", "MSFT", "BIOX"}
	for range ticker.C {
		sym := symbols[s.rng.Intn(len(symbols))]
		price, _ := s.next(sym)
		msg := map[string]any{"symbol": sym, "price": price}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func main() {
	var (
		addr = flag.String("addr", ":8091", "listen address")
		seed = flag.Int64("seed", 1, "price walk seed")
	)
	flag.Parse()

	s := newStub(*seed)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /quote", s.quoteHandler)
	mux.HandleFunc("GET /ws", s.wsHandler)

	observ.Log("feedstub_listening", map[string]any{"addr": *addr})
	if err := http.ListenAndServe(*addr, mux); err != nil {
		observ.Log("feedstub_failed", map[string]any{"error": err.Error()})
	}
}
