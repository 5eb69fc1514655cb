package quotes

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimSource generates random-walk quotes around per-symbol base prices.
// The random source is injected so tests get reproducible walks.
type SimSource struct {
	mu     sync.Mutex
	random *rand.Rand
	syms   map[string]*simSymbol
}

type simSymbol struct {
	base       float64
	last       float64
	volatility float64 // daily volatility as a decimal, e.g. 0.02
}

// NewSimSource creates a sim source. A nil rng falls back to a time seed.
func NewSimSource(rng *rand.Rand) *SimSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &SimSource{
		random: rng,
		syms:   make(map[string]*simSymbol),
	}
	s.AddSymbol("AAPL", 206.80, 0.025)
	s.AddSymbol("NVDA", 450.00, 0.035)
	s.AddSymbol("MSFT", 415.75, 0.022)
	s.AddSymbol("BIOX", 12.50, 0.055)
	return s
}

func (s *SimSource) ID() string     { return "sim" }
func (s *SimSource) Label() string  { return "Random-walk simulator" }
func (s *SimSource) Vendor() string { return "internal" }

// AddSymbol registers a symbol for simulation.
func (s *SimSource) AddSymbol(symbol string, base, volatility float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.syms[symbol] = &simSymbol{base: base, last: base, volatility: volatility}
}

// Fetch advances the symbol's random walk one step and returns the new price.
func (s *SimSource) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	defer s.mu.Unlock()

	sym, ok := s.syms[symbol]
	if !ok {
		return nil, NewBadSymbolError(s.ID(), symbol)
	}

	// one step of a mean-reverting walk, stddev scaled down from daily vol
	step := s.random.NormFloat64() * sym.volatility / math.Sqrt(390)
	reversion := 0.05 * (sym.base - sym.last) / sym.base
	sym.last = sym.last * (1 + step + reversion)
	if sym.last < 0.01 {
		sym.last = 0.01
	}

	return &Quote{
		Symbol:    symbol,
		Price:     round2(sym.last),
		Timestamp: time.Now().UTC(),
		Source:    s.ID(),
	}, nil
}

func (s *SimSource) Close() error { return nil }

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
