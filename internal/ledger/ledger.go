// Package ledger owns the authoritative portfolio state: cash, per-symbol
// positions and realized P&L. Cost basis is weighted-average on buys only; a
// sell realizes P&L against the standing average cost and leaves it unchanged
// (no FIFO lot tracking).
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
)

// Position is the per-symbol holding. Quantity is always positive here;
// short selling is not supported and oversells are rejected.
type Position struct {
	Quantity int     `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// Snapshot is an immutable view of the ledger, marked to the quotes supplied
// at snapshot time.
type Snapshot struct {
	Cash        float64             `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	Equity      float64             `json:"equity"`
	RealizedPnL float64             `json:"realized_pnl"`
	// StaleSymbols lists held symbols with no quote available, whose market
	// value fell back to average cost.
	StaleSymbols []string  `json:"stale_symbols,omitempty"`
	TakenAt      time.Time `json:"taken_at"`
}

// Error is a typed ledger rejection. The ledger update is all-or-nothing:
// when an Error is returned nothing was mutated.
type Error struct {
	Kind    string // "oversell" | "insufficient_cash"
	Symbol  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s for %s: %s", e.Kind, e.Symbol, e.Message)
}

func newOversell(symbol string, want, have int) *Error {
	return &Error{
		Kind:    "oversell",
		Symbol:  symbol,
		Message: fmt.Sprintf("sell %d exceeds held %d", want, have),
	}
}

func newInsufficientCash(symbol string, need, have float64) *Error {
	return &Error{
		Kind:    "insufficient_cash",
		Symbol:  symbol,
		Message: fmt.Sprintf("need %.2f, have %.2f", need, have),
	}
}

// Ledger is not safe for concurrent use on its own; the engine serializes
// all access to it.
type Ledger struct {
	cash        float64
	positions   map[string]*Position
	realizedPnL float64
}

// New creates a ledger with the given starting cash.
func New(initialCash float64) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

// ApplyTrade applies a fill to cash and positions. On a sell it computes the
// realized P&L and records it on the trade. Validation happens before any
// mutation, so a rejected trade leaves the ledger untouched.
func (l *Ledger) ApplyTrade(t *order.Trade) error {
	cost := float64(t.Quantity) * t.Price

	switch t.Side {
	case order.Buy:
		if cost > l.cash {
			return newInsufficientCash(t.Symbol, cost, l.cash)
		}
		pos, ok := l.positions[t.Symbol]
		if !ok {
			l.positions[t.Symbol] = &Position{Quantity: t.Quantity, AvgCost: t.Price}
		} else {
			total := pos.AvgCost*float64(pos.Quantity) + cost
			pos.Quantity += t.Quantity
			pos.AvgCost = total / float64(pos.Quantity)
		}
		l.cash -= cost

	case order.Sell:
		pos, ok := l.positions[t.Symbol]
		if !ok {
			return newOversell(t.Symbol, t.Quantity, 0)
		}
		if t.Quantity > pos.Quantity {
			return newOversell(t.Symbol, t.Quantity, pos.Quantity)
		}
		realized := (t.Price - pos.AvgCost) * float64(t.Quantity)
		pos.Quantity -= t.Quantity
		if pos.Quantity == 0 {
			delete(l.positions, t.Symbol)
		}
		l.cash += cost
		l.realizedPnL += realized
		t.RealizedPnL = &realized

	default:
		return &Error{Kind: "oversell", Symbol: t.Symbol, Message: "unknown side " + string(t.Side)}
	}

	return nil
}

// Snapshot marks positions to the given quotes. Held symbols without a quote
// are valued at average cost and reported as stale.
func (l *Ledger) Snapshot(latest map[string]*quotes.Quote) Snapshot {
	snap := Snapshot{
		Cash:        l.cash,
		Positions:   make(map[string]Position, len(l.positions)),
		RealizedPnL: l.realizedPnL,
		TakenAt:     time.Now().UTC(),
	}

	equity := l.cash
	for sym, pos := range l.positions {
		snap.Positions[sym] = *pos
		if q, ok := latest[sym]; ok {
			equity += float64(pos.Quantity) * q.Price
		} else {
			equity += float64(pos.Quantity) * pos.AvgCost
			snap.StaleSymbols = append(snap.StaleSymbols, sym)
		}
	}
	sort.Strings(snap.StaleSymbols)
	snap.Equity = equity

	return snap
}

// Position returns a copy of the holding for a symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Cash returns available cash.
func (l *Ledger) Cash() float64 { return l.cash }

// RealizedPnL returns the cumulative realized P&L.
func (l *Ledger) RealizedPnL() float64 { return l.realizedPnL }

// Replay rebuilds a ledger from scratch by applying trades in order. Trades
// that were accepted once must replay cleanly; any failure is a corruption
// signal, not a business rejection.
func Replay(initialCash float64, trades []order.Trade) (*Ledger, error) {
	l := New(initialCash)
	for i := range trades {
		t := trades[i]
		if err := l.ApplyTrade(&t); err != nil {
			return nil, fmt.Errorf("replay trade %s: %w", t.ID, err)
		}
	}
	return l, nil
}
