// Package fill computes execution price and quantity for a simulated order
// against a quote. Everything here is pure: no shared state is touched, all
// side effects belong to the ledger update.
package fill

import (
	"fmt"
	"math/rand"

	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
)

// Result is the outcome of the fill model for an accepted order.
type Result struct {
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	SlippageBps float64 `json:"slippage_bps"`
}

// UnfillableError means the quote does not satisfy the order's limit. There
// is no resting book: an unfillable limit order is rejected, never parked.
type UnfillableError struct {
	Symbol     string
	QuotePrice float64
	LimitPrice float64
	Side       order.Side
}

func (e *UnfillableError) Error() string {
	return fmt.Sprintf("limit not met for %s: quote %.4f vs %s limit %.4f",
		e.Symbol, e.QuotePrice, e.Side, e.LimitPrice)
}

// SlippageModel draws the slippage applied to market fills, in basis points.
// The fixed mode is deterministic for reproducible tests; the random mode
// draws uniformly from [MinBps, MaxBps] using an injected source.
type SlippageModel struct {
	FixedBps float64
	MinBps   float64
	MaxBps   float64
	Rand     *rand.Rand // nil means fixed mode
}

// FixedSlippage returns a deterministic model.
func FixedSlippage(bps float64) SlippageModel {
	return SlippageModel{FixedBps: bps}
}

// RandomSlippage returns a seeded uniform model.
func RandomSlippage(minBps, maxBps float64, rng *rand.Rand) SlippageModel {
	return SlippageModel{MinBps: minBps, MaxBps: maxBps, Rand: rng}
}

func (m SlippageModel) draw() float64 {
	if m.Rand == nil {
		return m.FixedBps
	}
	if m.MaxBps <= m.MinBps {
		return m.MinBps
	}
	return m.MinBps + m.Rand.Float64()*(m.MaxBps-m.MinBps)
}

// Compute fills the order fully against the quote.
//
// Market orders execute at quote.Price adjusted by the drawn slippage: buys
// pay more, sells receive less. Limit orders execute at the quote price with
// zero slippage when the quote satisfies the limit (buy: quote <= limit,
// sell: quote >= limit) and return UnfillableError otherwise.
func Compute(q *quotes.Quote, o *order.Order, model SlippageModel) (Result, error) {
	switch o.Type {
	case order.Limit:
		limit := *o.LimitPrice
		satisfied := (o.Side == order.Buy && q.Price <= limit) ||
			(o.Side == order.Sell && q.Price >= limit)
		if !satisfied {
			return Result{}, &UnfillableError{
				Symbol:     o.Symbol,
				QuotePrice: q.Price,
				LimitPrice: limit,
				Side:       o.Side,
			}
		}
		return Result{Price: q.Price, Quantity: o.Quantity}, nil

	default: // market
		bps := model.draw()
		price := q.Price
		if o.Side == order.Buy {
			price *= 1 + bps/10000
		} else {
			price *= 1 - bps/10000
		}
		return Result{Price: price, Quantity: o.Quantity, SlippageBps: bps}, nil
	}
}
