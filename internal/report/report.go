// Package report derives execution and risk reports from the trade log, the
// ledger snapshot and the alert timeline. Reports are computed on demand and
// degrade to zeroed aggregates when the logs are empty.
package report

import (
	"sort"
	"time"

	"github.com/traderlab/papertrade/internal/ledger"
	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/risk"
)

// EquityPoint is one equity curve sample, taken at every applied trade.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Execution summarizes fills.
type Execution struct {
	TotalTrades    int           `json:"total_trades"`
	Wins           int           `json:"wins"`
	WinRate        float64       `json:"win_rate"`
	RealizedPnL    float64       `json:"realized_pnl"`
	AvgSlippageBps float64       `json:"avg_slippage_bps"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
}

// Exposure is one open position marked to the latest quote. When no quote is
// available the mark falls back to average cost and Stale is set.
type Exposure struct {
	Symbol      string  `json:"symbol"`
	Quantity    int     `json:"qty"`
	AvgCost     float64 `json:"avg_cost"`
	LastPrice   float64 `json:"last_price"`
	MarketValue float64 `json:"market_value"`
	Stale       bool    `json:"stale,omitempty"`
}

// Risk is the current exposure set plus the alert timeline, newest first.
type Risk struct {
	Exposures []Exposure   `json:"exposures"`
	Alerts    []risk.Alert `json:"alerts"`
}

// BuildExecution computes the execution report. A win is a closing trade with
// positive realized P&L; the rate is taken over all trades, matching how the
// dashboard always displayed it.
func BuildExecution(trades []order.Trade, curve []EquityPoint) Execution {
	rep := Execution{EquityCurve: curve}
	if rep.EquityCurve == nil {
		rep.EquityCurve = []EquityPoint{}
	}
	if len(trades) == 0 {
		return rep
	}

	var slippageSum float64
	for _, t := range trades {
		slippageSum += t.SlippageBps
		if t.RealizedPnL != nil {
			rep.RealizedPnL += *t.RealizedPnL
			if *t.RealizedPnL > 0 {
				rep.Wins++
			}
		}
	}

	rep.TotalTrades = len(trades)
	rep.WinRate = float64(rep.Wins) / float64(rep.TotalTrades)
	rep.AvgSlippageBps = slippageSum / float64(rep.TotalTrades)
	return rep
}

// BuildRisk computes the risk report from a snapshot, the latest quotes and
// the bounded alert timeline.
func BuildRisk(snap ledger.Snapshot, latest map[string]*quotes.Quote, alerts []risk.Alert) Risk {
	rep := Risk{
		Exposures: []Exposure{},
		Alerts:    alerts,
	}
	if rep.Alerts == nil {
		rep.Alerts = []risk.Alert{}
	}

	for sym, pos := range snap.Positions {
		exp := Exposure{
			Symbol:   sym,
			Quantity: pos.Quantity,
			AvgCost:  pos.AvgCost,
		}
		if q, ok := latest[sym]; ok {
			exp.LastPrice = q.Price
		} else {
			exp.LastPrice = pos.AvgCost
			exp.Stale = true
		}
		exp.MarketValue = float64(pos.Quantity) * exp.LastPrice
		rep.Exposures = append(rep.Exposures, exp)
	}
	sort.Slice(rep.Exposures, func(i, j int) bool {
		return rep.Exposures[i].Symbol < rep.Exposures[j].Symbol
	})

	return rep
}

// RebuildCurve reconstructs the equity curve from the trade log alone by
// replaying trades and marking each symbol at its most recent trade price.
// Used by the offline replay tool; the live engine samples with real quotes.
func RebuildCurve(initialCash float64, trades []order.Trade) ([]EquityPoint, error) {
	l := ledger.New(initialCash)
	marks := make(map[string]*quotes.Quote)
	curve := make([]EquityPoint, 0, len(trades))

	for i := range trades {
		t := trades[i]
		if err := l.ApplyTrade(&t); err != nil {
			return nil, err
		}
		marks[t.Symbol] = &quotes.Quote{Symbol: t.Symbol, Price: t.Price, Timestamp: t.Timestamp}
		snap := l.Snapshot(marks)
		curve = append(curve, EquityPoint{Timestamp: t.Timestamp, Equity: snap.Equity})
	}
	return curve, nil
}
