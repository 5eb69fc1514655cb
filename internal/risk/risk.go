package risk

import (
	"fmt"
	"time"

	"github.com/traderlab/papertrade/internal/ledger"
	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
)

// Config is the mutable process-wide risk configuration. Changes take effect
// on the next order evaluated; there is no history requirement.
type Config struct {
	// MaxPositionRatio caps a single symbol's market value as a fraction of equity.
	MaxPositionRatio float64 `yaml:"max_position_ratio" json:"max_position_ratio"`
	// StopLossRatio is the fractional loss from average cost that triggers a warning.
	StopLossRatio float64 `yaml:"stop_loss_ratio" json:"stop_loss_ratio"`
	// SlippageBudgetBps is the per-fill slippage above which an error alert fires.
	SlippageBudgetBps float64 `yaml:"slippage_budget_bps" json:"slippage_budget_bps"`
}

// DefaultConfig mirrors the platform defaults.
func DefaultConfig() Config {
	return Config{
		MaxPositionRatio:  0.5,
		StopLossRatio:     0.1,
		SlippageBudgetBps: 30,
	}
}

func (c Config) Validate() error {
	if c.MaxPositionRatio <= 0 || c.MaxPositionRatio > 1 {
		return fmt.Errorf("max_position_ratio must be in (0, 1], got %v", c.MaxPositionRatio)
	}
	if c.StopLossRatio <= 0 || c.StopLossRatio >= 1 {
		return fmt.Errorf("stop_loss_ratio must be in (0, 1), got %v", c.StopLossRatio)
	}
	if c.SlippageBudgetBps < 0 {
		return fmt.Errorf("slippage_budget_bps must be >= 0, got %v", c.SlippageBudgetBps)
	}
	return nil
}

// Violation codes. Violations are typed, not generic strings.
const (
	CodeInsufficientCash      = "InsufficientCash"
	CodePositionLimitExceeded = "PositionLimitExceeded"
	CodeInvalidLimitPrice     = "InvalidLimitPrice"
	CodeUnknownSymbol         = "UnknownSymbol"
	CodeSourceUnavailable     = "SourceUnavailable"
)

// Violation is a risk rejection surfaced to the caller. The order is marked
// rejected and no trade is created.
type Violation struct {
	Code    string `json:"code"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// comparison epsilon for the position-ratio boundary: exactly at the limit is
// accepted, anything measurably over is rejected
const ratioEpsilon = 1e-9

// PreCheck gates an order before the fill using the ledger state prior to the
// trade. The estimated fill price is the quote price; slippage is budgeted
// separately by PostCheckFill.
//
// Orders that reduce the symbol's absolute exposure are always permitted.
func PreCheck(o *order.Order, snap ledger.Snapshot, q *quotes.Quote, cfg Config) error {
	if o.Type == order.Limit && (o.LimitPrice == nil || *o.LimitPrice <= 0) {
		return &Violation{
			Code:    CodeInvalidLimitPrice,
			Symbol:  o.Symbol,
			Message: "limit orders require a positive limit price",
		}
	}

	// sells only reduce exposure in a long-only book
	if o.Side == order.Sell {
		return nil
	}

	estCost := float64(o.Quantity) * q.Price
	if estCost > snap.Cash+ratioEpsilon {
		return &Violation{
			Code:    CodeInsufficientCash,
			Symbol:  o.Symbol,
			Message: fmt.Sprintf("order needs %.2f, cash is %.2f", estCost, snap.Cash),
		}
	}

	held := 0
	if pos, ok := snap.Positions[o.Symbol]; ok {
		held = pos.Quantity
	}
	postValue := float64(held+o.Quantity) * q.Price
	limit := cfg.MaxPositionRatio * snap.Equity
	if postValue > limit+ratioEpsilon {
		return &Violation{
			Code:   CodePositionLimitExceeded,
			Symbol: o.Symbol,
			Message: fmt.Sprintf("post-fill value %.2f exceeds %.2f (%.0f%% of equity %.2f)",
				postValue, limit, cfg.MaxPositionRatio*100, snap.Equity),
		}
	}

	return nil
}

// PostCheck scans open positions against current quotes and emits advisory
// alerts. It never liquidates: closing is always a separate, explicit order.
func PostCheck(snap ledger.Snapshot, latest map[string]*quotes.Quote, cfg Config, now time.Time) []Alert {
	var alerts []Alert
	for sym, pos := range snap.Positions {
		q, ok := latest[sym]
		if !ok || pos.AvgCost <= 0 {
			continue
		}
		loss := (pos.AvgCost - q.Price) / pos.AvgCost
		if loss >= cfg.StopLossRatio {
			alerts = append(alerts, Alert{
				Severity: SeverityWarning,
				Symbol:   sym,
				Message: fmt.Sprintf("stop-loss breached: down %.1f%% from avg cost %.2f (now %.2f)",
					loss*100, pos.AvgCost, q.Price),
				Timestamp: now.UTC(),
			})
		}
	}
	return alerts
}

// PostCheckFill inspects one realized fill against the slippage budget.
func PostCheckFill(t *order.Trade, cfg Config) *Alert {
	if t.SlippageBps <= cfg.SlippageBudgetBps {
		return nil
	}
	return &Alert{
		Severity: SeverityError,
		Symbol:   t.Symbol,
		Message: fmt.Sprintf("fill slippage %.1f bps exceeds budget %.1f bps",
			t.SlippageBps, cfg.SlippageBudgetBps),
		Timestamp: t.Timestamp,
	}
}
