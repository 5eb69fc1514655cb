// Package engine is the serialized owner of the ledger and the order/trade
// log. Every mutating operation goes through one mutex, which is what keeps
// the cash/position invariants maintainable; quote fetches happen outside
// that lock so a slow vendor never blocks the book.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/traderlab/papertrade/internal/fill"
	"github.com/traderlab/papertrade/internal/ledger"
	"github.com/traderlab/papertrade/internal/observ"
	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/report"
	"github.com/traderlab/papertrade/internal/risk"
	"github.com/traderlab/papertrade/internal/tradelog"
)

// Options wires the engine's collaborators. Registry is required; Store is
// optional (nil runs the engine purely in memory).
type Options struct {
	InitialCash       float64
	Registry          *quotes.Registry
	Store             *tradelog.Store
	RiskConfig        risk.Config
	Slippage          fill.SlippageModel
	AlertRetention    int
	PostCheckInterval time.Duration
}

// Engine runs the simulation: order intake, risk gating, fills, ledger and
// reporting. All dependencies are constructor-injected; there is no package
// state.
type Engine struct {
	registry *quotes.Registry
	store    *tradelog.Store
	alerts   *risk.AlertLog
	slippage fill.SlippageModel

	postCheckInterval time.Duration

	mu          sync.Mutex
	ledger      *ledger.Ledger
	initialCash float64
	curve       []report.EquityPoint
	history     []order.Trade
	// stopAlerted tracks symbols already warned in the current breach
	// episode so the periodic post-check does not repeat itself every tick
	stopAlerted map[string]bool

	cfgMu   sync.RWMutex
	riskCfg risk.Config
}

// New builds the engine. When a store is attached, the ledger and equity
// curve are rebuilt by replaying the persisted trade log.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a quote source registry")
	}
	if opts.InitialCash <= 0 {
		return nil, fmt.Errorf("initial cash must be positive, got %v", opts.InitialCash)
	}
	if err := opts.RiskConfig.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	if opts.PostCheckInterval <= 0 {
		opts.PostCheckInterval = 5 * time.Second
	}

	e := &Engine{
		registry:          opts.Registry,
		store:             opts.Store,
		alerts:            risk.NewAlertLog(opts.AlertRetention),
		slippage:          opts.Slippage,
		postCheckInterval: opts.PostCheckInterval,
		ledger:            ledger.New(opts.InitialCash),
		initialCash:       opts.InitialCash,
		stopAlerted:       make(map[string]bool),
	}
	e.riskCfg = opts.RiskConfig

	if opts.Store != nil {
		if err := e.restore(ctx); err != nil {
			return nil, fmt.Errorf("restore from trade log: %w", err)
		}
	}

	return e, nil
}

func (e *Engine) restore(ctx context.Context) error {
	trades, err := e.store.TradesAsc(ctx)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	l, err := ledger.Replay(e.initialCash, trades)
	if err != nil {
		return err
	}
	curve, err := report.RebuildCurve(e.initialCash, trades)
	if err != nil {
		return err
	}

	e.ledger = l
	e.curve = curve
	e.history = trades
	observ.Log("engine_restored", map[string]any{
		"trades": len(trades),
		"cash":   l.Cash(),
	})
	return nil
}

// SubmitOrder runs the full pipeline: validate, pre-check, fetch, fill,
// ledger apply, log append, post-check. On rejection the order is returned
// in its terminal rejected state together with the typed error; no trade is
// created and the ledger is untouched.
func (e *Engine) SubmitOrder(ctx context.Context, req order.Request) (*order.Order, *order.Trade, error) {
	o, err := order.New(req, time.Now())
	if err != nil {
		observ.IncCounter("orders_total", map[string]string{"status": "invalid"})
		return nil, nil, err
	}

	e.persistOrder(ctx, o)

	// the fetch happens before the engine lock is taken: a slow source must
	// never hold up the ledger
	q, err := e.registry.Fetch(ctx, o.Symbol)
	if err != nil {
		v := fetchViolation(o.Symbol, err)
		e.rejectOrder(ctx, o, v.Error())
		return o, nil, v
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.ledger.Snapshot(e.registry.LatestAll())
	cfg := e.RiskConfig()

	if err := risk.PreCheck(o, snap, q, cfg); err != nil {
		e.rejectOrder(ctx, o, err.Error())
		return o, nil, err
	}

	res, err := fill.Compute(q, o, e.slippage)
	if err != nil {
		e.rejectOrder(ctx, o, err.Error())
		return o, nil, err
	}

	t := o.NewTrade(res.Price, res.SlippageBps, time.Now())
	if err := e.ledger.ApplyTrade(t); err != nil {
		e.rejectOrder(ctx, o, err.Error())
		return o, nil, err
	}
	o.MarkFilled()

	latest := e.registry.LatestAll()
	after := e.ledger.Snapshot(latest)
	e.curve = append(e.curve, report.EquityPoint{Timestamp: t.Timestamp, Equity: after.Equity})
	e.history = append(e.history, *t)

	e.persistOrder(ctx, o)
	e.persistTrade(ctx, t)

	var alerts []risk.Alert
	if a := risk.PostCheckFill(t, cfg); a != nil {
		alerts = append(alerts, *a)
	}
	alerts = append(alerts, e.stopLossAlerts(after, latest, cfg, t.Timestamp)...)
	e.raise(ctx, alerts...)

	observ.IncCounter("orders_total", map[string]string{"status": "filled"})
	observ.Log("order_filled", map[string]any{
		"order_id":     o.ID,
		"trade_id":     t.ID,
		"symbol":       t.Symbol,
		"side":         string(t.Side),
		"qty":          t.Quantity,
		"price":        t.Price,
		"slippage_bps": t.SlippageBps,
	})

	return o, t, nil
}

// stopLossAlerts wraps risk.PostCheck with per-symbol episode dedupe.
// Caller holds e.mu.
func (e *Engine) stopLossAlerts(snap ledger.Snapshot, latest map[string]*quotes.Quote, cfg risk.Config, now time.Time) []risk.Alert {
	raw := risk.PostCheck(snap, latest, cfg, now)

	breached := make(map[string]bool, len(raw))
	var out []risk.Alert
	for _, a := range raw {
		breached[a.Symbol] = true
		if !e.stopAlerted[a.Symbol] {
			e.stopAlerted[a.Symbol] = true
			out = append(out, a)
		}
	}
	for sym := range e.stopAlerted {
		if !breached[sym] {
			delete(e.stopAlerted, sym)
		}
	}
	return out
}

// Run drives the periodic risk post-check until ctx is cancelled. It only
// reads snapshots and never blocks order submission beyond the brief lock.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.postCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.periodicPostCheck(ctx)
		}
	}
}

func (e *Engine) periodicPostCheck(ctx context.Context) {
	cfg := e.RiskConfig()
	latest := e.registry.LatestAll()

	e.mu.Lock()
	snap := e.ledger.Snapshot(latest)
	alerts := e.stopLossAlerts(snap, latest, cfg, time.Now())
	e.mu.Unlock()

	e.raise(ctx, alerts...)
}

// State returns the current portfolio snapshot.
func (e *Engine) State() ledger.Snapshot {
	latest := e.registry.LatestAll()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot(latest)
}

// ExecutionReport derives the execution report from the trade history.
func (e *Engine) ExecutionReport(ctx context.Context) (report.Execution, error) {
	e.mu.Lock()
	trades := make([]order.Trade, len(e.history))
	copy(trades, e.history)
	curve := make([]report.EquityPoint, len(e.curve))
	copy(curve, e.curve)
	e.mu.Unlock()

	return report.BuildExecution(trades, curve), nil
}

// RiskReport derives current exposures and the alert timeline.
func (e *Engine) RiskReport(limit int) report.Risk {
	latest := e.registry.LatestAll()
	e.mu.Lock()
	snap := e.ledger.Snapshot(latest)
	e.mu.Unlock()

	return report.BuildRisk(snap, latest, e.alerts.RecentFirst(limit))
}

// Trades returns recent trades, newest first.
func (e *Engine) Trades(ctx context.Context, limit int) ([]order.Trade, error) {
	if e.store != nil {
		return e.store.TradesDesc(ctx, limit)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]order.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out, nil
}

// Quote fetches from the active source on demand.
func (e *Engine) Quote(ctx context.Context, symbol string) (*quotes.Quote, error) {
	return e.registry.Fetch(ctx, symbol)
}

// Sources lists registered sources with their health state.
func (e *Engine) Sources() []quotes.Descriptor {
	return e.registry.List()
}

// SwitchSource hot-switches the active quote source.
func (e *Engine) SwitchSource(id string) error {
	return e.registry.SetActive(id)
}

// RiskConfig returns the current risk configuration.
func (e *Engine) RiskConfig() risk.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.riskCfg
}

// SetRiskConfig swaps the risk configuration; it applies to the next order.
func (e *Engine) SetRiskConfig(cfg risk.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	e.riskCfg = cfg
	e.cfgMu.Unlock()

	observ.Log("risk_config_updated", map[string]any{
		"max_position_ratio":  cfg.MaxPositionRatio,
		"stop_loss_ratio":     cfg.StopLossRatio,
		"slippage_budget_bps": cfg.SlippageBudgetBps,
	})
	return nil
}

// Alerts exposes the bounded in-memory alert timeline, newest first.
func (e *Engine) Alerts(limit int) []risk.Alert {
	return e.alerts.RecentFirst(limit)
}

func (e *Engine) rejectOrder(ctx context.Context, o *order.Order, reason string) {
	o.Reject(reason)
	e.persistOrder(ctx, o)
	observ.IncCounter("orders_total", map[string]string{"status": "rejected"})
	observ.Log("order_rejected", map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
		"reason":   reason,
	})
}

func (e *Engine) raise(ctx context.Context, alerts ...risk.Alert) {
	if len(alerts) == 0 {
		return
	}
	e.alerts.Append(alerts...)
	if e.store != nil {
		for _, a := range alerts {
			if err := e.store.InsertAlert(ctx, a); err != nil {
				observ.Log("alert_persist_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (e *Engine) persistOrder(ctx context.Context, o *order.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertOrder(ctx, o); err != nil {
		observ.Log("order_persist_failed", map[string]any{"order_id": o.ID, "error": err.Error()})
	}
}

func (e *Engine) persistTrade(ctx context.Context, t *order.Trade) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertTrade(ctx, t); err != nil {
		observ.Log("trade_persist_failed", map[string]any{"trade_id": t.ID, "error": err.Error()})
	}
}

// fetchViolation maps a quote fetch failure onto the risk violation taxonomy.
func fetchViolation(symbol string, err error) *risk.Violation {
	var ferr *quotes.FetchError
	if errors.As(err, &ferr) && ferr.Kind == "bad_symbol" {
		return &risk.Violation{
			Code:    risk.CodeUnknownSymbol,
			Symbol:  symbol,
			Message: err.Error(),
		}
	}
	return &risk.Violation{
		Code:    risk.CodeSourceUnavailable,
		Symbol:  symbol,
		Message: err.Error(),
	}
}
