package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type distinguishes market from limit orders.
type Type string

const (
	Market Type = "market"
	Limit  Type = "limit"
)

// Status is the order lifecycle state. Fills are all-or-nothing, so there is
// no partially-filled state: New transitions straight to Filled or Rejected,
// both terminal.
type Status string

const (
	StatusNew      Status = "new"
	StatusFilled   Status = "filled"
	StatusRejected Status = "rejected"
)

// Order is a simulated order. Identity and symbol never change after
// submission; Status and RejectReason are the only mutable fields, and only
// until a terminal state is reached.
type Order struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	Side         Side       `json:"side"`
	Quantity     int        `json:"quantity"`
	Type         Type       `json:"type"`
	LimitPrice   *float64   `json:"limit_price,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Status       Status     `json:"status"`
	RejectReason string     `json:"reject_reason,omitempty"`
}

// Trade is the immutable record of a fill.
type Trade struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	SlippageBps float64   `json:"slippage_bps"`
	Timestamp   time.Time `json:"timestamp"`
	// RealizedPnL is set only on a closing (sell) trade.
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
}

// ValidationError reports a malformed order, rejected before anything else
// looks at it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Message)
}

// Request is the submission payload from the API layer.
type Request struct {
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	Quantity   int      `json:"qty"`
	Type       Type     `json:"order_type"`
	LimitPrice *float64 `json:"price,omitempty"`
}

// New validates a request and mints a new order in StatusNew.
func New(req Request, now time.Time) (*Order, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Message: "is required"}
	}
	if req.Side != Buy && req.Side != Sell {
		return nil, &ValidationError{Field: "side", Message: fmt.Sprintf("must be %q or %q", Buy, Sell)}
	}
	if req.Quantity <= 0 {
		return nil, &ValidationError{Field: "qty", Message: "must be positive"}
	}
	switch req.Type {
	case Market:
		if req.LimitPrice != nil {
			return nil, &ValidationError{Field: "price", Message: "not allowed on market orders"}
		}
	case Limit:
		if req.LimitPrice == nil {
			return nil, &ValidationError{Field: "price", Message: "required for limit orders"}
		}
		if *req.LimitPrice <= 0 {
			return nil, &ValidationError{Field: "price", Message: "must be positive"}
		}
	default:
		return nil, &ValidationError{Field: "order_type", Message: fmt.Sprintf("must be %q or %q", Market, Limit)}
	}

	return &Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		SubmittedAt: now.UTC(),
		Status:      StatusNew,
	}, nil
}

// NewTrade mints the trade record for a fill of this order. The order itself
// transitions via MarkFilled only after the ledger accepts the trade.
func (o *Order) NewTrade(price float64, slippageBps float64, now time.Time) *Trade {
	return &Trade{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Quantity:    o.Quantity,
		Price:       price,
		SlippageBps: slippageBps,
		Timestamp:   now.UTC(),
	}
}

// MarkFilled transitions the order to its terminal filled state.
func (o *Order) MarkFilled() {
	o.Status = StatusFilled
}

// Reject transitions the order to its terminal rejected state.
func (o *Order) Reject(reason string) {
	o.Status = StatusRejected
	o.RejectReason = reason
}

// Terminal reports whether the order has reached a final state.
func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusRejected
}
