package fill

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
)

func q(price float64) *quotes.Quote {
	return &quotes.Quote{Symbol: "AAA", Price: price, Source: "mock"}
}

func mkt(side order.Side, qty int) *order.Order {
	return &order.Order{ID: "o1", Symbol: "AAA", Side: side, Quantity: qty, Type: order.Market}
}

func lmt(side order.Side, qty int, limit float64) *order.Order {
	return &order.Order{ID: "o1", Symbol: "AAA", Side: side, Quantity: qty, Type: order.Limit, LimitPrice: &limit}
}

func TestMarketFillSlippageDirection(t *testing.T) {
	model := FixedSlippage(10) // 10 bps

	buy, err := Compute(q(100), mkt(order.Buy, 5), model)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, buy.Price, 1e-9, "buys pay more")
	assert.Equal(t, 5, buy.Quantity)
	assert.Equal(t, 10.0, buy.SlippageBps)

	sell, err := Compute(q(100), mkt(order.Sell, 5), model)
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.Price, 1e-9, "sells receive less")
}

func TestMarketFillZeroSlippage(t *testing.T) {
	res, err := Compute(q(100), mkt(order.Buy, 100), FixedSlippage(0))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Price)
	assert.Equal(t, 100, res.Quantity)
}

func TestRandomSlippageDeterministicWithSeed(t *testing.T) {
	a, err := Compute(q(100), mkt(order.Buy, 1), RandomSlippage(1, 5, rand.New(rand.NewSource(42))))
	require.NoError(t, err)
	b, err := Compute(q(100), mkt(order.Buy, 1), RandomSlippage(1, 5, rand.New(rand.NewSource(42))))
	require.NoError(t, err)

	assert.Equal(t, a.SlippageBps, b.SlippageBps)
	assert.GreaterOrEqual(t, a.SlippageBps, 1.0)
	assert.LessOrEqual(t, a.SlippageBps, 5.0)
}

func TestLimitOrders(t *testing.T) {
	model := FixedSlippage(10)

	tests := []struct {
		name     string
		quote    float64
		o        *order.Order
		fillable bool
	}{
		{"buy limit met", 99, lmt(order.Buy, 10, 100), true},
		{"buy limit exact", 100, lmt(order.Buy, 10, 100), true},
		{"buy limit missed", 101, lmt(order.Buy, 10, 100), false},
		{"sell limit met", 101, lmt(order.Sell, 10, 100), true},
		{"sell limit exact", 100, lmt(order.Sell, 10, 100), true},
		{"sell limit missed", 99, lmt(order.Sell, 10, 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute(q(tt.quote), tt.o, model)
			if !tt.fillable {
				var uerr *UnfillableError
				require.ErrorAs(t, err, &uerr)
				return
			}
			require.NoError(t, err)
			// limit fills execute at the quote with no slippage applied
			assert.Equal(t, tt.quote, res.Price)
			assert.Equal(t, 0.0, res.SlippageBps)
			assert.Equal(t, tt.o.Quantity, res.Quantity)
		})
	}
}
