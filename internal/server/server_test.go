package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderlab/papertrade/internal/engine"
	"github.com/traderlab/papertrade/internal/fill"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/risk"
)

// downSource is a registered but permanently failing vendor.
type downSource struct{}

func (downSource) ID() string     { return "down" }
func (downSource) Label() string  { return "Down vendor" }
func (downSource) Vendor() string { return "test" }
func (downSource) Close() error   { return nil }

func (d downSource) Fetch(ctx context.Context, symbol string) (*quotes.Quote, error) {
	return nil, quotes.NewNetworkError(d.ID(), symbol, "connection refused", nil)
}

func newTestServer(t *testing.T) (*httptest.Server, *quotes.MockSource) {
	t.Helper()

	reg := quotes.NewRegistry()
	mock := quotes.NewMockSource()
	reg.Register(mock, 0)
	reg.Register(downSource{}, 0)

	eng, err := engine.New(context.Background(), engine.Options{
		InitialCash: 100000,
		Registry:    reg,
		RiskConfig:  risk.DefaultConfig(),
		Slippage:    fill.FixedSlippage(0),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(eng).Routes())
	t.Cleanup(func() {
		ts.Close()
		reg.Close()
	})
	return ts, mock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestPlaceOrderFilled(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetPrice("AAPL", 100)

	resp := postJSON(t, ts.URL+"/place-order", map[string]any{
		"symbol": "AAPL", "side": "buy", "qty": 100, "order_type": "market",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Order struct {
			Status string `json:"status"`
			Symbol string `json:"symbol"`
		} `json:"order"`
		Trade struct {
			Price float64 `json:"price"`
			Qty   int     `json:"quantity"`
		} `json:"trade"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "filled", body.Order.Status)
	assert.Equal(t, "AAPL", body.Order.Symbol)
	assert.Equal(t, 100.0, body.Trade.Price)
	assert.Equal(t, 100, body.Trade.Qty)
}

func TestPlaceOrderValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/place-order", map[string]any{
		"symbol": "AAPL", "side": "hold", "qty": 1, "order_type": "market",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "ValidationError", body.Code)
}

func TestPlaceOrderMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/place-order", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlaceOrderRiskRejection(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetPrice("NVDA", 100)

	// 60000 against a 50% position cap on 100000 equity
	resp := postJSON(t, ts.URL+"/place-order", map[string]any{
		"symbol": "NVDA", "side": "buy", "qty": 600, "order_type": "market",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Order struct {
			Status       string `json:"status"`
			RejectReason string `json:"reject_reason"`
		} `json:"order"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "rejected", body.Order.Status)
	assert.NotEmpty(t, body.Order.RejectReason)
	assert.Equal(t, risk.CodePositionLimitExceeded, body.Error.Code)
}

func TestPlaceOrderSourceDown(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/switch-source", map[string]any{"source": "down"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/place-order", map[string]any{
		"symbol": "AAPL", "side": "buy", "qty": 1, "order_type": "market",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, risk.CodeSourceUnavailable, body.Error.Code)
}

func TestStateEndpoint(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetPrice("AAPL", 100)

	resp := postJSON(t, ts.URL+"/place-order", map[string]any{
		"symbol": "AAPL", "side": "buy", "qty": 50, "order_type": "market",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state struct {
		Cash      float64 `json:"cash"`
		Equity    float64 `json:"equity"`
		Positions map[string]struct {
			Quantity int     `json:"quantity"`
			AvgCost  float64 `json:"avg_cost"`
		} `json:"positions"`
	}
	decode(t, resp, &state)
	assert.InDelta(t, 95000, state.Cash, 1e-9)
	assert.InDelta(t, 100000, state.Equity, 1e-9)
	require.Contains(t, state.Positions, "AAPL")
	assert.Equal(t, 50, state.Positions["AAPL"].Quantity)
}

func TestQuoteEndpoint(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.SetPrice("MSFT", 415.75)

	resp, err := http.Get(ts.URL + "/quote?symbol=msft")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var q struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
		Source string  `json:"source"`
	}
	decode(t, resp, &q)
	assert.Equal(t, "MSFT", q.Symbol)
	assert.Equal(t, 415.75, q.Price)
	assert.Equal(t, "mock", q.Source)

	resp, err = http.Get(ts.URL + "/quote")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRiskConfigRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/risk-config")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg risk.Config
	decode(t, resp, &cfg)
	assert.Equal(t, risk.DefaultConfig(), cfg)

	cfg.MaxPositionRatio = 0.25
	resp = postJSON(t, ts.URL+"/risk-config", cfg)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got risk.Config
	decode(t, resp, &got)
	assert.Equal(t, 0.25, got.MaxPositionRatio)

	// invalid config is rejected and the running one is untouched
	resp = postJSON(t, ts.URL+"/risk-config", map[string]any{"max_position_ratio": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/risk-config")
	require.NoError(t, err)
	decode(t, resp, &got)
	assert.Equal(t, 0.25, got.MaxPositionRatio)
}

func TestSourcesAndSwitch(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sources")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sources []struct {
			ID     string `json:"id"`
			Active bool   `json:"active"`
		} `json:"sources"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Sources, 2)
	assert.Equal(t, "mock", body.Sources[0].ID)
	assert.True(t, body.Sources[0].Active)

	resp = postJSON(t, ts.URL+"/switch-source", map[string]any{"source": "nope"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody struct {
		Code string `json:"code"`
	}
	decode(t, resp, &errBody)
	assert.Equal(t, "SourceNotFound", errBody.Code)

	resp = postJSON(t, ts.URL+"/switch-source", map[string]any{"source": "down"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	for _, src := range body.Sources {
		assert.Equal(t, src.ID == "down", src.Active)
	}
}

func TestReportsAndTradesEmpty(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/execution-report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var exec struct {
		TotalTrades int             `json:"total_trades"`
		EquityCurve json.RawMessage `json:"equity_curve"`
	}
	decode(t, resp, &exec)
	assert.Equal(t, 0, exec.TotalTrades)
	assert.Equal(t, "[]", string(exec.EquityCurve))

	resp, err = http.Get(ts.URL + "/trades")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trades struct {
		Trades json.RawMessage `json:"trades"`
	}
	decode(t, resp, &trades)
	assert.Equal(t, "[]", string(trades.Trades))

	resp, err = http.Get(ts.URL + "/risk-report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var riskRep struct {
		Exposures json.RawMessage `json:"exposures"`
		Alerts    json.RawMessage `json:"alerts"`
	}
	decode(t, resp, &riskRep)
	assert.Equal(t, "[]", string(riskRep.Exposures))
	assert.Equal(t, "[]", string(riskRep.Alerts))
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/place-order")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
