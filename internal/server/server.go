// Package server maps the engine onto the request/response HTTP API consumed
// by the presentation layer. It holds no state of its own beyond the injected
// engine.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/traderlab/papertrade/internal/engine"
	"github.com/traderlab/papertrade/internal/fill"
	"github.com/traderlab/papertrade/internal/ledger"
	"github.com/traderlab/papertrade/internal/observ"
	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/quotes"
	"github.com/traderlab/papertrade/internal/risk"
)

type Server struct {
	engine *engine.Engine
}

func New(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Routes builds the mux. Mounted at the root of the engine's listen address.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /risk-report", s.handleRiskReport)
	mux.HandleFunc("GET /execution-report", s.handleExecutionReport)
	mux.HandleFunc("GET /trades", s.handleTrades)
	mux.HandleFunc("POST /place-order", s.handlePlaceOrder)
	mux.HandleFunc("GET /quote", s.handleQuote)
	mux.HandleFunc("GET /risk-config", s.handleGetRiskConfig)
	mux.HandleFunc("POST /risk-config", s.handleSetRiskConfig)
	mux.HandleFunc("GET /sources", s.handleSources)
	mux.HandleFunc("POST /switch-source", s.handleSwitchSource)
	mux.Handle("GET /metrics", observ.Handler())
	return mux
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps the engine's typed errors onto statuses: malformed input is
// 400, unknown things are 404, risk/ledger rejections are 422 and an
// unavailable quote source is 503.
func classify(err error) (int, errorBody) {
	var (
		verr *order.ValidationError
		viol *risk.Violation
		lerr *ledger.Error
		uerr *fill.UnfillableError
		nerr *quotes.NotFoundError
		ferr *quotes.FetchError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Code: "ValidationError", Message: verr.Error()}
	case errors.As(err, &viol):
		status := http.StatusUnprocessableEntity
		switch viol.Code {
		case risk.CodeSourceUnavailable:
			status = http.StatusServiceUnavailable
		case risk.CodeUnknownSymbol:
			status = http.StatusNotFound
		}
		return status, errorBody{Code: viol.Code, Message: viol.Message}
	case errors.As(err, &lerr):
		return http.StatusUnprocessableEntity, errorBody{Code: "LedgerError", Message: lerr.Error()}
	case errors.As(err, &uerr):
		return http.StatusUnprocessableEntity, errorBody{Code: "LimitNotMet", Message: uerr.Error()}
	case errors.As(err, &nerr):
		return http.StatusNotFound, errorBody{Code: "SourceNotFound", Message: nerr.Error()}
	case errors.As(err, &ferr):
		switch ferr.Kind {
		case "bad_symbol":
			return http.StatusNotFound, errorBody{Code: risk.CodeUnknownSymbol, Message: ferr.Error()}
		case "rate_limit":
			return http.StatusTooManyRequests, errorBody{Code: "RateLimited", Message: ferr.Error()}
		default:
			return http.StatusServiceUnavailable, errorBody{Code: risk.CodeSourceUnavailable, Message: ferr.Error()}
		}
	default:
		return http.StatusInternalServerError, errorBody{Code: "Internal", Message: err.Error()}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	writeJSON(w, status, body)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleRiskReport(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, s.engine.RiskReport(limit))
}

func (s *Server) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.ExecutionReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	trades, err := s.engine.Trades(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []order.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

type placeOrderResponse struct {
	Order *order.Order `json:"order"`
	Trade *order.Trade `json:"trade,omitempty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "ValidationError", Message: "malformed request body"})
		return
	}

	o, t, err := s.engine.SubmitOrder(r.Context(), req)
	if err != nil {
		if o == nil {
			writeError(w, err)
			return
		}
		// the order exists in its rejected terminal state; return both the
		// order and the typed error so the caller sees what happened
		status, errBody := classify(err)
		writeJSON(w, status, map[string]any{"order": o, "error": errBody})
		return
	}

	writeJSON(w, http.StatusOK, placeOrderResponse{Order: o, Trade: t})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "ValidationError", Message: "symbol is required"})
		return
	}

	q, err := s.engine.Quote(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleGetRiskConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RiskConfig())
}

func (s *Server) handleSetRiskConfig(w http.ResponseWriter, r *http.Request) {
	var cfg risk.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "ValidationError", Message: "malformed request body"})
		return
	}
	if err := s.engine.SetRiskConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "ValidationError", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.RiskConfig())
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.engine.Sources()})
}

func (s *Server) handleSwitchSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "ValidationError", Message: "source is required"})
		return
	}
	if err := s.engine.SwitchSource(req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.engine.Sources()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
