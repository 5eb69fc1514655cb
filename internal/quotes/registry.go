package quotes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/traderlab/papertrade/internal/observ"
)

const (
	// ewmaAlpha weights the newest latency sample in the rolling average.
	ewmaAlpha = 0.3

	defaultFetchTimeout = 8 * time.Second
)

// NotFoundError is returned by SetActive for an unregistered source id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source %q not registered", e.ID)
}

// Registry holds the interchangeable quote sources and the manual hot-switch
// state. It never fails over on its own: an adapter failure updates the
// source's health fields and surfaces the error, and the operator decides
// whether to switch. The built-in mock source is registered at construction
// so Fetch never has zero candidates.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]*sourceEntry
	order        []string
	active       string
	fetchTimeout time.Duration

	latestMu sync.RWMutex
	latest   map[string]*Quote
}

type sourceEntry struct {
	src     Source
	limiter *rate.Limiter
	desc    Descriptor

	// fetches for the same symbol from the same source are serialized
	// to respect vendor rate limits; different symbols proceed in parallel
	symMu sync.Mutex
	syms  map[string]*sync.Mutex
}

func (e *sourceEntry) symbolLock(symbol string) *sync.Mutex {
	e.symMu.Lock()
	defer e.symMu.Unlock()
	mu, ok := e.syms[symbol]
	if !ok {
		mu = &sync.Mutex{}
		e.syms[symbol] = mu
	}
	return mu
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFetchTimeout bounds the network call inside a source adapter.
func WithFetchTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// NewRegistry creates a registry with the always-ready mock source registered
// and active.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sources:      make(map[string]*sourceEntry),
		latest:       make(map[string]*Quote),
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	mock := NewMockSource()
	r.Register(mock, 0)
	r.active = mock.ID()

	return r
}

// Register adds a source. ratePerSec <= 0 means unlimited. Registering an id
// twice replaces the adapter but keeps the health history.
func (r *Registry) Register(src Source, ratePerSec float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	if existing, ok := r.sources[src.ID()]; ok {
		existing.src = src
		existing.limiter = limiter
		return
	}

	r.sources[src.ID()] = &sourceEntry{
		src:     src,
		limiter: limiter,
		syms:    make(map[string]*sync.Mutex),
		desc: Descriptor{
			ID:     src.ID(),
			Label:  src.Label(),
			Vendor: src.Vendor(),
			Ready:  true,
		},
	}
	r.order = append(r.order, src.ID())

	observ.Log("source_registered", map[string]any{
		"source": src.ID(),
		"vendor": src.Vendor(),
		"total":  len(r.sources),
	})
}

// SetActive hot-switches the active source.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[id]; !ok {
		return &NotFoundError{ID: id}
	}
	if r.active == id {
		return nil
	}

	prev := r.active
	r.active = id
	observ.Log("source_switched", map[string]any{"from": prev, "to": id})
	observ.IncCounter("source_switches_total", map[string]string{"to": id})
	return nil
}

// Active returns the descriptor of the currently active source.
func (r *Registry) Active() Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.sources[r.active].desc
	d.Active = true
	return d
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.sources[id].desc
		d.Active = id == r.active
		out = append(out, d)
	}
	return out
}

// Fetch delegates to the active source, serializing per (source, symbol) and
// honoring the source's rate limit. Health and EWMA latency are updated on
// every attempt; a failed attempt charges the full timeout as its latency
// sample and marks the source unready.
func (r *Registry) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	r.mu.RLock()
	id := r.active
	entry := r.sources[id]
	timeout := r.fetchTimeout
	r.mu.RUnlock()

	lock := entry.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if err := entry.limiter.Wait(ctx); err != nil {
		r.recordFailure(id, timeout, NewRateLimitError(id, symbol))
		return nil, NewRateLimitError(id, symbol)
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	q, err := entry.src.Fetch(fctx, symbol)
	elapsed := time.Since(start)

	observ.RecordDuration("fetch_latency", elapsed, map[string]string{"source": id})

	if err != nil {
		sample := elapsed
		if errors.Is(err, context.DeadlineExceeded) {
			sample = timeout
			err = NewTimeoutError(id, symbol, err)
		}
		r.recordFailure(id, sample, err)
		return nil, err
	}

	if verr := Validate(q); verr != nil {
		err = NewProviderError(id, symbol, "invalid quote", verr)
		r.recordFailure(id, elapsed, err)
		return nil, err
	}

	r.recordSuccess(id, elapsed)

	r.latestMu.Lock()
	r.latest[q.Symbol] = q
	r.latestMu.Unlock()

	cp := *q
	return &cp, nil
}

// Latest returns the most recent quote seen for a symbol from any source.
func (r *Registry) Latest(symbol string) (*Quote, bool) {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	q, ok := r.latest[symbol]
	if !ok {
		return nil, false
	}
	cp := *q
	return &cp, true
}

// LatestAll snapshots the most recent quote per symbol.
func (r *Registry) LatestAll() map[string]*Quote {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	out := make(map[string]*Quote, len(r.latest))
	for sym, q := range r.latest {
		cp := *q
		out[sym] = &cp
	}
	return out
}

func (r *Registry) recordSuccess(id string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sources[id]
	if !ok {
		return
	}
	d := &entry.desc
	d.TotalRequests++
	d.ConsecutiveErrors = 0
	d.Ready = true
	d.LastSuccess = time.Now().UTC()
	d.LastError = ""
	d.LatencyMs = ewma(d.LatencyMs, float64(latency.Milliseconds()))
}

func (r *Registry) recordFailure(id string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sources[id]
	if !ok {
		return
	}
	d := &entry.desc
	d.TotalRequests++
	d.TotalErrors++
	d.ConsecutiveErrors++
	d.Ready = false
	d.LastError = err.Error()
	d.LatencyMs = ewma(d.LatencyMs, float64(latency.Milliseconds()))

	observ.IncCounter("fetch_errors_total", map[string]string{"source": id})
	observ.Log("source_fetch_failed", map[string]any{
		"source":             id,
		"error":              err.Error(),
		"consecutive_errors": d.ConsecutiveErrors,
	})
}

// Close closes all adapters.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []string
	for id, entry := range r.sources {
		if err := entry.src.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("source close errors: %v", errs)
	}
	return nil
}

func ewma(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return ewmaAlpha*sample + (1-ewmaAlpha)*prev
}
