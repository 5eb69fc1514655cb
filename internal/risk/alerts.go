package risk

import (
	"sync"
	"time"

	"github.com/traderlab/papertrade/internal/observ"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is an advisory event. Alerts are append-only; the in-memory log is
// bounded for display and the durable store keeps the full history.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
}

// AlertLog is a bounded, thread-safe alert ring.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []Alert
	max    int
}

// NewAlertLog creates a log that retains at most max alerts.
func NewAlertLog(max int) *AlertLog {
	if max <= 0 {
		max = 1000
	}
	return &AlertLog{max: max}
}

// Append records alerts, dropping the oldest past the retention bound.
func (l *AlertLog) Append(alerts ...Alert) {
	if len(alerts) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.alerts = append(l.alerts, alerts...)
	if over := len(l.alerts) - l.max; over > 0 {
		l.alerts = l.alerts[over:]
	}

	for _, a := range alerts {
		observ.IncCounter("alerts_total", map[string]string{"severity": string(a.Severity)})
		observ.Log("alert_emitted", map[string]any{
			"severity": string(a.Severity),
			"symbol":   a.Symbol,
			"message":  a.Message,
		})
	}
}

// RecentFirst returns up to limit alerts, newest first. limit <= 0 returns all.
func (l *AlertLog) RecentFirst(limit int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.alerts[i])
	}
	return out
}

// Len returns the number of retained alerts.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}
