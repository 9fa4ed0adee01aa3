// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsReceived      prometheus.Counter
	CommandsIgnored       prometheus.Counter
	DismissTimerFires     prometheus.Counter
	InteractionCancels    prometheus.Counter
	OutsideClickDismisses prometheus.Counter
	WakeRequests          prometheus.Counter

	// Counter vecs
	PanelOpens *prometheus.CounterVec

	// Gauges
	EventStreamClients prometheus.Gauge
	ChatConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_commands_received_total", Help: "Number of prefixed chat commands received"})
		CommandsIgnored = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_commands_ignored_total", Help: "Number of unrecognized commands dropped"})
		DismissTimerFires = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_dismiss_timer_fires_total", Help: "Number of panels hidden by the dismiss timer"})
		InteractionCancels = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_interaction_cancels_total", Help: "Number of dismiss timers cancelled by user interaction"})
		OutsideClickDismisses = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_outside_click_dismisses_total", Help: "Number of panels hidden by an outside click"})
		WakeRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_wake_requests_total", Help: "Number of display wake requests relayed to the frontend"})
		PanelOpens = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_panel_opens_total", Help: "Number of panel opens by panel key"}, []string{"panel"})
		EventStreamClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_event_stream_clients", Help: "Current number of connected SSE clients"})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_chat_connected", Help: "Chat listener connected=1 disconnected=0"})
	})
}

// UpdateChatConnected sets the chat gauge to 1 if connected else 0.
func UpdateChatConnected(connected bool) {
	if ChatConnectedGauge == nil {
		return
	}
	if connected {
		ChatConnectedGauge.Set(1)
	} else {
		ChatConnectedGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
