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

// Poll results used as the "result" label of PollsTotal.
const (
	PollOK         = "ok"
	PollEmpty      = "empty"
	PollSoftError  = "soft_error"
	PollFatalError = "fatal_error"
)

var (
	once sync.Once

	PollsTotal          *prometheus.CounterVec
	MessagesTotal       *prometheus.CounterVec
	SessionsFailedTotal *prometheus.CounterVec
	UploadsTotal        *prometheus.CounterVec
	FilesRotatedTotal   prometheus.Counter

	PollDuration prometheus.Observer

	ActiveSessions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_polls_total", Help: "Chat polls by platform and result"}, []string{"platform", "result"})
		MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_messages_total", Help: "Normalized chat messages delivered"}, []string{"platform"})
		SessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_sessions_failed_total", Help: "Chat sessions halted by a fatal error"}, []string{"reason"})
		UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_uploads_total", Help: "Log file uploads by result"}, []string{"result"})
		FilesRotatedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_files_rotated_total", Help: "Log files closed and queued for upload"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_poll_duration_seconds", Help: "Chat poll round trip seconds", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_active_sessions", Help: "Chat sessions currently polling"})
	})
}

// ObservePoll records the outcome of one poll. Safe to call before Init.
func ObservePoll(platform, result string, d time.Duration) {
	if PollsTotal == nil {
		return
	}
	PollsTotal.WithLabelValues(platform, result).Inc()
	PollDuration.Observe(d.Seconds())
}

// AddMessages counts delivered messages. Safe to call before Init.
func AddMessages(platform string, n int) {
	if MessagesTotal != nil && n > 0 {
		MessagesTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// SessionFailed counts a fatal session stop.
func SessionFailed(reason string) {
	if SessionsFailedTotal != nil {
		SessionsFailedTotal.WithLabelValues(reason).Inc()
	}
}

// SessionActive moves the active-session gauge up or down.
func SessionActive(active bool) {
	if ActiveSessions == nil {
		return
	}
	if active {
		ActiveSessions.Inc()
	} else {
		ActiveSessions.Dec()
	}
}

// UploadResult counts an upload outcome ("ok" or "failed").
func UploadResult(result string) {
	if UploadsTotal != nil {
		UploadsTotal.WithLabelValues(result).Inc()
	}
}

// FileRotated counts a closed log file.
func FileRotated() {
	if FilesRotatedTotal != nil {
		FilesRotatedTotal.Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
