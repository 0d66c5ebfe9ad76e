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
	ResolvesTotal        *prometheus.CounterVec // label: outcome
	ChatEventsTotal      prometheus.Counter
	PollErrorsTotal      prometheus.Counter
	MessagesAccepted     prometheus.Counter
	SpeechItemsTotal     *prometheus.CounterVec // label: outcome
	TranslationFailures  prometheus.Counter
	SubscriberDrops      prometheus.Counter
	ArchiveDropped       prometheus.Counter
	ArchiveWritten       prometheus.Counter
	RelayPublishFailures prometheus.Counter

	// Histograms (seconds)
	ResolveDuration prometheus.Observer
	SpeechDuration  prometheus.Observer

	// Gauges
	SessionStateGauge prometheus.Gauge
	SpeechQueueDepth  prometheus.Gauge
	TranslatorOpen    prometheus.Gauge // 1=open,0=closed
	SubscribersGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ResolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatcaster_resolves_total", Help: "Stream resolutions by outcome"}, []string{"outcome"})
		ChatEventsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_chat_events_total", Help: "Raw chat events received from the provider"})
		PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_poll_errors_total", Help: "Polling errors that ended a session"})
		MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_messages_accepted_total", Help: "Messages that passed the blacklist"})
		SpeechItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatcaster_speech_items_total", Help: "Speech queue items by outcome"}, []string{"outcome"})
		TranslationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_translation_failures_total", Help: "Translations that fell back to the original text"})
		SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_subscriber_drops_total", Help: "Events dropped for slow subscribers"})
		ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_archive_dropped_total", Help: "Messages dropped because the archive queue was full"})
		ArchiveWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_archive_written_total", Help: "Messages written to the archive"})
		RelayPublishFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatcaster_relay_publish_failures_total", Help: "Failed relay publishes"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatcaster_resolve_duration_seconds", Help: "Stream resolution duration seconds", Buckets: prometheus.DefBuckets})
		SpeechDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatcaster_speech_duration_seconds", Help: "Time to translate, synthesize and play one item", Buckets: prometheus.DefBuckets})
		SessionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatcaster_session_state", Help: "Chat session state (0 idle,1 connecting,2 live,3 polling,4 disconnected,5 error)"})
		SpeechQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatcaster_speech_queue_depth", Help: "Pending speech items"})
		TranslatorOpen = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatcaster_translator_circuit_open", Help: "Translator circuit breaker open=1 closed=0"})
		SubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatcaster_event_subscribers", Help: "Connected event stream subscribers"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds v to c if metrics are initialized.
func Add(c prometheus.Counter, v float64) {
	if c != nil {
		c.Add(v)
	}
}

// IncOutcome increments the outcome label of v if metrics are initialized.
func IncOutcome(v *prometheus.CounterVec, outcome string) {
	if v != nil {
		v.WithLabelValues(outcome).Inc()
	}
}

// SetGauge sets g if metrics are initialized.
func SetGauge(g prometheus.Gauge, val float64) {
	if g != nil {
		g.Set(val)
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if open {
		SetGauge(TranslatorOpen, 1)
	} else {
		SetGauge(TranslatorOpen, 0)
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
