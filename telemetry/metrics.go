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
	PollCycles       *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec
	Votes            *prometheus.CounterVec
	VoteTriggers     *prometheus.CounterVec
	ChatSendFailures *prometheus.CounterVec
	GatewayRequests  *prometheus.CounterVec
	GreetingsSent    prometheus.Counter
	EloNotices       prometheus.Counter

	// Histograms (seconds)
	PollDuration prometheus.Observer

	// Gauges
	TrackedMatches  prometheus.Gauge
	LastPollSuccess prometheus.Gauge // unix seconds
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_poll_cycles_total", Help: "Poll cycles by result (ok, failed, skipped)"}, []string{"result"})
		StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_match_state_transitions_total", Help: "Observed match lifecycle transitions"}, []string{"from", "to"})
		Votes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_votes_total", Help: "Vote submissions by kind and outcome"}, []string{"kind", "outcome"})
		VoteTriggers = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_vote_triggers_total", Help: "Votes that crossed their threshold"}, []string{"kind"})
		ChatSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_chat_send_failures_total", Help: "Failed chat messages by purpose"}, []string{"purpose"})
		GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rehost_gateway_requests_total", Help: "FACEIT API calls by operation and result"}, []string{"op", "result"})
		GreetingsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "rehost_greetings_sent_total", Help: "Welcome messages delivered to voting rooms"})
		EloNotices = promauto.NewCounter(prometheus.CounterOpts{Name: "rehost_elo_notices_total", Help: "Rating imbalance notices delivered"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rehost_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		TrackedMatches = promauto.NewGauge(prometheus.GaugeOpts{Name: "rehost_tracked_matches", Help: "Matches currently held in the registry"})
		LastPollSuccess = promauto.NewGauge(prometheus.GaugeOpts{Name: "rehost_last_poll_success_timestamp_seconds", Help: "Unix time of the last successful poll cycle"})
	})
}

// ObservePollCycle records one poll cycle outcome; d is ignored for skipped cycles.
func ObservePollCycle(result string, d time.Duration) {
	if PollCycles == nil {
		return
	}
	PollCycles.WithLabelValues(result).Inc()
	if result == "skipped" {
		return
	}
	PollDuration.Observe(d.Seconds())
	if result == "ok" {
		LastPollSuccess.Set(float64(time.Now().Unix()))
	}
}

// SetTrackedMatches records the registry size.
func SetTrackedMatches(n int) {
	if TrackedMatches != nil {
		TrackedMatches.Set(float64(n))
	}
}

func CountTransition(from, to string) {
	if StateTransitions != nil {
		StateTransitions.WithLabelValues(from, to).Inc()
	}
}

func CountVote(kind, outcome string) {
	if Votes != nil {
		Votes.WithLabelValues(kind, outcome).Inc()
	}
}

func CountTrigger(kind string) {
	if VoteTriggers != nil {
		VoteTriggers.WithLabelValues(kind).Inc()
	}
}

func CountChatSendFailure(purpose string) {
	if ChatSendFailures != nil {
		ChatSendFailures.WithLabelValues(purpose).Inc()
	}
}

func CountGreeting() {
	if GreetingsSent != nil {
		GreetingsSent.Inc()
	}
}

func CountEloNotice() {
	if EloNotices != nil {
		EloNotices.Inc()
	}
}

// ObserveGatewayCall counts a finished gateway call (after retries).
func ObserveGatewayCall(op string, err error) {
	if GatewayRequests == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayRequests.WithLabelValues(op, result).Inc()
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
