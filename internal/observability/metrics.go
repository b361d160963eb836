package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects relay counters and gauges.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
type Metrics struct {
	// VotesObserved counts decoded vote events.
	// Labels: chain, variant (VoteCast|VoteCastWithParams)
	VotesObserved *prometheus.CounterVec

	// ListenerAttempts counts subscription establishment attempts.
	// Labels: chain, outcome (success|failure)
	ListenerAttempts *prometheus.CounterVec

	// ListenerUp is 1 while a chain has a live subscription.
	// Labels: chain
	ListenerUp *prometheus.GaugeVec

	// DelegateResolutions counts resolver results.
	// Labels: chain, outcome (ok|empty|absent)
	DelegateResolutions *prometheus.CounterVec

	// NotificationsPersisted counts stored notifications by type.
	NotificationsPersisted *prometheus.CounterVec

	// Deliveries counts delivery attempts.
	// Labels: channel (push|email), status (success|error)
	Deliveries *prometheus.CounterVec

	// DuplicatesSkipped counts recipients skipped by the dedup cache.
	DuplicatesSkipped prometheus.Counter

	// RetryQueueDepth is the number of pending retry items.
	RetryQueueDepth prometheus.Gauge

	// DeadLetters counts deliveries given up on.
	// Labels: reason (expired|overflow)
	DeadLetters *prometheus.CounterVec

	// LiveConnections is the number of open websocket connections.
	LiveConnections prometheus.Gauge

	// HTTPRequestDuration measures HTTP handler latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the relay metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VotesObserved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_votes_observed_total",
			Help: "Vote events decoded from governor logs",
		}, []string{"chain", "variant"}),

		ListenerAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_listener_attempts_total",
			Help: "Subscription establishment attempts by chain and outcome",
		}, []string{"chain", "outcome"}),

		ListenerUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_listener_up",
			Help: "1 when the chain has a live log subscription",
		}, []string{"chain"}),

		DelegateResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delegate_resolutions_total",
			Help: "Delegate set lookups by chain and outcome",
		}, []string{"chain", "outcome"}),

		NotificationsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_persisted_total",
			Help: "Notifications written to the store",
		}, []string{"type"}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Delivery attempts by channel and status",
		}, []string{"channel", "status"}),

		DuplicatesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_duplicates_skipped_total",
			Help: "Recipients skipped because the vote was already delivered to them",
		}),

		RetryQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_retry_queue_depth",
			Help: "Pending items in the retry queue",
		}),

		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dead_letters_total",
			Help: "Deliveries abandoned by reason",
		}, []string{"reason"}),

		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_live_connections",
			Help: "Open websocket connections",
		}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route", "status_code"}),
	}
}

func (m *Metrics) VoteObserved(chain, variant string) {
	if m == nil {
		return
	}
	m.VotesObserved.WithLabelValues(chain, variant).Inc()
}

func (m *Metrics) ListenerAttempt(chain string, ok bool) {
	if m == nil {
		return
	}
	m.ListenerAttempts.WithLabelValues(chain, outcome(ok)).Inc()
}

func (m *Metrics) SetListenerUp(chain string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.ListenerUp.WithLabelValues(chain).Set(v)
}

func (m *Metrics) DelegateResolution(chain, result string) {
	if m == nil {
		return
	}
	m.DelegateResolutions.WithLabelValues(chain, result).Inc()
}

func (m *Metrics) NotificationPersisted(typ string) {
	if m == nil {
		return
	}
	m.NotificationsPersisted.WithLabelValues(typ).Inc()
}

// Delivery records a push or email attempt.
func (m *Metrics) Delivery(channel string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Deliveries.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) DuplicateSkipped() {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.Inc()
}

func (m *Metrics) SetRetryQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RetryQueueDepth.Set(float64(n))
}

func (m *Metrics) DeadLetter(reason string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.LiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.LiveConnections.Dec()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
