package observability

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VoteObserved("arbitrum", "VoteCast")
		m.ListenerAttempt("arbitrum", false)
		m.SetListenerUp("arbitrum", true)
		m.DelegateResolution("arbitrum", "ok")
		m.NotificationPersisted("proposalVote")
		m.Delivery("push", nil)
		m.DuplicateSkipped()
		m.SetRetryQueueDepth(3)
		m.DeadLetter("expired")
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.ObserveHTTP("GET", "/v1/notifications", 200, 0.01)
	})
}

func TestMetrics_Deliveries(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Delivery("push", nil)
	m.Delivery("email", errors.New("smtp down"))
	m.Delivery("email", errors.New("smtp down"))

	expected := `
# HELP relay_deliveries_total Delivery attempts by channel and status
# TYPE relay_deliveries_total counter
relay_deliveries_total{channel="email",status="error"} 2
relay_deliveries_total{channel="push",status="success"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.Deliveries, strings.NewReader(expected)))
}

func TestMetrics_ListenerGaugeAndAttempts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ListenerAttempt("optimism", false)
	m.ListenerAttempt("optimism", true)
	m.SetListenerUp("optimism", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerAttempts.WithLabelValues("optimism", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerUp.WithLabelValues("optimism")))

	m.SetListenerUp("optimism", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ListenerUp.WithLabelValues("optimism")))
}

func TestMetrics_QueueDepthAndDeadLetters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetRetryQueueDepth(4)
	m.DeadLetter("overflow")

	assert.Equal(t, 4.0, testutil.ToFloat64(m.RetryQueueDepth))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DeadLetters))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
