package centrifuge

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultMetricsNamespace = "centrifuge_client"

// metrics holds the optional Prometheus collectors of one client. A nil *metrics records nothing.
type metrics struct {
	commandsSent      *prometheus.CounterVec
	replies           *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	inflight          prometheus.Gauge
	pushes            *prometheus.CounterVec
	connects          prometheus.Counter
	disconnects       *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	decodeErrors      prometheus.Counter
}

// newMetrics registers the client collectors with reg. Two clients sharing one registry need
// distinct constLabels, otherwise registration panics.
func newMetrics(reg prometheus.Registerer, namespace string, constLabels prometheus.Labels) *metrics {
	if reg == nil {
		return nil
	}
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	factory := promauto.With(reg)

	return &metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_sent_total",
			Help:        "Total number of commands written to the transport",
			ConstLabels: constLabels,
		}, []string{"method"}),

		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "command_results_total",
			Help:        "Total number of finished commands by outcome",
			ConstLabels: constLabels,
		}, []string{"method", "outcome"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "command_duration_seconds",
			Help:        "Time from command write to its outcome",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),

		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "inflight_commands",
			Help:        "Number of commands waiting for a reply",
			ConstLabels: constLabels,
		}),

		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pushes_total",
			Help:        "Total number of server pushes received by type",
			ConstLabels: constLabels,
		}, []string{"type"}),

		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connects_total",
			Help:        "Total number of successful connects",
			ConstLabels: constLabels,
		}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "disconnects_total",
			Help:        "Total number of disconnects by reconnect intent",
			ConstLabels: constLabels,
		}, []string{"reconnect"}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of scheduled reconnects",
			ConstLabels: constLabels,
		}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "decode_errors_total",
			Help:        "Total number of transport messages that failed to decode",
			ConstLabels: constLabels,
		}),
	}
}

func (m *metrics) commandSent(method MethodType) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(method.String()).Inc()
	m.inflight.Inc()
}

func (m *metrics) commandDone(req *pendingRequest, err error, seconds float64) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.replies.WithLabelValues(req.method.String(), outcome(err)).Inc()
	m.commandDuration.WithLabelValues(req.method.String()).Observe(seconds)
}

func (m *metrics) push(t PushType) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(t.String()).Inc()
}

func (m *metrics) connected() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

func (m *metrics) disconnected(reconnect bool) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(strconv.FormatBool(reconnect)).Inc()
}

func (m *metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func outcome(err error) string {
	var serverErr *Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &serverErr):
		return "error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	}
	return "failed"
}
