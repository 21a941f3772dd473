package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/takumi-sec/gosecs/pkg/hsms"
	"github.com/takumi-sec/gosecs/pkg/secsgo"
)

// Recorder is the Prometheus-backed instrumentation satisfying both
// secsgo.Metrics (sent/received/communicate-state, transport-agnostic) and
// hsms.Metrics (FSM state/timeout/reject events, HSMS-only). A nil
// *Recorder is safe to call through every method.
type Recorder struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	communicating    *prometheus.GaugeVec

	sessionState *prometheus.GaugeVec
	t3Timeouts   *prometheus.CounterVec
	t6Timeouts   *prometheus.CounterVec
	t7Timeouts   *prometheus.CounterVec
	rejects      *prometheus.CounterVec
}

// NewRecorder creates a Recorder against the registry set up by
// InitRegistry. Returns nil if metrics are not enabled, so callers can pass
// the result straight through to secsgo.Config.Metrics/HsmsMetrics with zero
// overhead when instrumentation isn't wanted.
func NewRecorder() *Recorder {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &Recorder{
		messagesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_messages_sent_total",
				Help: "Total number of SECS messages sent, by communicator name.",
			},
			[]string{"communicator"},
		),
		messagesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_messages_received_total",
				Help: "Total number of SECS messages received, by communicator name.",
			},
			[]string{"communicator"},
		),
		communicating: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gosecs_communicating",
				Help: "1 if the communicator is currently communicating, 0 otherwise.",
			},
			[]string{"communicator"},
		),
		sessionState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gosecs_hsms_session_state",
				Help: "Current HSMS session state (0=NOT-CONNECTED, 1=CONNECTED, 2=SELECTED) by session id.",
			},
			[]string{"session_id"},
		),
		t3Timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_hsms_t3_timeouts_total",
				Help: "Total number of T3 (reply timeout) expirations by session id.",
			},
			[]string{"session_id"},
		),
		t6Timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_hsms_t6_timeouts_total",
				Help: "Total number of T6 (control transaction timeout) expirations by session id.",
			},
			[]string{"session_id"},
		),
		t7Timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_hsms_t7_timeouts_total",
				Help: "Total number of T7 (not-selected timeout) expirations by session id.",
			},
			[]string{"session_id"},
		),
		rejects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gosecs_hsms_rejects_total",
				Help: "Total number of REJECT.req messages sent or received as a reply, by session id.",
			},
			[]string{"session_id"},
		),
	}
}

// MessageSent implements secsgo.Metrics.
func (r *Recorder) MessageSent(comm secsgo.Communicator) {
	if r == nil {
		return
	}
	r.messagesSent.WithLabelValues(communicatorLabel(comm)).Inc()
}

// MessageReceived implements secsgo.Metrics.
func (r *Recorder) MessageReceived(comm secsgo.Communicator) {
	if r == nil {
		return
	}
	r.messagesReceived.WithLabelValues(communicatorLabel(comm)).Inc()
}

// CommunicatingStateChanged implements secsgo.Metrics.
func (r *Recorder) CommunicatingStateChanged(comm secsgo.Communicator, communicating bool) {
	if r == nil {
		return
	}
	v := 0.0
	if communicating {
		v = 1.0
	}
	r.communicating.WithLabelValues(communicatorLabel(comm)).Set(v)
}

// StateChanged implements hsms.Metrics.
func (r *Recorder) StateChanged(sessionID int, state hsms.State) {
	if r == nil {
		return
	}
	r.sessionState.WithLabelValues(sessionLabel(sessionID)).Set(float64(state))
}

// T3Timeout implements hsms.Metrics.
func (r *Recorder) T3Timeout(sessionID int) {
	if r == nil {
		return
	}
	r.t3Timeouts.WithLabelValues(sessionLabel(sessionID)).Inc()
}

// T6Timeout implements hsms.Metrics.
func (r *Recorder) T6Timeout(sessionID int) {
	if r == nil {
		return
	}
	r.t6Timeouts.WithLabelValues(sessionLabel(sessionID)).Inc()
}

// T7Timeout implements hsms.Metrics.
func (r *Recorder) T7Timeout(sessionID int) {
	if r == nil {
		return
	}
	r.t7Timeouts.WithLabelValues(sessionLabel(sessionID)).Inc()
}

// Rejected implements hsms.Metrics.
func (r *Recorder) Rejected(sessionID int) {
	if r == nil {
		return
	}
	r.rejects.WithLabelValues(sessionLabel(sessionID)).Inc()
}

func sessionLabel(sessionID int) string {
	return strconv.Itoa(sessionID)
}

// communicatorLabel falls back to "default" when the communicator has no
// configured name, so labels are always non-empty.
func communicatorLabel(comm secsgo.Communicator) string {
	if named, ok := comm.(interface{ Name() string }); ok {
		if n := named.Name(); n != "" {
			return n
		}
	}
	return "default"
}
