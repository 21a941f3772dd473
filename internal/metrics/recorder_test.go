package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/pkg/hsms"
)

// resetRegistry gives each test its own Prometheus registry — InitRegistry
// always creates a fresh one, so tests never collide over metric names.
func resetRegistry(t *testing.T) {
	t.Helper()
	InitRegistry()
}

func TestNewRecorderReturnsNilWhenNotEnabled(t *testing.T) {
	mu.Lock()
	enabled = false
	registry = nil
	mu.Unlock()

	r := NewRecorder()
	assert.Nil(t, r, "a Recorder built before InitRegistry must be nil")
}

func TestNilRecorderMethodsAreNoOps(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.T3Timeout(1)
		r.T6Timeout(1)
		r.T7Timeout(1)
		r.Rejected(1)
		r.StateChanged(1, hsms.StateSelected)
		r.MessageSent(nil)
		r.MessageReceived(nil)
		r.CommunicatingStateChanged(nil, true)
	})
}

func TestRecorderCountsT3TimeoutsBySession(t *testing.T) {
	resetRegistry(t)
	r := NewRecorder()
	require.NotNil(t, r)

	r.T3Timeout(7)
	r.T3Timeout(7)
	r.T3Timeout(9)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.t3Timeouts.WithLabelValues("7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.t3Timeouts.WithLabelValues("9")))
}

func TestRecorderTracksSessionState(t *testing.T) {
	resetRegistry(t)
	r := NewRecorder()
	require.NotNil(t, r)

	r.StateChanged(1, hsms.StateSelected)
	assert.Equal(t, float64(hsms.StateSelected), testutil.ToFloat64(r.sessionState.WithLabelValues("1")))
}

func TestRecorderTracksCommunicatingGauge(t *testing.T) {
	resetRegistry(t)
	r := NewRecorder()
	require.NotNil(t, r)

	r.CommunicatingStateChanged(nil, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.communicating.WithLabelValues("default")))

	r.CommunicatingStateChanged(nil, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.communicating.WithLabelValues("default")))
}
