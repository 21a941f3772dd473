// Package metrics wraps github.com/prometheus/client_golang counters and
// gauges for messages sent/received, HSMS FSM timeouts/rejects, and
// communicating state — optional instrumentation, not a protocol
// dependency. Grounded on marmos91-dittofs's pkg/metrics/pkg/metrics/prometheus
// enable-or-nil pattern.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection against a fresh registry. Callers
// that never call InitRegistry get a nil Recorder from NewRecorder and pay
// zero instrumentation overhead.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the registry set up by InitRegistry, or nil if metrics
// are not enabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}
