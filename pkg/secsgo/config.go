package secsgo

import (
	"time"

	"github.com/takumi-sec/gosecs/pkg/hsms"
)

// GemClockType is the GEM clock format a communicator advertises,
// configuration passthrough only — no GEM stream/function is implemented
// by this module (see DESIGN.md).
type GemClockType string

const (
	GemClockA12 GemClockType = "A12"
	GemClockA16 GemClockType = "A16"
)

// Config carries every option spec.md names: device identity, transport
// addressing (TCP for HSMS / TCP or serial for SECS-I), the T1-T8 timeout
// family, and the GEM passthrough fields. Grounded on
// AbstractSecsCommunicator/AbstractSecs1Communicator's kwargs handling in
// original_source.
type Config struct {
	DeviceID int
	IsEquip  bool
	Name     string

	// HSMS / TCP SECS-I.
	IPAddress string
	Port      int

	// Serial SECS-I.
	SerialPort string
	BaudRate   int

	// SECS-I only.
	IsMaster bool
	Retry    int

	TimeoutT1     time.Duration
	TimeoutT2     time.Duration
	TimeoutT3     time.Duration
	TimeoutT4     time.Duration
	TimeoutT5     time.Duration
	TimeoutT6     time.Duration
	TimeoutT7     time.Duration
	TimeoutT8     time.Duration
	TimeoutRebind time.Duration

	GemMDLN      string
	GemSoftRev   string
	GemClockType GemClockType

	// Metrics records sent/received/communicate-state events across any
	// transport. Nil records nothing. See internal/metrics.Recorder.
	Metrics Metrics

	// HsmsMetrics additionally records HSMS FSM-specific events (state
	// transitions, T3/T6/T7 timeouts, rejects) for HsmsActive/HsmsPassive.
	// Unused by Secs1. internal/metrics.Recorder satisfies this too.
	HsmsMetrics hsms.Metrics
}

// DefaultConfig returns the T1-T8/rebind/retry defaults from
// AbstractSecsCommunicator, with DeviceID 0 and IsEquip false — callers
// must still set DeviceID, IPAddress/Port or SerialPort, as appropriate.
func DefaultConfig() Config {
	return Config{
		TimeoutT1:     1 * time.Second,
		TimeoutT2:     15 * time.Second,
		TimeoutT3:     45 * time.Second,
		TimeoutT4:     45 * time.Second,
		TimeoutT5:     10 * time.Second,
		TimeoutT6:     5 * time.Second,
		TimeoutT7:     10 * time.Second,
		TimeoutT8:     6 * time.Second,
		TimeoutRebind: 5 * time.Second,
		Retry:         3,
	}
}
