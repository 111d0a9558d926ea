package activity

import (
	"time"

	"github.com/radiowatch/chanscan/internal/scan"
)

// Status is the runtime activity state of a channel.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusDwell
	StatusHold
	StatusForceActive
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusActive:
		return "ACTIVE"
	case StatusDwell:
		return "DWELL"
	case StatusHold:
		return "HOLD"
	case StatusForceActive:
		return "FORCE_ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Machine runs the activity state machine for a single channel. All
// methods must be called from the coordinator's tick goroutine; a
// measurement update and a manual command can therefore never
// interleave mid-transition.
type Machine struct {
	channel  *scan.Channel
	detector Detector
	floor    *NoiseFloor

	status        Status
	dwellDeadline time.Time
	lastRSSI      float64
	hasRSSI       bool
}

// NewMachine builds the state machine for a channel, selecting the
// detector variant from the channel's mode.
func NewMachine(ch *scan.Channel, floorTC, warmupGrace time.Duration) *Machine {
	return &Machine{
		channel:  ch,
		detector: DetectorFor(ch),
		floor:    NewNoiseFloor(floorTC, warmupGrace),
	}
}

func (m *Machine) Channel() *scan.Channel   { return m.channel }
func (m *Machine) Status() Status           { return m.status }
func (m *Machine) RSSI() (float64, bool)    { return m.lastRSSI, m.hasRSSI }
func (m *Machine) NoiseFloor() float64      { return m.floor.Value() }
func (m *Machine) DwellDeadline() time.Time { return m.dwellDeadline }

// Observe feeds one measurement into the machine and returns true if
// the status changed. Measurements only arrive while the channel's
// window is assigned to a receiver.
func (m *Machine) Observe(meas Measurement, now time.Time) bool {
	m.lastRSSI = meas.RSSI
	m.hasRSSI = true
	m.floor.Observe(meas.NoiseFloor, now)

	switch m.status {
	case StatusHold, StatusForceActive:
		// Manual states are immune to measurements.
		return false
	}

	detected := m.detector.Detect(meas, m.floor.Value())
	if _, threshold := m.detector.(ThresholdDetector); threshold && m.floor.Warming(now) {
		// The floor average is stale right after a retune; trust
		// nothing until it has had a moment to settle.
		detected = false
	}

	switch {
	case detected && m.status != StatusActive:
		m.status = StatusActive
		m.dwellDeadline = time.Time{}
		return true

	case !detected && m.status == StatusActive:
		m.status = StatusDwell
		m.dwellDeadline = now.Add(m.channel.DwellTime)
		return true

	case !detected && m.status == StatusDwell:
		return m.Tick(now)
	}

	return false
}

// Tick advances time-driven transitions (dwell expiry) without a new
// measurement. Returns true if the status changed.
func (m *Machine) Tick(now time.Time) bool {
	if m.status == StatusDwell && !now.Before(m.dwellDeadline) {
		m.status = StatusIdle
		m.dwellDeadline = time.Time{}
		return true
	}
	return false
}

// NoteAssigned tells the machine its window just landed on a receiver,
// starting the post-retune warm-up.
func (m *Machine) NoteAssigned(now time.Time) {
	m.floor.NoteRetune(now)
}

// SetHold applies or releases a manual hold. Returns true if the
// status changed. The call is idempotent.
func (m *Machine) SetHold(on bool, now time.Time) bool {
	m.channel.Held = on
	switch {
	case on && m.status != StatusHold:
		m.status = StatusHold
		m.dwellDeadline = time.Time{}
		return true
	case !on && m.status == StatusHold:
		m.status = StatusIdle
		return true
	}
	return false
}

// SetForceActive applies or releases the squelch bypass. Returns true
// if the status changed. The call is idempotent.
func (m *Machine) SetForceActive(on bool, now time.Time) bool {
	m.channel.ForceActive = on
	switch {
	case on && m.status != StatusForceActive:
		m.status = StatusForceActive
		m.dwellDeadline = time.Time{}
		return true
	case !on && m.status == StatusForceActive:
		m.status = StatusIdle
		return true
	}
	return false
}

// Engaged reports whether the channel must keep its receiver: rotating
// away mid-transmission would cut the audio.
func (m *Machine) Engaged() bool {
	switch m.status {
	case StatusActive, StatusDwell, StatusForceActive:
		return true
	}
	return false
}

// Audible reports whether the channel is eligible for audio output,
// honoring mute and solo. soloActive is true when any channel in the
// system is soloed.
func (m *Machine) Audible(soloActive bool) bool {
	if m.channel.Muted {
		return false
	}
	if soloActive && !m.channel.Soloed {
		return false
	}
	switch m.status {
	case StatusActive, StatusDwell, StatusForceActive:
		return true
	case StatusHold:
		return false
	}
	return false
}
