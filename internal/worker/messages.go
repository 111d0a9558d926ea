package worker

import (
	"time"

	"github.com/radiowatch/chanscan/internal/scan"
)

// Capability is the fixed descriptor a worker reports on startup.
type Capability struct {
	SampleRates []int64 `json:"sampleRates"` // Hz, usable internal rates
}

// MaxBandwidth returns the best usable bandwidth not exceeding the
// configured ceiling, or 0 if none qualifies.
func (c Capability) MaxBandwidth(ceiling int64) int64 {
	var best int64
	for _, r := range c.SampleRates {
		if r <= ceiling && r > best {
			best = r
		}
	}
	return best
}

// ChannelSpec describes one channel of an assigned window with
// everything the worker needs to demodulate and measure it.
type ChannelSpec struct {
	ID        string    `json:"id"`
	Frequency int64     `json:"frequency"`
	Mode      scan.Mode `json:"mode"`
	Squelch   float64   `json:"squelch"`
	AudioGain float64   `json:"audioGain"`
	Tones     []float64 `json:"tones,omitempty"`
}

// Assignment tells a worker which window to monitor. An empty WindowID
// means go idle. Assignments are idempotent: re-sending the current
// assignment is a no-op on the worker side.
type Assignment struct {
	WindowID  string        `json:"windowId"`
	Center    int64         `json:"center"`
	Bandwidth int64         `json:"bandwidth"`
	Channels  []ChannelSpec `json:"channels,omitempty"`
}

// ChannelReading is one channel's measurement within a status report.
type ChannelReading struct {
	ChannelID  string  `json:"id"`
	RSSI       float64 `json:"rssi"` // dBFS
	Tone       bool    `json:"tone,omitempty"`
	NoiseFloor float64 `json:"noiseFloor"` // dBFS
}

// Status is a periodic report from a worker: one reading per channel
// of the currently assigned window plus a health heartbeat (the report
// itself is the heartbeat).
type Status struct {
	WorkerID string           `json:"workerId"`
	Time     time.Time        `json:"time"`
	WindowID string           `json:"windowId"`
	Readings []ChannelReading `json:"readings,omitempty"`
}

// NewAssignment builds the wire assignment for a window.
func NewAssignment(w *scan.Window) Assignment {
	a := Assignment{
		WindowID:  w.ID,
		Center:    w.Center,
		Bandwidth: w.Bandwidth,
	}
	for _, c := range w.Channels {
		a.Channels = append(a.Channels, ChannelSpec{
			ID:        c.ID,
			Frequency: c.Frequency,
			Mode:      c.Mode,
			Squelch:   c.Squelch,
			AudioGain: c.AudioGain,
			Tones:     c.Mode.AlertTones(),
		})
	}
	return a
}
