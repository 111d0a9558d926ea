package activity

import (
	"time"

	"github.com/radiowatch/chanscan/internal/scan"
)

// Measurement is one per-channel reading from a receiver worker.
type Measurement struct {
	Time       time.Time
	RSSI       float64 // dBFS
	Tone       bool    // alert tone present (EAS modes only)
	NoiseFloor float64 // worker's rolling floor contribution, dBFS
}

// Detector decides whether a measurement represents channel activity.
// Implementations are selected by channel mode at construction and the
// state machine calls them uniformly.
type Detector interface {
	Detect(m Measurement, noiseFloor float64) bool
}

// ThresholdDetector opens when the measured level rises the configured
// number of dB above the tracked noise floor.
type ThresholdDetector struct {
	Squelch float64 // dB above noise floor
}

func (d ThresholdDetector) Detect(m Measurement, noiseFloor float64) bool {
	return m.RSSI > noiseFloor+d.Squelch
}

// ToneDetector follows the worker's tone flag. The tone frequencies are
// carried so assignments can tell the worker what to listen for; the
// FFT itself runs on the worker side.
type ToneDetector struct {
	Tones []float64
}

func (d ToneDetector) Detect(m Measurement, _ float64) bool {
	return m.Tone
}

// DetectorFor returns the detector variant for a channel's mode.
func DetectorFor(ch *scan.Channel) Detector {
	if tones := ch.Mode.AlertTones(); tones != nil {
		return ToneDetector{Tones: tones}
	}
	return ThresholdDetector{Squelch: ch.Squelch}
}
