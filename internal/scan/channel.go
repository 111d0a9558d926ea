package scan

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the demodulation mode of a channel. The mode decides which
// detector the activity machine runs and how much spectrum the channel
// occupies inside its window.
type Mode string

const (
	ModeAM     Mode = "AM"
	ModeFM     Mode = "FM"
	ModeNFM    Mode = "NFM"
	ModeNOAA   Mode = "NOAA"
	ModeBFMEAS Mode = "BFM_EAS"
	ModeUSB    Mode = "USB"
	ModeLSB    Mode = "LSB"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeAM, ModeFM, ModeNFM, ModeNOAA, ModeBFMEAS, ModeUSB, ModeLSB:
		return m, nil
	}
	return "", fmt.Errorf("unknown channel mode '%s'", s)
}

// Bandwidth returns the occupied bandwidth in Hz for the mode.
func (m Mode) Bandwidth() int64 {
	switch m {
	case ModeFM, ModeNOAA:
		return 16_000 // 5 kHz deviation voice FM
	case ModeNFM:
		return 11_000 // 2.5 kHz deviation
	case ModeAM:
		return 10_000
	case ModeBFMEAS:
		return 200_000 // broadcast FM
	case ModeUSB, ModeLSB:
		return 3_000
	default:
		return 16_000
	}
}

// MinScanTime returns how long a receiver must sit on a window
// containing a channel of this mode before the channel's detector has
// seen enough signal. EAS tone detection needs time to accumulate FFT
// frames; plain squelch is effectively instant.
func (m Mode) MinScanTime() time.Duration {
	switch m {
	case ModeNOAA, ModeBFMEAS:
		return 5 * time.Second
	default:
		return 0
	}
}

// AlertTones returns the tone frequencies (Hz) a worker must watch for
// on channels of this mode, or nil for squelch-only modes.
func (m Mode) AlertTones() []float64 {
	switch m {
	case ModeNOAA:
		return []float64{1050}
	case ModeBFMEAS:
		return []float64{853, 960}
	default:
		return nil
	}
}

// Channel is a monitored frequency. Frequency and Mode are immutable
// after load; reconfiguration replaces the channel rather than editing
// it. The manual flags are owned by the coordinator and only ever
// mutated on its tick goroutine.
type Channel struct {
	ID        string
	Frequency int64 // Hz
	Label     string
	Mode      Mode

	AudioGain float64       // dB
	DwellTime time.Duration // listen time after activity stops
	Squelch   float64       // dB above the tracked noise floor

	// Manual flags
	Enabled       bool
	Muted         bool
	Soloed        bool
	Held          bool
	ForceActive   bool
	DisabledUntil time.Time // zero means no timed disable
}

// IsEnabled reports whether the channel participates in window
// building at the given instant, honoring a pending timed disable.
func (c *Channel) IsEnabled(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	if !c.DisabledUntil.IsZero() && now.Before(c.DisabledUntil) {
		return false
	}
	return true
}
