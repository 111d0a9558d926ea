package coord

import (
	"time"

	"github.com/radiowatch/chanscan/internal/scan"
)

// ChannelSnapshot is the immutable published view of one channel.
type ChannelSnapshot struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Frequency int64     `json:"frequency"`
	Mode      scan.Mode `json:"mode"`

	Status     string  `json:"status"`
	RSSI       float64 `json:"rssi"`
	HasRSSI    bool    `json:"hasRssi"`
	NoiseFloor float64 `json:"noiseFloor"`

	Enabled       bool      `json:"enabled"`
	Muted         bool      `json:"muted"`
	Soloed        bool      `json:"soloed"`
	Held          bool      `json:"held"`
	ForceActive   bool      `json:"forceActive"`
	DisabledUntil time.Time `json:"disabledUntil,omitempty"`

	// Audible marks the channel eligible for audio output this tick;
	// the mixer decides final routing.
	Audible bool `json:"audible"`
}

// WindowSnapshot is the published view of one scan window.
type WindowSnapshot struct {
	ID        string   `json:"id"`
	Center    int64    `json:"center"`
	Bandwidth int64    `json:"bandwidth"`
	Channels  []string `json:"channels"`
	Held      bool     `json:"held"`
	Receiver  string   `json:"receiver,omitempty"`
	Unscanned bool     `json:"unscanned,omitempty"`
}

// ReceiverSnapshot is the published view of one receiver worker.
type ReceiverSnapshot struct {
	ID        string `json:"id"`
	Bandwidth int64  `json:"bandwidth"`
	Health    string `json:"health"`
	Window    string `json:"window,omitempty"`
}

// Snapshot is the consolidated state published every tick. Snapshots
// are value copies: subscribers never receive references into live
// state.
type Snapshot struct {
	Time      time.Time          `json:"time"`
	Channels  []ChannelSnapshot  `json:"channels"`
	Windows   []WindowSnapshot   `json:"windows"`
	Receivers []ReceiverSnapshot `json:"receivers"`
}

// EventType names a targeted change event.
type EventType string

const (
	EventChannelStatus  EventType = "ChannelStatus"
	EventReceiverHealth EventType = "ReceiverHealth"
	EventWindowStart    EventType = "ScanWindowStart"
	EventWindowDone     EventType = "ScanWindowDone"
	EventWindowsRebuilt EventType = "ScanWindowsRebuilt"
)

// Event is a targeted change notification so consumers do not have to
// diff full snapshots.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	Channel  *ChannelSnapshot  `json:"channel,omitempty"`
	Receiver *ReceiverSnapshot `json:"receiver,omitempty"`
	WindowID string            `json:"windowId,omitempty"`
}

// Update is what subscribers receive each tick: the full snapshot and
// the change events that occurred during the tick.
type Update struct {
	Snapshot *Snapshot `json:"snapshot"`
	Events   []Event   `json:"events,omitempty"`
}
