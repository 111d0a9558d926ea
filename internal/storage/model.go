package storage

import (
	"database/sql"
	"time"
)

// SessionData represents one scanner run.
type SessionData struct {
	ID        int64
	StartTime time.Time
	Config    sql.NullString
}

// ChannelEventData records a channel activity transition.
type ChannelEventData struct {
	ID         int64
	SessionID  int64
	Timestamp  time.Time
	ChannelID  string
	Label      string
	Frequency  int64
	Status     string
	RSSI       sql.NullFloat64
	NoiseFloor sql.NullFloat64
}

// ReceiverEventData records a receiver health or assignment change.
type ReceiverEventData struct {
	ID         int64
	SessionID  int64
	Timestamp  time.Time
	ReceiverID string
	Health     string
	WindowID   sql.NullString
}
