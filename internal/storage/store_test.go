package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "session.sqlite"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Sessions(t *testing.T) {
	store := testStore(t)

	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	config := map[string]any{"channels": 3}

	id, err := store.CreateSession(start, config)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id <= 0 {
		t.Fatalf("session id = %d", id)
	}

	session, err := store.Session(id)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if !session.StartTime.Equal(start) {
		t.Errorf("start time = %v, want %v", session.StartTime, start)
	}
	if !session.Config.Valid || session.Config.String == "" {
		t.Error("session config not recorded")
	}

	sessions, err := store.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("Sessions() = %+v", sessions)
	}
}

func TestStore_ChannelEvents(t *testing.T) {
	store := testStore(t)

	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.CreateSession(start, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	events := []ChannelEventData{
		{
			SessionID:  id,
			Timestamp:  start.Add(time.Second),
			ChannelID:  "ch-1",
			Label:      "2m calling",
			Frequency:  146_520_000,
			Status:     "ACTIVE",
			RSSI:       sql.NullFloat64{Float64: -42.5, Valid: true},
			NoiseFloor: sql.NullFloat64{Float64: -101.2, Valid: true},
		},
		{
			SessionID: id,
			Timestamp: start.Add(4 * time.Second),
			ChannelID: "ch-1",
			Label:     "2m calling",
			Frequency: 146_520_000,
			Status:    "DWELL",
		},
	}
	if err = store.InsertChannelEvents(events); err != nil {
		t.Fatalf("InsertChannelEvents() error = %v", err)
	}

	got, err := store.ChannelEvents(id)
	if err != nil {
		t.Fatalf("ChannelEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Status != "ACTIVE" || got[1].Status != "DWELL" {
		t.Errorf("statuses = %s, %s", got[0].Status, got[1].Status)
	}
	if !got[0].RSSI.Valid || got[0].RSSI.Float64 != -42.5 {
		t.Errorf("rssi = %+v", got[0].RSSI)
	}
	if got[1].RSSI.Valid {
		t.Error("missing rssi recorded as valid")
	}
	if got[0].Timestamp.After(got[1].Timestamp) {
		t.Error("events not ordered by timestamp")
	}
}

func TestStore_ReceiverEvents(t *testing.T) {
	store := testStore(t)

	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.CreateSession(start, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	ev := ReceiverEventData{
		SessionID:  id,
		Timestamp:  start.Add(time.Second),
		ReceiverID: "rtl-0",
		Health:     "failed",
		WindowID:   sql.NullString{String: "w-1", Valid: true},
	}
	if err = store.InsertReceiverEvent(ev); err != nil {
		t.Fatalf("InsertReceiverEvent() error = %v", err)
	}

	got, err := store.ReceiverEvents(id)
	if err != nil {
		t.Fatalf("ReceiverEvents() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].ReceiverID != "rtl-0" || got[0].Health != "failed" || got[0].WindowID.String != "w-1" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestStore_InsertEmptyBatch(t *testing.T) {
	store := testStore(t)

	if err := store.InsertChannelEvents(nil); err != nil {
		t.Errorf("InsertChannelEvents(nil) error = %v", err)
	}
}
