package app

import (
	"testing"
	"time"

	"github.com/radiowatch/chanscan/internal/storage"
)

func event(at time.Time, channelID string, freq int64, status string) storage.ChannelEventData {
	return storage.ChannelEventData{
		Timestamp: at,
		ChannelID: channelID,
		Label:     channelID,
		Frequency: freq,
		Status:    status,
	}
}

func TestNewTimelineData(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	events := []storage.ChannelEventData{
		event(start, "uhf", 462_675_000, "IDLE"),
		event(start, "vhf", 146_520_000, "IDLE"),
		event(start.Add(10*time.Second), "vhf", 146_520_000, "ACTIVE"),
		event(start.Add(25*time.Second), "vhf", 146_520_000, "DWELL"),
		event(start.Add(28*time.Second), "vhf", 146_520_000, "IDLE"),
		event(start.Add(30*time.Second), "uhf", 462_675_000, "HOLD"),
	}

	tl, err := NewTimelineData(events)
	if err != nil {
		t.Fatalf("NewTimelineData() error = %v", err)
	}

	if !tl.Start.Equal(start) || !tl.End.Equal(start.Add(30*time.Second)) {
		t.Errorf("span = %v..%v", tl.Start, tl.End)
	}
	if len(tl.Lanes) != 2 {
		t.Fatalf("got %d lanes, want 2", len(tl.Lanes))
	}

	// Lanes ordered by frequency
	if tl.Lanes[0].ChannelID != "vhf" || tl.Lanes[1].ChannelID != "uhf" {
		t.Fatalf("lane order = %s, %s", tl.Lanes[0].ChannelID, tl.Lanes[1].ChannelID)
	}

	vhf := tl.Lanes[0]
	want := []struct {
		status string
		start  time.Duration
		end    time.Duration
	}{
		{"IDLE", 0, 10 * time.Second},
		{"ACTIVE", 10 * time.Second, 25 * time.Second},
		{"DWELL", 25 * time.Second, 28 * time.Second},
		{"IDLE", 28 * time.Second, 30 * time.Second},
	}
	if len(vhf.Segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(vhf.Segments), len(want), vhf.Segments)
	}
	for i, w := range want {
		seg := vhf.Segments[i]
		if seg.Status != w.status || !seg.Start.Equal(start.Add(w.start)) || !seg.End.Equal(start.Add(w.end)) {
			t.Errorf("segment %d = %+v, want %s %v..%v", i, seg, w.status, w.start, w.end)
		}
	}

	// Last segment of every lane runs to the session end
	uhf := tl.Lanes[1]
	if got := uhf.Segments[len(uhf.Segments)-1].End; !got.Equal(tl.End) {
		t.Errorf("last segment end = %v, want %v", got, tl.End)
	}
}

func TestNewTimelineData_RefreshIsNotTransition(t *testing.T) {
	start := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	events := []storage.ChannelEventData{
		event(start, "ch", 146_520_000, "ACTIVE"),
		event(start.Add(time.Second), "ch", 146_520_000, "ACTIVE"),
		event(start.Add(2*time.Second), "ch", 146_520_000, "ACTIVE"),
	}

	tl, err := NewTimelineData(events)
	if err != nil {
		t.Fatalf("NewTimelineData() error = %v", err)
	}
	if got := len(tl.Lanes[0].Segments); got != 1 {
		t.Errorf("got %d segments, want 1 merged", got)
	}
}

func TestNewTimelineData_Empty(t *testing.T) {
	if _, err := NewTimelineData(nil); err == nil {
		t.Error("NewTimelineData() accepted empty session")
	}
}
