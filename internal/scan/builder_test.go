package scan

import (
	"testing"
	"time"
)

func mkChannel(id string, freqHz int64, mode Mode) *Channel {
	return &Channel{
		ID:        id,
		Frequency: freqHz,
		Label:     id,
		Mode:      mode,
		DwellTime: 3 * time.Second,
		Squelch:   8,
		Enabled:   true,
	}
}

func TestBuildWindows_Packing(t *testing.T) {
	now := time.Now()

	channels := []*Channel{
		mkChannel("c1", 146_520_000, ModeFM),
		mkChannel("c2", 144_390_000, ModeFM),
		mkChannel("c3", 147_000_000, ModeFM),
		mkChannel("c4", 467_562_500, ModeNFM),
		mkChannel("c5", 462_675_000, ModeNFM),
	}

	const rxBandwidth = 2_000_000
	res, err := BuildWindows(channels, rxBandwidth, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Excluded) != 0 {
		t.Fatalf("expected no exclusions, got %d", len(res.Excluded))
	}
	if len(res.Windows) < 2 {
		t.Fatalf("expected the VHF and UHF clusters split into at least 2 windows, got %d", len(res.Windows))
	}

	seen := make(map[string]int)
	for _, w := range res.Windows {
		if w.Bandwidth > rxBandwidth {
			t.Errorf("window %s bandwidth %d exceeds receiver bandwidth %d", w.ID, w.Bandwidth, rxBandwidth)
		}
		if len(w.Channels) > 16 {
			t.Errorf("window %s has %d channels", w.ID, len(w.Channels))
		}

		span := w.Channels[len(w.Channels)-1].Frequency - w.Channels[0].Frequency
		if span+2*GuardBand > rxBandwidth {
			t.Errorf("window %s span %d does not fit receiver bandwidth with guards", w.ID, span)
		}

		vhf, uhf := false, false
		for _, c := range w.Channels {
			seen[c.ID]++
			if c.Frequency < 200_000_000 {
				vhf = true
			} else {
				uhf = true
			}
		}
		if vhf && uhf {
			t.Errorf("window %s mixes VHF and UHF channels", w.ID)
		}
	}
	for _, c := range channels {
		if seen[c.ID] != 1 {
			t.Errorf("channel %s placed %d times, want exactly once", c.ID, seen[c.ID])
		}
	}
}

func TestBuildWindows_MemberCap(t *testing.T) {
	now := time.Now()

	var channels []*Channel
	for i := 0; i < 10; i++ {
		channels = append(channels, mkChannel(string(rune('a'+i)), 144_000_000+int64(i)*25_000, ModeNFM))
	}

	res, err := BuildWindows(channels, 2_000_000, 4, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Windows) != 3 {
		t.Fatalf("expected 3 windows for 10 channels capped at 4, got %d", len(res.Windows))
	}
	for _, w := range res.Windows {
		if len(w.Channels) > 4 {
			t.Errorf("window %s has %d members, cap is 4", w.ID, len(w.Channels))
		}
	}
}

func TestBuildWindows_BoundaryExtendsWindow(t *testing.T) {
	now := time.Now()

	// Second channel sits exactly at the edge of the usable span.
	const rxBandwidth = 2_000_000
	usable := int64(rxBandwidth - 2*GuardBand)

	channels := []*Channel{
		mkChannel("lo", 144_000_000, ModeNFM),
		mkChannel("hi", 144_000_000+usable, ModeNFM),
	}

	res, err := BuildWindows(channels, rxBandwidth, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Windows) != 1 {
		t.Fatalf("boundary channel should extend the window, got %d windows", len(res.Windows))
	}
}

func TestBuildWindows_DistantChannelGetsOwnWindow(t *testing.T) {
	now := time.Now()

	channels := []*Channel{
		mkChannel("a", 144_000_000, ModeNFM),
		mkChannel("b", 800_000_000, ModeNFM),
	}

	res, err := BuildWindows(channels, 2_000_000, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Windows) != 2 {
		t.Fatalf("expected 2 single-member windows, got %d", len(res.Windows))
	}
	for _, w := range res.Windows {
		if len(w.Channels) != 1 {
			t.Errorf("window %s should have exactly one member", w.ID)
		}
	}
}

func TestBuildWindows_WideModeExcluded(t *testing.T) {
	now := time.Now()

	channels := []*Channel{
		mkChannel("bfm", 99_500_000, ModeBFMEAS),
		mkChannel("nfm", 144_390_000, ModeNFM),
	}

	// 500 kHz receiver: BFM (200 kHz + guards) cannot fit even alone.
	res, err := BuildWindows(channels, 500_000, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].Channel.ID != "bfm" {
		t.Fatalf("expected bfm excluded, got %+v", res.Excluded)
	}
	if len(res.Windows) != 1 {
		t.Fatalf("expected nfm channel still placed, got %d windows", len(res.Windows))
	}
}

func TestBuildWindows_SkipsDisabled(t *testing.T) {
	now := time.Now()

	off := mkChannel("off", 144_000_000, ModeNFM)
	off.Enabled = false

	timed := mkChannel("timed", 144_100_000, ModeNFM)
	timed.DisabledUntil = now.Add(time.Hour)

	on := mkChannel("on", 144_200_000, ModeNFM)

	res, err := BuildWindows([]*Channel{off, timed, on}, 2_000_000, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if len(res.Windows) != 1 || len(res.Windows[0].Channels) != 1 || res.Windows[0].Channels[0].ID != "on" {
		t.Fatalf("expected only the enabled channel placed, got %+v", res.Windows)
	}
}

func TestBuildWindows_StableIDs(t *testing.T) {
	now := time.Now()

	channels := []*Channel{
		mkChannel("a", 144_000_000, ModeNFM),
		mkChannel("b", 144_100_000, ModeNFM),
	}

	first, err := BuildWindows(channels, 2_000_000, 16, now)
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	second, err := BuildWindows(channels, 2_000_000, 16, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("BuildWindows: %v", err)
	}
	if first.Windows[0].ID != second.Windows[0].ID {
		t.Errorf("same member set should produce the same window id across rebuilds")
	}
}
