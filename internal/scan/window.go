package scan

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var windowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("chanscan/window"))

// Window is a contiguous span of spectrum covering a group of channels
// that one receiver demodulates together. Windows are rebuilt wholesale
// on configuration changes and never mutated incrementally; the window
// id is derived from the member set so an unchanged group keeps its id
// (and therefore its scan history) across rebuilds.
type Window struct {
	ID        string
	Center    int64 // Hz, hardware tune frequency
	Bandwidth int64 // Hz, span plus guard bands
	Channels  []*Channel

	Held        bool // true if any member channel is held
	MinScanTime time.Duration
}

// newWindow builds a window around an ordered (by frequency) member set.
func newWindow(members []*Channel, minReceiverBandwidth int64, guard int64) *Window {
	low := members[0].Frequency - members[0].Mode.Bandwidth()/2
	high := members[len(members)-1].Frequency + members[len(members)-1].Mode.Bandwidth()/2

	bw := high - low + 2*guard
	if bw > minReceiverBandwidth {
		bw = minReceiverBandwidth
	}

	w := Window{
		ID:        windowID(members),
		Center:    low + (high-low)/2,
		Bandwidth: bw,
		Channels:  members,
	}
	for _, c := range members {
		if c.Held {
			w.Held = true
		}
		if t := c.Mode.MinScanTime(); t > w.MinScanTime {
			w.MinScanTime = t
		}
	}
	return &w
}

func windowID(members []*Channel) string {
	ids := make([]string, len(members))
	for i, c := range members {
		ids[i] = c.ID
	}
	return uuid.NewSHA1(windowNamespace, []byte(strings.Join(ids, ","))).String()
}

// ChannelIDs returns the member channel ids in frequency order.
func (w *Window) ChannelIDs() []string {
	ids := make([]string, len(w.Channels))
	for i, c := range w.Channels {
		ids[i] = c.ID
	}
	return ids
}

// Contains reports whether the channel id is a member of the window.
func (w *Window) Contains(channelID string) bool {
	for _, c := range w.Channels {
		if c.ID == channelID {
			return true
		}
	}
	return false
}
