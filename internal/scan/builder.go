package scan

import (
	"fmt"
	"sort"
	"time"
)

// GuardBand is the margin in Hz kept between a window's edge channels
// and the receiver's usable band edge, so edge channels are not clipped
// by the anti-aliasing rolloff.
const GuardBand = 200_000

// ExcludedChannel records a channel the builder could not place.
type ExcludedChannel struct {
	Channel *Channel
	Reason  string
}

// BuildResult is the output of a window build pass.
type BuildResult struct {
	Windows  []*Window
	Excluded []ExcludedChannel
}

// BuildWindows packs the enabled channels into scan windows. It is a
// pure function of its inputs: channels are sorted by frequency and
// swept left to right, a new window opening whenever the next channel
// would push the current window past the usable span or the per-window
// member cap. A channel exactly on the span boundary extends the
// current window.
//
// A channel whose own mode bandwidth cannot fit any receiver is
// excluded with a reason rather than failing the build; a channel too
// far from every neighbour simply gets a single-member window.
func BuildWindows(channels []*Channel, minReceiverBandwidth int64, maxPerWindow int, now time.Time) (*BuildResult, error) {
	if minReceiverBandwidth <= 2*GuardBand {
		return nil, fmt.Errorf("receiver bandwidth %d Hz leaves no usable span inside %d Hz guard bands", minReceiverBandwidth, GuardBand)
	}
	if maxPerWindow < 1 {
		return nil, fmt.Errorf("invalid max channels per window: %d", maxPerWindow)
	}

	usable := minReceiverBandwidth - 2*GuardBand

	var res BuildResult
	var eligible []*Channel
	for _, c := range channels {
		if !c.IsEnabled(now) {
			continue
		}
		if c.Mode.Bandwidth()+2*GuardBand > minReceiverBandwidth {
			res.Excluded = append(res.Excluded, ExcludedChannel{
				Channel: c,
				Reason:  fmt.Sprintf("mode %s needs %d Hz, exceeds receiver bandwidth %d Hz", c.Mode, c.Mode.Bandwidth()+2*GuardBand, minReceiverBandwidth),
			})
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Frequency < eligible[j].Frequency
	})

	var members []*Channel
	flush := func() {
		if len(members) > 0 {
			res.Windows = append(res.Windows, newWindow(members, minReceiverBandwidth, GuardBand))
			members = nil
		}
	}

	for _, c := range eligible {
		if len(members) > 0 {
			span := c.Frequency - members[0].Frequency
			if span > usable || len(members) >= maxPerWindow {
				flush()
			}
		}
		members = append(members, c)
	}
	flush()

	return &res, nil
}
