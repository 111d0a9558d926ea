package app

import (
	"errors"
	"sort"
	"time"

	"github.com/radiowatch/chanscan/internal/storage"
)

// Segment is one uninterrupted stretch of a channel state.
type Segment struct {
	Start  time.Time
	End    time.Time
	Status string
}

// Lane is the recorded state history of one channel.
type Lane struct {
	ChannelID string
	Label     string
	Frequency int64
	Segments  []Segment
}

// TimelineData is the per-channel state history of one session,
// reconstructed from recorded state transitions.
type TimelineData struct {
	Start time.Time
	End   time.Time
	Lanes []*Lane
}

// NewTimelineData folds a session's channel events into per-channel
// lanes. Each event marks a transition; the state holds until the next
// event on the same channel, the last one until the session end.
func NewTimelineData(events []storage.ChannelEventData) (*TimelineData, error) {
	if len(events) == 0 {
		return nil, errors.New("session has no channel events")
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	tl := TimelineData{
		Start: events[0].Timestamp,
		End:   events[len(events)-1].Timestamp,
	}

	lanes := make(map[string]*Lane)
	for _, ev := range events {
		lane, ok := lanes[ev.ChannelID]
		if !ok {
			lane = &Lane{
				ChannelID: ev.ChannelID,
				Label:     ev.Label,
				Frequency: ev.Frequency,
			}
			lanes[ev.ChannelID] = lane
			tl.Lanes = append(tl.Lanes, lane)
		}

		if n := len(lane.Segments); n > 0 {
			lane.Segments[n-1].End = ev.Timestamp
			if lane.Segments[n-1].Status == ev.Status {
				continue // measurement refresh, not a transition
			}
		}
		lane.Segments = append(lane.Segments, Segment{Start: ev.Timestamp, Status: ev.Status})
	}

	for _, lane := range tl.Lanes {
		if n := len(lane.Segments); n > 0 && lane.Segments[n-1].End.IsZero() {
			lane.Segments[n-1].End = tl.End
		}
	}

	sort.SliceStable(tl.Lanes, func(i, j int) bool {
		if tl.Lanes[i].Frequency != tl.Lanes[j].Frequency {
			return tl.Lanes[i].Frequency < tl.Lanes[j].Frequency
		}
		return tl.Lanes[i].Label < tl.Lanes[j].Label
	})

	return &tl, nil
}

// Duration returns the covered time span.
func (tl *TimelineData) Duration() time.Duration {
	return tl.End.Sub(tl.Start)
}
