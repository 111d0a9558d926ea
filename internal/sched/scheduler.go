package sched

import (
	"sort"
	"time"

	"github.com/radiowatch/chanscan/internal/scan"
)

// Health is a receiver worker's liveness state.
type Health int

const (
	Healthy Health = iota
	Unresponsive
	Failed
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unresponsive:
		return "unresponsive"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Receiver is the scheduler's record of one worker: its capability and
// health. The scheduler owns these records exclusively.
type Receiver struct {
	ID        string
	Bandwidth int64 // maximum usable bandwidth, Hz
	Health    Health
	LastSeen  time.Time
}

// Decision is an assignment the scheduler wants pushed to a receiver.
// Window is nil when the receiver should go idle.
type Decision struct {
	Receiver string
	Window   *scan.Window
}

// Scheduler continuously maps scan windows onto receiver workers. The
// receiver-to-window and window-to-pinned-receiver relations are kept
// as two one-directional maps so either side can be rebuilt without
// dangling references. All methods must be called from a single
// goroutine (the coordinator tick).
type Scheduler struct {
	scanTime time.Duration

	windows map[string]*scan.Window
	order   []string // window ids in build order, for deterministic iteration

	receivers map[string]*Receiver
	rxOrder   []string

	assignment map[string]string // receiver id -> window id ("" = idle)
	pinned     map[string]string // window id -> receiver id (holds only)

	lastVisit  map[string]time.Time // window id -> rotation timestamp
	visitStart map[string]time.Time // window id -> when current assignment began
}

// New creates a scheduler. scanTime is how long a receiver listens on a
// quiet window before rotating; windows with a larger minimum scan time
// keep the receiver longer.
func New(scanTime time.Duration) *Scheduler {
	return &Scheduler{
		scanTime:   scanTime,
		windows:    make(map[string]*scan.Window),
		receivers:  make(map[string]*Receiver),
		assignment: make(map[string]string),
		pinned:     make(map[string]string),
		lastVisit:  make(map[string]time.Time),
		visitStart: make(map[string]time.Time),
	}
}

// UpsertReceiver registers a worker or refreshes its capability.
func (s *Scheduler) UpsertReceiver(id string, bandwidth int64, now time.Time) {
	if rx, ok := s.receivers[id]; ok {
		rx.Bandwidth = bandwidth
		rx.LastSeen = now
		return
	}
	s.receivers[id] = &Receiver{ID: id, Bandwidth: bandwidth, Health: Healthy, LastSeen: now}
	s.rxOrder = append(s.rxOrder, id)
	s.assignment[id] = ""
}

// Receivers returns the registered receivers in registration order.
func (s *Scheduler) Receivers() []*Receiver {
	out := make([]*Receiver, 0, len(s.rxOrder))
	for _, id := range s.rxOrder {
		out = append(out, s.receivers[id])
	}
	return out
}

// MarkSeen records a status report from a receiver. A failed receiver
// reporting in is readmitted to the pool.
func (s *Scheduler) MarkSeen(id string, now time.Time) {
	rx, ok := s.receivers[id]
	if !ok {
		return
	}
	rx.LastSeen = now
	rx.Health = Healthy
}

// MarkFailed demotes a receiver and releases its assignment back to the
// rotation. Held windows are re-pinned on the next Step.
func (s *Scheduler) MarkFailed(id string) {
	rx, ok := s.receivers[id]
	if !ok {
		return
	}
	rx.Health = Failed
	s.release(id)
}

// release returns a receiver's window to the rotation. The window
// keeps its last-visit time, so it is picked up again soon.
func (s *Scheduler) release(id string) {
	s.assignment[id] = ""
}

// CheckLiveness fails receivers whose last report is older than the
// timeout and returns their ids.
func (s *Scheduler) CheckLiveness(now time.Time, timeout time.Duration) []string {
	var failed []string
	for _, id := range s.rxOrder {
		rx := s.receivers[id]
		if rx.Health == Failed {
			continue
		}
		if now.Sub(rx.LastSeen) > timeout {
			s.MarkFailed(id)
			failed = append(failed, id)
		}
	}
	return failed
}

// SetWindows replaces the window set after a rebuild. Scan history and
// current assignments survive for windows whose id (member set) is
// unchanged; assignments to vanished windows are released.
func (s *Scheduler) SetWindows(ws []*scan.Window, now time.Time) {
	next := make(map[string]*scan.Window, len(ws))
	order := make([]string, 0, len(ws))
	for _, w := range ws {
		next[w.ID] = w
		order = append(order, w.ID)
		if _, ok := s.lastVisit[w.ID]; !ok {
			s.lastVisit[w.ID] = time.Time{} // never visited sorts first
		}
	}

	for rxID, wID := range s.assignment {
		if wID != "" {
			if _, ok := next[wID]; !ok {
				s.assignment[rxID] = ""
			}
		}
	}
	for wID := range s.pinned {
		if _, ok := next[wID]; !ok {
			delete(s.pinned, wID)
		}
	}
	for wID := range s.lastVisit {
		if _, ok := next[wID]; !ok {
			delete(s.lastVisit, wID)
			delete(s.visitStart, wID)
		}
	}

	s.windows = next
	s.order = order
}

// AssignmentOf returns the window currently assigned to a receiver.
func (s *Scheduler) AssignmentOf(rxID string) string {
	return s.assignment[rxID]
}

// PinnedTo returns the receiver a held window is pinned to, if any.
func (s *Scheduler) PinnedTo(windowID string) (string, bool) {
	rx, ok := s.pinned[windowID]
	return rx, ok
}

// Unscanned returns held or rotating windows for which no healthy
// capable receiver exists. Surfaced as a standing warning, not an
// error.
func (s *Scheduler) Unscanned() []string {
	var out []string
	for _, wID := range s.order {
		w := s.windows[wID]
		capable := false
		for _, rxID := range s.rxOrder {
			rx := s.receivers[rxID]
			if rx.Health != Failed && rx.Bandwidth >= w.Bandwidth {
				capable = true
				break
			}
		}
		if !capable {
			out = append(out, wID)
		}
	}
	return out
}

// Step runs one scheduling decision pass. engaged reports whether any
// channel in the window is currently active (the receiver must not
// rotate away mid-transmission). The returned decisions are the
// assignments that changed this pass.
func (s *Scheduler) Step(now time.Time, engaged func(windowID string) bool) []Decision {
	var decisions []Decision

	// Held windows first: every hold must be on a live receiver before
	// any rotation decision is made.
	for _, wID := range s.order {
		w := s.windows[wID]
		if !w.Held {
			if _, ok := s.pinned[wID]; ok {
				// Hold released: the window stays where it is and
				// rejoins the rotation.
				delete(s.pinned, wID)
				s.visitStart[wID] = now
			}
			continue
		}

		if rxID, ok := s.pinned[wID]; ok {
			if rx := s.receivers[rxID]; rx != nil && rx.Health != Failed {
				continue // pin intact
			}
			delete(s.pinned, wID)
		}

		rxID := s.pickReceiverFor(w)
		if rxID == "" {
			continue // surfaced via Unscanned
		}
		if prev := s.assignment[rxID]; prev != "" && prev != wID {
			s.lastVisit[prev] = now
		}
		// When holds outnumber receivers the fallback receiver may have
		// been pinned elsewhere; that window re-pins on the next pass.
		for owID, orxID := range s.pinned {
			if orxID == rxID && owID != wID {
				delete(s.pinned, owID)
			}
		}
		s.assignment[rxID] = wID
		s.pinned[wID] = rxID
		s.visitStart[wID] = now
		decisions = append(decisions, Decision{Receiver: rxID, Window: w})
	}

	// Rotation for everything not pinned.
	for _, rxID := range s.rxOrder {
		rx := s.receivers[rxID]
		if rx.Health == Failed {
			continue
		}

		cur := s.assignment[rxID]
		if cur != "" {
			if s.pinned[cur] == rxID {
				continue // serving a hold
			}
			w := s.windows[cur]
			if w == nil {
				s.assignment[rxID] = ""
			} else {
				if engaged != nil && engaged(cur) {
					continue // audio in progress, stay put
				}
				listen := s.scanTime
				if w.MinScanTime > listen {
					listen = w.MinScanTime
				}
				if now.Sub(s.visitStart[cur]) < listen {
					continue // still inside the listen window
				}
				s.lastVisit[cur] = now
				s.assignment[rxID] = ""
			}
		}

		next := s.nextWindowFor(rx)
		if next == nil {
			continue
		}
		s.assignment[rxID] = next.ID
		s.visitStart[next.ID] = now
		decisions = append(decisions, Decision{Receiver: rxID, Window: next})
	}

	return decisions
}

// pickReceiverFor selects a healthy capable receiver for a held
// window, preferring its current receiver, then any receiver not
// already serving another hold.
func (s *Scheduler) pickReceiverFor(w *scan.Window) string {
	serving := make(map[string]bool, len(s.pinned))
	for _, rxID := range s.pinned {
		serving[rxID] = true
	}

	// Already watching this window? Keep it there.
	for _, rxID := range s.rxOrder {
		rx := s.receivers[rxID]
		if rx.Health != Failed && rx.Bandwidth >= w.Bandwidth && s.assignment[rxID] == w.ID {
			return rxID
		}
	}

	var fallback string
	for _, rxID := range s.rxOrder {
		rx := s.receivers[rxID]
		if rx.Health == Failed || rx.Bandwidth < w.Bandwidth {
			continue
		}
		if !serving[rxID] {
			return rxID
		}
		if fallback == "" {
			fallback = rxID
		}
	}
	return fallback
}

// nextWindowFor returns the oldest-visited unassigned rotating window
// the receiver can cover. Strict round-robin by last-visited time
// bounds the worst-case revisit latency.
func (s *Scheduler) nextWindowFor(rx *Receiver) *scan.Window {
	running := make(map[string]bool, len(s.assignment))
	for _, wID := range s.assignment {
		if wID != "" {
			running[wID] = true
		}
	}

	var candidates []*scan.Window
	for _, wID := range s.order {
		w := s.windows[wID]
		if w.Held || running[wID] || rx.Bandwidth < w.Bandwidth {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return s.lastVisit[candidates[i].ID].Before(s.lastVisit[candidates[j].ID])
	})
	return candidates[0]
}
