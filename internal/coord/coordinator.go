// Package coord implements the process-level control loop: it owns the
// channel, window and receiver tables, feeds worker measurements into
// the per-channel activity machines, runs one scheduler step per tick
// and republishes consolidated state to subscribers.
package coord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/radiowatch/chanscan/internal/activity"
	"github.com/radiowatch/chanscan/internal/scan"
	"github.com/radiowatch/chanscan/internal/sched"
	"github.com/radiowatch/chanscan/internal/storage"
	"github.com/radiowatch/chanscan/internal/worker"
)

// ErrNoReceivers is returned when the coordinator is started with no
// usable receiver workers. This is a startup precondition failure, not
// a runtime error.
var ErrNoReceivers = errors.New("no receivers configured")

const commandBuffer = 64

// Config carries the scheduler tuning parameters.
type Config struct {
	TickInterval         time.Duration
	ScanTime             time.Duration // listen time on a quiet window before rotating
	MaxChannelsPerWindow int
	MaxSampleRate        int64 // ceiling for usable receiver bandwidth, Hz
	LivenessTicks        int   // missed status reports before a receiver is failed
	NoiseFloorTC         time.Duration
	WarmupGrace          time.Duration
	CapabilityTimeout    time.Duration
}

func (c *Config) withDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.ScanTime <= 0 {
		c.ScanTime = 2 * time.Second
	}
	if c.MaxChannelsPerWindow <= 0 {
		c.MaxChannelsPerWindow = 16
	}
	if c.MaxSampleRate <= 0 {
		c.MaxSampleRate = 2_560_000
	}
	if c.LivenessTicks <= 0 {
		c.LivenessTicks = 5
	}
	if c.NoiseFloorTC <= 0 {
		c.NoiseFloorTC = time.Minute
	}
	if c.WarmupGrace <= 0 {
		c.WarmupGrace = 1500 * time.Millisecond
	}
	if c.CapabilityTimeout <= 0 {
		c.CapabilityTimeout = 10 * time.Second
	}
}

// WithLogger sets the logger for the coordinator.
func WithLogger(logger *slog.Logger) func(*Coordinator) {
	return func(c *Coordinator) {
		c.logger = logger.With(slog.String("component", "coordinator"))
	}
}

// WithStore enables session/event recording.
func WithStore(store *storage.Store) func(*Coordinator) {
	return func(c *Coordinator) {
		c.store = store
	}
}

// Coordinator owns all scheduling state. The tables are only ever
// touched from the tick goroutine; commands and worker status arrive
// through channels and are drained at tick boundaries.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	store     *storage.Store
	sessionID int64

	workers    map[string]worker.Worker
	rxOrder    []string
	observed   map[string]string // receiver id -> window id last reported
	lastPush   map[string]time.Time
	lastWindow map[string]string // receiver id -> window id last pushed

	channels  []*scan.Channel
	channelBy map[string]*scan.Channel
	machines  map[string]*activity.Machine

	windows  []*scan.Window
	windowBy map[string]*scan.Window
	windowOf map[string]string // channel id -> window id

	scheduler    *sched.Scheduler
	minBandwidth int64
	rebuild      bool

	commands chan Command
	statuses chan worker.Status
	done     chan struct{}

	subMu sync.Mutex
	subs  map[chan Update]struct{}
}

// New creates a coordinator over the configured channels.
func New(cfg Config, channels []*scan.Channel, options ...func(*Coordinator)) *Coordinator {
	cfg.withDefaults()

	c := Coordinator{
		cfg:        cfg,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:    make(map[string]worker.Worker),
		observed:   make(map[string]string),
		lastPush:   make(map[string]time.Time),
		lastWindow: make(map[string]string),
		channels:   channels,
		channelBy:  make(map[string]*scan.Channel, len(channels)),
		machines:   make(map[string]*activity.Machine, len(channels)),
		windowBy:   make(map[string]*scan.Window),
		windowOf:   make(map[string]string),
		scheduler:  sched.New(cfg.ScanTime),
		commands:   make(chan Command, commandBuffer),
		statuses:   make(chan worker.Status, commandBuffer),
		done:       make(chan struct{}),
		subs:       make(map[chan Update]struct{}),
	}

	for _, ch := range channels {
		c.channelBy[ch.ID] = ch
		c.machines[ch.ID] = activity.NewMachine(ch, cfg.NoiseFloorTC, cfg.WarmupGrace)
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// AddWorker registers a receiver worker. Must be called before Run.
func (c *Coordinator) AddWorker(w worker.Worker) {
	c.workers[w.ID()] = w
	c.rxOrder = append(c.rxOrder, w.ID())
}

// Subscribe registers a consumer of per-tick updates. Slow consumers
// miss updates rather than stalling the tick. The returned function
// cancels the subscription.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 4)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

// Command queues a manual override and blocks until the coordinator
// applies it (at most one tick later), returning any validation error.
func (c *Coordinator) Command(cmd Command) error {
	cmd.reply = make(chan error, 1)

	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// Run executes the control loop until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	if len(c.workers) == 0 {
		return ErrNoReceivers
	}

	now := time.Now()
	if err := c.handshake(ctx, now); err != nil {
		return err
	}

	if c.store != nil {
		id, err := c.store.CreateSession(now, c.channels)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		c.sessionID = id
	}

	if err := c.rebuildWindows(now); err != nil {
		return err
	}

	// Fan worker status reports into a single channel. Per-worker
	// FIFO order is preserved; ordering across workers is not needed.
	var wg sync.WaitGroup
	for _, id := range c.rxOrder {
		w := c.workers[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range w.Status() {
				select {
				case c.statuses <- st:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.logger.Info("scan loop started",
		slog.Int("channels", len(c.channels)),
		slog.Int("windows", len(c.windows)),
		slog.Int("receivers", len(c.rxOrder)),
		slog.Int64("minBandwidth", c.minBandwidth))

	for {
		select {
		case <-ctx.Done():
			c.drainCommands(time.Now(), make(map[string]bool)) // unblock pending callers
			wg.Wait()
			return nil
		case now = <-ticker.C:
			c.tick(now)
		}
	}
}

// handshake collects capability descriptors from every worker and
// derives the minimum usable bandwidth across the pool.
func (c *Coordinator) handshake(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CapabilityTimeout)
	defer cancel()

	for _, id := range c.rxOrder {
		w := c.workers[id]

		capability, err := w.Capability(ctx)
		if err != nil {
			return fmt.Errorf("receiver %s capability: %w", id, err)
		}

		bw := capability.MaxBandwidth(c.cfg.MaxSampleRate)
		if bw <= 0 {
			c.logger.Warn("receiver has no usable sample rate, excluding",
				slog.String("receiver", id))
			continue
		}

		c.scheduler.UpsertReceiver(id, bw, now)
		if c.minBandwidth == 0 || bw < c.minBandwidth {
			c.minBandwidth = bw
		}
	}

	if c.minBandwidth == 0 {
		return ErrNoReceivers
	}
	return nil
}

func (c *Coordinator) rebuildWindows(now time.Time) error {
	res, err := scan.BuildWindows(c.channels, c.minBandwidth, c.cfg.MaxChannelsPerWindow, now)
	if err != nil {
		return fmt.Errorf("building windows: %w", err)
	}

	for _, ex := range res.Excluded {
		c.logger.Warn("channel excluded from scanning",
			slog.String("channel", ex.Channel.ID),
			slog.String("label", ex.Channel.Label),
			slog.String("reason", ex.Reason))
	}

	c.windows = res.Windows
	clear(c.windowBy)
	clear(c.windowOf)
	for _, w := range res.Windows {
		c.windowBy[w.ID] = w
		for _, ch := range w.Channels {
			c.windowOf[ch.ID] = w.ID
		}
	}

	c.scheduler.SetWindows(res.Windows, now)
	c.rebuild = false

	c.logger.Info("scan windows rebuilt",
		slog.Int("windows", len(res.Windows)),
		slog.Int("excluded", len(res.Excluded)))
	return nil
}

// tick runs one control loop pass. Everything in here executes on a
// single goroutine.
func (c *Coordinator) tick(now time.Time) {
	var events []Event

	changed := make(map[string]bool)

	c.drainCommands(now, changed)
	c.drainStatus(now, changed)
	c.maintenance(now)

	if c.rebuild {
		if err := c.rebuildWindows(now); err != nil {
			c.logger.Error(err.Error())
		} else {
			events = append(events, Event{Type: EventWindowsRebuilt, Time: now})
		}
	}

	// Dwell deadlines expire even without fresh measurements.
	for id, m := range c.machines {
		if m.Tick(now) {
			changed[id] = true
		}
	}

	timeout := time.Duration(c.cfg.LivenessTicks) * c.cfg.TickInterval
	for _, rxID := range c.scheduler.CheckLiveness(now, timeout) {
		c.logger.Warn("receiver unresponsive, marked failed", slog.String("receiver", rxID))
		events = append(events, c.receiverEvent(rxID, now))
	}

	prev := make(map[string]string, len(c.rxOrder))
	for _, rxID := range c.rxOrder {
		prev[rxID] = c.scheduler.AssignmentOf(rxID)
	}

	decisions := c.scheduler.Step(now, c.engaged)
	for _, dec := range decisions {
		c.push(dec, now)
		events = append(events, Event{Type: EventWindowStart, Time: now, WindowID: dec.Window.ID})
	}
	for _, rxID := range c.rxOrder {
		if cur := c.scheduler.AssignmentOf(rxID); prev[rxID] != "" && prev[rxID] != cur {
			events = append(events, Event{Type: EventWindowDone, Time: now, WindowID: prev[rxID]})
		}
	}

	c.retryAssignments(now)

	soloActive := false
	for _, ch := range c.channels {
		if ch.Soloed {
			soloActive = true
			break
		}
	}

	snap := c.snapshot(now, soloActive)
	for id := range changed {
		cs := c.channelSnapshot(c.channelBy[id], soloActive)
		events = append(events, Event{Type: EventChannelStatus, Time: now, Channel: &cs})
	}

	c.record(now, changed, events)
	c.publish(Update{Snapshot: snap, Events: events})
}

func (c *Coordinator) engaged(windowID string) bool {
	w := c.windowBy[windowID]
	if w == nil {
		return false
	}
	for _, ch := range w.Channels {
		if m := c.machines[ch.ID]; m != nil && m.Engaged() {
			return true
		}
	}
	return false
}

func (c *Coordinator) push(dec sched.Decision, now time.Time) {
	w, ok := c.workers[dec.Receiver]
	if !ok {
		return
	}
	if err := w.Assign(worker.NewAssignment(dec.Window)); err != nil {
		// Fire and forget: the retry pass re-sends while the observed
		// assignment differs from the desired one.
		c.logger.Warn("pushing assignment failed",
			slog.String("receiver", dec.Receiver),
			slog.String("window", dec.Window.ID),
			slog.String("error", err.Error()))
	}
	c.lastPush[dec.Receiver] = now

	// A re-send of the current window is not a retune; only a genuine
	// window change restarts the members' warm-up grace.
	if c.lastWindow[dec.Receiver] != dec.Window.ID {
		c.lastWindow[dec.Receiver] = dec.Window.ID
		for _, ch := range dec.Window.Channels {
			c.machines[ch.ID].NoteAssigned(now)
		}
	}
}

// retryAssignments re-sends the desired assignment to any receiver
// whose last report shows a different window. Assignments are
// idempotent so a duplicate is harmless.
func (c *Coordinator) retryAssignments(now time.Time) {
	for _, rxID := range c.rxOrder {
		want := c.scheduler.AssignmentOf(rxID)
		if want == "" || c.observed[rxID] == want {
			continue
		}
		if now.Sub(c.lastPush[rxID]) < 2*c.cfg.TickInterval {
			continue // give the last push a chance to land
		}
		w := c.windowBy[want]
		if w == nil {
			continue
		}
		c.push(sched.Decision{Receiver: rxID, Window: w}, now)
	}
}

func (c *Coordinator) drainCommands(now time.Time, changed map[string]bool) {
	for {
		select {
		case cmd := <-c.commands:
			err := c.apply(cmd, now, changed)
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if err != nil {
				c.logger.Warn("command rejected",
					slog.String("command", cmd.String()),
					slog.String("error", err.Error()))
			}
		default:
			return
		}
	}
}

func (c *Coordinator) apply(cmd Command, now time.Time, changed map[string]bool) error {
	ch, ok := c.channelBy[cmd.ChannelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, cmd.ChannelID)
	}
	m := c.machines[cmd.ChannelID]

	switch cmd.Type {
	case CmdHold:
		if m.SetHold(cmd.On, now) {
			changed[cmd.ChannelID] = true
		}
		c.refreshWindowHold(ch)

	case CmdMute:
		ch.Muted = cmd.On

	case CmdSolo:
		ch.Soloed = cmd.On

	case CmdEnable:
		if ch.Enabled != cmd.On {
			c.rebuild = true
		}
		ch.Enabled = cmd.On
		ch.DisabledUntil = time.Time{}

	case CmdDisableUntil:
		if !cmd.Until.After(now) {
			return fmt.Errorf("disableUntil timestamp %s is in the past", cmd.Until.Format(time.RFC3339))
		}
		ch.DisabledUntil = cmd.Until
		c.rebuild = true

	case CmdForceActive:
		if m.SetForceActive(cmd.On, now) {
			changed[cmd.ChannelID] = true
		}

	default:
		return fmt.Errorf("unknown command type '%s'", cmd.Type)
	}

	return nil
}

// refreshWindowHold recomputes the held flag of the channel's window
// after a hold command.
func (c *Coordinator) refreshWindowHold(ch *scan.Channel) {
	wID, ok := c.windowOf[ch.ID]
	if !ok {
		return
	}
	w := c.windowBy[wID]

	held := false
	for _, member := range w.Channels {
		if member.Held {
			held = true
			break
		}
	}
	w.Held = held
}

func (c *Coordinator) drainStatus(now time.Time, changed map[string]bool) {
	for {
		select {
		case st := <-c.statuses:
			c.scheduler.MarkSeen(st.WorkerID, now)
			c.observed[st.WorkerID] = st.WindowID

			// Stale reports for a window the receiver has already been
			// rotated off must not flip channel states.
			if st.WindowID == "" || st.WindowID != c.scheduler.AssignmentOf(st.WorkerID) {
				continue
			}

			for _, r := range st.Readings {
				m, ok := c.machines[r.ChannelID]
				if !ok {
					continue
				}
				meas := activity.Measurement{
					Time:       st.Time,
					RSSI:       r.RSSI,
					Tone:       r.Tone,
					NoiseFloor: r.NoiseFloor,
				}
				if m.Observe(meas, now) {
					changed[r.ChannelID] = true
				}
			}
		default:
			return
		}
	}
}

// maintenance re-enables channels whose timed disable has expired.
func (c *Coordinator) maintenance(now time.Time) {
	for _, ch := range c.channels {
		if !ch.DisabledUntil.IsZero() && !now.Before(ch.DisabledUntil) {
			c.logger.Info("timed disable expired, re-enabling channel",
				slog.String("channel", ch.ID), slog.String("label", ch.Label))
			ch.DisabledUntil = time.Time{}
			ch.Enabled = true
			c.rebuild = true
		}
	}
}

func (c *Coordinator) channelSnapshot(ch *scan.Channel, soloActive bool) ChannelSnapshot {
	m := c.machines[ch.ID]
	rssi, hasRSSI := m.RSSI()
	return ChannelSnapshot{
		ID:            ch.ID,
		Label:         ch.Label,
		Frequency:     ch.Frequency,
		Mode:          ch.Mode,
		Status:        m.Status().String(),
		RSSI:          rssi,
		HasRSSI:       hasRSSI,
		NoiseFloor:    m.NoiseFloor(),
		Enabled:       ch.Enabled,
		Muted:         ch.Muted,
		Soloed:        ch.Soloed,
		Held:          ch.Held,
		ForceActive:   ch.ForceActive,
		DisabledUntil: ch.DisabledUntil,
		Audible:       m.Audible(soloActive),
	}
}

func (c *Coordinator) receiverEvent(rxID string, now time.Time) Event {
	var rs ReceiverSnapshot
	for _, rx := range c.scheduler.Receivers() {
		if rx.ID == rxID {
			rs = ReceiverSnapshot{
				ID:        rx.ID,
				Bandwidth: rx.Bandwidth,
				Health:    rx.Health.String(),
				Window:    c.scheduler.AssignmentOf(rx.ID),
			}
			break
		}
	}
	return Event{Type: EventReceiverHealth, Time: now, Receiver: &rs}
}

func (c *Coordinator) snapshot(now time.Time, soloActive bool) *Snapshot {
	snap := Snapshot{Time: now}

	for _, ch := range c.channels {
		snap.Channels = append(snap.Channels, c.channelSnapshot(ch, soloActive))
	}

	unscanned := make(map[string]bool)
	for _, wID := range c.scheduler.Unscanned() {
		unscanned[wID] = true
	}

	assignedBy := make(map[string]string) // window id -> receiver id
	for _, rx := range c.scheduler.Receivers() {
		if wID := c.scheduler.AssignmentOf(rx.ID); wID != "" {
			assignedBy[wID] = rx.ID
		}
		snap.Receivers = append(snap.Receivers, ReceiverSnapshot{
			ID:        rx.ID,
			Bandwidth: rx.Bandwidth,
			Health:    rx.Health.String(),
			Window:    c.scheduler.AssignmentOf(rx.ID),
		})
	}

	for _, w := range c.windows {
		snap.Windows = append(snap.Windows, WindowSnapshot{
			ID:        w.ID,
			Center:    w.Center,
			Bandwidth: w.Bandwidth,
			Channels:  w.ChannelIDs(),
			Held:      w.Held,
			Receiver:  assignedBy[w.ID],
			Unscanned: unscanned[w.ID],
		})
	}

	return &snap
}

// record appends the tick's state changes to the session log.
func (c *Coordinator) record(now time.Time, changed map[string]bool, events []Event) {
	if c.store == nil {
		return
	}

	var chEvents []storage.ChannelEventData
	for id := range changed {
		ch := c.channelBy[id]
		m := c.machines[id]
		rssi, hasRSSI := m.RSSI()
		chEvents = append(chEvents, storage.ChannelEventData{
			SessionID:  c.sessionID,
			Timestamp:  now,
			ChannelID:  ch.ID,
			Label:      ch.Label,
			Frequency:  ch.Frequency,
			Status:     m.Status().String(),
			RSSI:       sql.NullFloat64{Float64: rssi, Valid: hasRSSI},
			NoiseFloor: sql.NullFloat64{Float64: m.NoiseFloor(), Valid: true},
		})
	}
	if err := c.store.InsertChannelEvents(chEvents); err != nil {
		c.logger.Error(err.Error())
	}

	for _, ev := range events {
		if ev.Type != EventReceiverHealth || ev.Receiver == nil {
			continue
		}
		err := c.store.InsertReceiverEvent(storage.ReceiverEventData{
			SessionID:  c.sessionID,
			Timestamp:  now,
			ReceiverID: ev.Receiver.ID,
			Health:     ev.Receiver.Health,
			WindowID:   sql.NullString{String: ev.Receiver.Window, Valid: ev.Receiver.Window != ""},
		})
		if err != nil {
			c.logger.Error(err.Error())
		}
	}
}

func (c *Coordinator) publish(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for ch := range c.subs {
		select {
		case ch <- u:
		default: // subscriber is behind, it will catch up on the next snapshot
		}
	}
}
