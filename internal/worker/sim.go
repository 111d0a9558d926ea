package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimConfig describes a simulated worker used for loopback runs when
// no receiver hardware is attached.
type SimConfig struct {
	SampleRates []int64       `yaml:"sampleRates"`
	Interval    time.Duration `yaml:"interval"`   // status report interval
	NoiseFloor  float64       `yaml:"noiseFloor"` // dBFS
	BurstEvery  time.Duration `yaml:"burstEvery"` // 0 disables synthetic activity
	BurstLength time.Duration `yaml:"burstLength"`
}

// Sim is an in-process Worker that reports synthetic measurements:
// noise around the configured floor, with periodic signal bursts on
// the first channel of its window so the activity chain can be
// exercised end to end without hardware.
type Sim struct {
	id  string
	cfg SimConfig

	mu        sync.Mutex
	current   Assignment
	lastBurst time.Time

	status chan Status
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewSim creates a simulated worker.
func NewSim(id string, cfg SimConfig) *Sim {
	if len(cfg.SampleRates) == 0 {
		cfg.SampleRates = []int64{1_024_000, 2_048_000}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.NoiseFloor == 0 {
		cfg.NoiseFloor = -100
	}
	return &Sim{
		id:     id,
		cfg:    cfg,
		status: make(chan Status, statusBuffer),
	}
}

func (s *Sim) ID() string { return s.id }

// Start begins the report loop.
func (s *Sim) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.status)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.report(now)
			}
		}
	}()

	return nil
}

func (s *Sim) Capability(ctx context.Context) (Capability, error) {
	return Capability{SampleRates: s.cfg.SampleRates}, nil
}

func (s *Sim) Assign(a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrWorkerClosed
	}
	s.current = a
	return nil
}

func (s *Sim) Status() <-chan Status { return s.status }

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	return nil
}

func (s *Sim) report(now time.Time) {
	s.mu.Lock()
	a := s.current
	bursting := false
	if s.cfg.BurstEvery > 0 {
		if now.Sub(s.lastBurst) > s.cfg.BurstEvery {
			s.lastBurst = now
		}
		bursting = now.Sub(s.lastBurst) < s.cfg.BurstLength
	}
	s.mu.Unlock()

	st := Status{
		WorkerID: s.id,
		Time:     now,
		WindowID: a.WindowID,
	}
	for i, ch := range a.Channels {
		rssi := s.cfg.NoiseFloor + rand.Float64()*3
		if bursting && i == 0 {
			rssi = s.cfg.NoiseFloor + 40
		}
		st.Readings = append(st.Readings, ChannelReading{
			ChannelID:  ch.ID,
			RSSI:       rssi,
			Tone:       bursting && i == 0 && len(ch.Tones) > 0,
			NoiseFloor: s.cfg.NoiseFloor + rand.Float64(),
		})
	}

	select {
	case s.status <- st:
	default:
	}
}
