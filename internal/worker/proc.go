package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ParseErrorsThreshold defines the number of consecutive frame
	// parse errors allowed before the worker is shut down.
	ParseErrorsThreshold = 5

	statusBuffer = 16
)

var (
	// ErrTooManyParseErrors is returned when consecutive malformed
	// frames from the worker process exceed the threshold.
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when reading from the worker process
	// fails.
	ErrBrokenPipe = errors.New("broken pipe")
)

// frame is one JSON line on the worker process pipe.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ProcConfig describes how to launch a receiver worker process.
type ProcConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// WithLogger sets the logger for the worker.
func WithLogger(logger *slog.Logger) func(*Proc) {
	return func(p *Proc) {
		p.logger = logger.With(slog.String("worker", p.id))
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse
// errors.
func WithParseErrorsThreshold(threshold uint8) func(*Proc) {
	return func(p *Proc) {
		p.parseErrorsThreshold = threshold
	}
}

// Proc runs a receiver worker as a child process. The protocol is
// JSON lines: the child prints a capability frame on startup and
// status frames thereafter; assignments are written to its stdin. The
// demodulation chain lives entirely in the child.
type Proc struct {
	id     string
	config ProcConfig

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stdin   io.WriteCloser
	stdinMu sync.Mutex

	status     chan Status
	capability chan Capability

	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// NewProc creates a worker process handle with a discard logger.
func NewProc(id string, config ProcConfig, options ...func(*Proc)) *Proc {
	p := Proc{
		id:                   id,
		config:               config,
		status:               make(chan Status, statusBuffer),
		capability:           make(chan Capability, 1),
		parseErrorsThreshold: ParseErrorsThreshold,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

func (p *Proc) ID() string { return p.id }

// Start launches the worker process and begins pumping its pipes.
func (p *Proc) Start(ctx context.Context) error {
	if p.running.Load() {
		return fmt.Errorf("worker %s is already running", p.id)
	}
	p.running.Store(true)

	ctx, p.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.config.Command, p.config.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		p.running.Store(false)
		return fmt.Errorf("starting worker command: %w", err)
	}

	p.stdin = stdin

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.status)

		p.logger.Info("worker process started")

		done := make(chan error, 3)

		go p.handleStdout(stdout, done)
		go p.handleStderr(stderr, done)
		go p.handleCmdWait(cmd, done)

		for i := 0; i < cap(done); i++ {
			if err := <-done; err != nil {
				p.cancel()
				p.logger.Error(err.Error())
			}
		}
		close(done)

		p.logger.Info("worker process stopped")
		p.running.Store(false)
	}()

	return nil
}

// Capability blocks until the worker reports its sample rates.
func (p *Proc) Capability(ctx context.Context) (Capability, error) {
	select {
	case c := <-p.capability:
		return c, nil
	case <-ctx.Done():
		return Capability{}, fmt.Errorf("waiting for worker %s capability: %w", p.id, ctx.Err())
	}
}

// Assign writes the assignment frame to the worker's stdin.
func (p *Proc) Assign(a Assignment) error {
	if !p.running.Load() {
		return ErrWorkerClosed
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling assignment: %w", err)
	}
	f, err := json.Marshal(frame{Type: "assign", Data: data})
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	f = append(f, '\n')

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if _, err = p.stdin.Write(f); err != nil {
		return fmt.Errorf("%w: writing assignment: %w", ErrBrokenPipe, err)
	}
	return nil
}

func (p *Proc) Status() <-chan Status { return p.status }

// Close stops the worker process and waits for the pipe pumps.
func (p *Proc) Close() error {
	if !p.running.Load() {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

// handleStdout reads JSON frames from the worker, forwarding status
// reports and the capability handshake.
func (p *Proc) handleStdout(stdout io.Reader, done chan<- error) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := p.parseFrame(line); err != nil {
			parseErrors++
			p.logger.Warn(fmt.Sprintf("error parsing worker frame: %s", err.Error()), slog.String("line", line))

			if parseErrors >= p.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				return
			}
			continue
		}

		parseErrors = 0 // reset counter
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

func (p *Proc) parseFrame(line string) error {
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	switch f.Type {
	case "capability":
		var c Capability
		if err := json.Unmarshal(f.Data, &c); err != nil {
			return fmt.Errorf("decoding capability: %w", err)
		}
		select {
		case p.capability <- c:
		default: // repeated handshake, keep the first
		}

	case "status":
		var s Status
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return fmt.Errorf("decoding status: %w", err)
		}
		s.WorkerID = p.id
		if s.Time.IsZero() {
			s.Time = time.Now()
		}
		select {
		case p.status <- s:
		default:
			// Coordinator is behind; dropping the oldest-style would
			// reorder reports, dropping the newest keeps FIFO order.
			p.logger.Warn("status buffer full, dropping report")
		}

	default:
		return fmt.Errorf("unknown frame type '%s'", f.Type)
	}

	return nil
}

// handleStderr reads from stderr and logs lines.
func (p *Proc) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.logger.Warn(fmt.Sprintf("%s >> %s", p.id, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleCmdWait waits for the worker process to exit.
func (p *Proc) handleCmdWait(cmd *exec.Cmd, done chan<- error) {
	if err := cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		done <- fmt.Errorf("worker command exited with error: %w", err)
		return
	}

	done <- nil
}
