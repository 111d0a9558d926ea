package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestProc_ParseCapabilityFrame(t *testing.T) {
	p := NewProc("rtl-0", ProcConfig{})

	line := `{"type":"capability","data":{"sampleRates":[1024000,2048000]}}`
	if err := p.parseFrame(line); err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := p.Capability(ctx)
	if err != nil {
		t.Fatalf("Capability() error = %v", err)
	}
	if got := c.MaxBandwidth(2_560_000); got != 2_048_000 {
		t.Errorf("MaxBandwidth() = %d, want 2048000", got)
	}

	// A repeated handshake must not block or replace the first.
	if err = p.parseFrame(`{"type":"capability","data":{"sampleRates":[250000]}}`); err != nil {
		t.Errorf("repeated handshake error = %v", err)
	}
}

func TestProc_ParseStatusFrame(t *testing.T) {
	p := NewProc("rtl-0", ProcConfig{})

	line := `{"type":"status","data":{"windowId":"w-1","readings":[{"id":"ch-1","rssi":-42.5,"noiseFloor":-101,"tone":true}]}}`
	if err := p.parseFrame(line); err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}

	select {
	case s := <-p.Status():
		if s.WorkerID != "rtl-0" {
			t.Errorf("worker id = %s, want rtl-0 (stamped)", s.WorkerID)
		}
		if s.WindowID != "w-1" {
			t.Errorf("window id = %s", s.WindowID)
		}
		if s.Time.IsZero() {
			t.Error("missing report time not stamped")
		}
		if len(s.Readings) != 1 || s.Readings[0].RSSI != -42.5 || !s.Readings[0].Tone {
			t.Errorf("readings = %+v", s.Readings)
		}
	default:
		t.Fatal("no status report forwarded")
	}
}

func TestProc_ParseFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"malformed json", `{"type":"status"`},
		{"unknown type", `{"type":"telemetry","data":{}}`},
		{"bad capability payload", `{"type":"capability","data":[1,2]}`},
	}

	p := NewProc("rtl-0", ProcConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.parseFrame(tt.line); err == nil {
				t.Errorf("parseFrame(%q) accepted", tt.line)
			}
		})
	}
}

func TestProc_StatusBufferKeepsFIFO(t *testing.T) {
	p := NewProc("rtl-0", ProcConfig{})

	for i := 0; i < statusBuffer+5; i++ {
		line := fmt.Sprintf(`{"type":"status","data":{"windowId":"w-%d"}}`, i)
		if err := p.parseFrame(line); err != nil {
			t.Fatalf("parseFrame() error = %v", err)
		}
	}

	// The oldest reports survive; the overflow is dropped.
	first := <-p.Status()
	if first.WindowID != "w-0" {
		t.Errorf("first report = %s, want w-0", first.WindowID)
	}
	count := 1
	for {
		select {
		case <-p.Status():
			count++
		default:
			if count != statusBuffer {
				t.Errorf("got %d buffered reports, want %d", count, statusBuffer)
			}
			return
		}
	}
}

func TestProc_AssignWritesFrame(t *testing.T) {
	var buf bytes.Buffer

	p := NewProc("rtl-0", ProcConfig{})
	p.stdin = nopWriteCloser{&buf}
	p.running.Store(true)

	a := Assignment{WindowID: "w-1", Center: 146_600_000, Bandwidth: 2_048_000}
	if err := p.Assign(a); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Error("frame not newline terminated")
	}

	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		t.Fatalf("unmarshalling frame: %v", err)
	}
	if f.Type != "assign" {
		t.Errorf("frame type = %s, want assign", f.Type)
	}

	var got Assignment
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatalf("unmarshalling assignment: %v", err)
	}
	if got.WindowID != a.WindowID || got.Center != a.Center || got.Bandwidth != a.Bandwidth {
		t.Errorf("assignment = %+v, want %+v", got, a)
	}
}

func TestProc_AssignWhenClosed(t *testing.T) {
	p := NewProc("rtl-0", ProcConfig{})

	if err := p.Assign(Assignment{WindowID: "w-1"}); err != ErrWorkerClosed {
		t.Errorf("Assign() error = %v, want ErrWorkerClosed", err)
	}
}
