package serialgcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap/zaptest"
)

// fakePort answers Marlin commands from an in-memory machine.
type fakePort struct {
	mu       sync.Mutex
	out      bytes.Buffer
	in       bytes.Buffer
	position [3]float64
	relative bool
	reject   string
	closed   bool
	commands []string
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.in.Write(b)
	for {
		line, err := p.in.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			p.in.WriteString(line)
			break
		}
		p.handle(strings.TrimSpace(line))
	}
	return len(b), nil
}

func (p *fakePort) handle(cmd string) {
	p.commands = append(p.commands, cmd)

	if p.reject != "" && strings.HasPrefix(cmd, p.reject) {
		p.out.WriteString("Error:Printer halted. kill() called!\nok\n")
		return
	}

	fields := strings.Fields(cmd)
	switch fields[0] {
	case "M115":
		p.out.WriteString("FIRMWARE_NAME:Marlin 2.1.2 (Github) SOURCE_CODE_URL:github.com/MarlinFirmware/Marlin\n")
	case "G90":
		p.relative = false
	case "G91":
		p.relative = true
	case "G1", "G92":
		for _, f := range fields[1:] {
			idx := strings.Index("XYZ", f[:1])
			if idx < 0 {
				continue
			}
			v, _ := strconv.ParseFloat(f[1:], 64)
			if fields[0] == "G1" && p.relative {
				p.position[idx] += v
			} else {
				p.position[idx] = v
			}
		}
	case "M400":
		p.out.WriteString("echo:busy: processing\n")
	case "M114":
		fmt.Fprintf(&p.out, "X:%.2f Y:%.2f Z:%.2f E:0.00 Count X:%d Y:%d Z:%d\n",
			p.position[0], p.position[1], p.position[2],
			int(p.position[0]*80), int(p.position[1]*80), int(p.position[2]*400))
	}
	p.out.WriteString("ok\n")
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	n, _ := p.out.Read(b)
	p.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func newTestStage(t *testing.T, port *fakePort) *stage.Stage {
	t.Helper()
	logger := zaptest.NewLogger(t)

	open := func(Config) (io.ReadWriteCloser, error) { return port, nil }
	d := New(Config{Device: "/dev/null", Speed: 600, ReadTimeout: 2 * time.Second}, stage.DefaultAxes(), open, logger)

	s, err := stage.New("marlin", d, logger, stage.WithInversion(map[string]bool{"y": true}))
	if err != nil {
		t.Fatalf("stage.New failed: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConnectReadsPosition(t *testing.T) {
	port := &fakePort{position: [3]float64{4, 5.6, -1}}
	s := newTestStage(t, port)

	if got := s.Hardware().Position(); !got.Equal(stage.Position{"x": 4, "y": 6, "z": -1}) {
		t.Errorf("hardware position = %v", got)
	}
	if got := s.Position(); !got.Equal(stage.Position{"x": 4, "y": -6, "z": -1}) {
		t.Errorf("program position = %v", got)
	}
}

func TestMoves(t *testing.T) {
	port := &fakePort{}
	s := newTestStage(t, port)
	ctx := context.Background()

	if err := s.MoveRelative(ctx, stage.Position{"x": 3, "y": 2}, false); err != nil {
		t.Fatalf("MoveRelative failed: %v", err)
	}
	if got := s.Hardware().Position(); !got.Equal(stage.Position{"x": 3, "y": -2, "z": 0}) {
		t.Errorf("hardware position = %v", got)
	}

	if err := s.MoveAbsoluteSequence(ctx, []int{1, 1, 1}, false); err != nil {
		t.Fatalf("MoveAbsoluteSequence failed: %v", err)
	}
	if got := s.PositionSequence(); got[0] != 1 || got[1] != 1 || got[2] != 1 {
		t.Errorf("program position = %v", got)
	}

	want := []string{"G91", "G1 X3 Y-2 Z0 F600", "M400", "M114", "G90", "G1 X1 Y-1 Z1 F600", "M400", "M114"}
	sent := port.sent()
	// M115 and M114 from connect come first
	got := sent[2:]
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestZero(t *testing.T) {
	port := &fakePort{position: [3]float64{9, 9, 9}}
	s := newTestStage(t, port)

	if err := s.SetZeroPosition(context.Background()); err != nil {
		t.Fatalf("SetZeroPosition failed: %v", err)
	}
	if got := s.Position(); !got.Equal(stage.Position{"x": 0, "y": 0, "z": 0}) {
		t.Errorf("position = %v", got)
	}
}

func TestFirmwareError(t *testing.T) {
	port := &fakePort{}
	s := newTestStage(t, port)

	port.mu.Lock()
	port.reject = "G1"
	port.mu.Unlock()

	err := s.MoveRelative(context.Background(), stage.Position{"x": 1}, false)
	var fwErr *FirmwareError
	if !errors.As(err, &fwErr) {
		t.Fatalf("error = %v, want *FirmwareError", err)
	}
	if fwErr.Message != "Printer halted. kill() called!" {
		t.Errorf("message = %q", fwErr.Message)
	}
	if s.Moving() {
		t.Error("stage still moving after error")
	}

	// the port is still in sync
	port.mu.Lock()
	port.reject = ""
	port.mu.Unlock()
	if err := s.MoveRelative(context.Background(), stage.Position{"x": 1}, false); err != nil {
		t.Fatalf("MoveRelative after error failed: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	port := &fakePort{}
	logger := zaptest.NewLogger(t)
	d := New(Config{ReadTimeout: time.Second}, stage.DefaultAxes(), func(Config) (io.ReadWriteCloser, error) {
		return port, nil
	}, logger)

	if _, err := d.Command(context.Background(), "M114"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Command before connect = %v, want ErrNotConnected", err)
	}

	s, _ := stage.New("marlin", d, logger)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// a silent port: nothing answers
	silent := &silentPort{}
	d.mu.Lock()
	d.port = silent
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Command(ctx, "M114"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !silent.closed {
		t.Error("port not closed")
	}
}

type silentPort struct {
	closed bool
}

func (p *silentPort) Read(b []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *silentPort) Close() error {
	p.closed = true
	return nil
}

func TestParseM114(t *testing.T) {
	tests := []struct {
		line string
		want stage.Position
		ok   bool
	}{
		{"X:10.00 Y:0.00 Z:-2.49 E:0.00 Count X:800 Y:0 Z:-160", stage.Position{"x": 10, "y": 0, "z": -2}, true},
		{"X:0.50 Y:-0.50 Z:0.00", stage.Position{"x": 1, "y": -1, "z": 0}, true},
		{"X:1.00 Y:2.00", nil, false},
		{"echo:Unknown command", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseM114(tt.line, stage.DefaultAxes())
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
