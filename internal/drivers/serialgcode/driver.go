package serialgcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("serial port not connected")

// FirmwareError is an "Error:" line sent by the firmware.
type FirmwareError struct {
	Command string
	Message string
}

func (e *FirmwareError) Error() string {
	return fmt.Sprintf("firmware rejected %q: %s", e.Command, e.Message)
}

// Driver speaks the Marlin line protocol: every command is answered with
// "ok", position comes from M114.
type Driver struct {
	cfg    Config
	axes   stage.AxisSet
	open   Opener
	logger *zap.Logger

	mu      sync.Mutex
	port    io.ReadWriteCloser
	pending []byte
}

func New(cfg Config, axes stage.AxisSet, open Opener, logger *zap.Logger) *Driver {
	if open == nil {
		open = OpenSerial
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Driver{cfg: cfg, axes: axes, open: open, logger: logger}
}

func (d *Driver) Connect(ctx context.Context, hw *stage.Hardware) error {
	d.mu.Lock()
	if d.port == nil {
		port, err := d.open(d.cfg)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.port = port
		d.pending = nil
	}
	d.mu.Unlock()

	if err := d.CheckFirmware(ctx); err != nil {
		return err
	}
	return d.refresh(ctx, hw)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// CheckFirmware logs the M115 firmware name.
func (d *Driver) CheckFirmware(ctx context.Context) error {
	lines, err := d.Command(ctx, "M115")
	if err != nil {
		return fmt.Errorf("failed to query firmware: %w", err)
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "FIRMWARE_NAME:") {
			d.logger.Info("Serial stage connected",
				zap.String("device", d.cfg.Device),
				zap.String("firmware", line))
		}
	}
	return nil
}

func (d *Driver) HardwareMoveRelative(ctx context.Context, hw *stage.Hardware, deltas stage.Position, _ bool) error {
	return d.move(ctx, hw, "G91", deltas)
}

func (d *Driver) HardwareMoveAbsolute(ctx context.Context, hw *stage.Hardware, targets stage.Position, _ bool) error {
	return d.move(ctx, hw, "G90", targets)
}

func (d *Driver) SetZeroPosition(ctx context.Context, hw *stage.Hardware) error {
	var b strings.Builder
	b.WriteString("G92")
	for _, axis := range d.axes.Names() {
		fmt.Fprintf(&b, " %s0", strings.ToUpper(axis))
	}

	_, err := d.Command(ctx, b.String())
	if rerr := d.refresh(context.WithoutCancel(ctx), hw); err == nil {
		err = rerr
	}
	return err
}

// ReadPosition parses the M114 reply, e.g.
// "X:10.00 Y:0.00 Z:-2.00 E:0.00 Count X:800 Y:0 Z:-160".
func (d *Driver) ReadPosition(ctx context.Context) (stage.Position, error) {
	lines, err := d.Command(ctx, "M114")
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if pos, ok := parseM114(line, d.axes); ok {
			return pos, nil
		}
	}
	return nil, fmt.Errorf("no position in M114 reply %q", lines)
}

func parseM114(line string, axes stage.AxisSet) (stage.Position, bool) {
	// the stepper counts after "Count" are not in user units
	if i := strings.Index(line, "Count"); i >= 0 {
		line = line[:i]
	}

	pos := make(stage.Position, axes.Len())
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		axis := strings.ToLower(key)
		if !axes.Contains(axis) {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, false
		}
		pos[axis] = int(math.Round(v))
	}

	if len(pos) != axes.Len() {
		return nil, false
	}
	return pos, true
}

func (d *Driver) move(ctx context.Context, hw *stage.Hardware, mode string, p stage.Position) error {
	var b strings.Builder
	b.WriteString("G1")
	for _, axis := range d.axes.Names() {
		fmt.Fprintf(&b, " %s%d", strings.ToUpper(axis), p[axis])
	}
	if d.cfg.Speed > 0 {
		fmt.Fprintf(&b, " F%d", d.cfg.Speed)
	}

	var err error
	for _, cmd := range []string{mode, b.String(), "M400"} {
		if _, err = d.Command(ctx, cmd); err != nil {
			break
		}
	}

	if rerr := d.refresh(context.WithoutCancel(ctx), hw); rerr != nil {
		d.logger.Warn("Failed to read position after move", zap.Error(rerr))
		if err == nil {
			err = rerr
		}
	}
	return err
}

func (d *Driver) refresh(ctx context.Context, hw *stage.Hardware) error {
	pos, err := d.ReadPosition(ctx)
	if err != nil {
		return err
	}
	return hw.SetPosition(pos)
}

// Command sends one line and returns the lines received before "ok".
func (d *Driver) Command(ctx context.Context, cmd string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return nil, ErrNotConnected
	}

	d.logger.Debug("Sending gcode", zap.String("command", cmd))

	if _, err := io.WriteString(d.port, cmd+"\n"); err != nil {
		return nil, fmt.Errorf("failed to write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(d.cfg.ReadTimeout)
	var lines []string
	var fwErr error

	for {
		line, err := d.readLine(ctx, deadline)
		if err != nil {
			if fwErr != nil {
				return nil, fwErr
			}
			return nil, fmt.Errorf("waiting for reply to %q: %w", cmd, err)
		}

		switch {
		case line == "ok" || strings.HasPrefix(line, "ok "):
			if fwErr != nil {
				return nil, fwErr
			}
			return lines, nil
		case strings.HasPrefix(line, "Error:"), strings.HasPrefix(line, "error:"):
			fwErr = &FirmwareError{Command: cmd, Message: strings.TrimSpace(line[len("Error:"):])}
		case strings.HasPrefix(line, "echo:busy"), strings.HasPrefix(line, "busy:"):
			// keepalive during long moves
			deadline = time.Now().Add(d.cfg.ReadTimeout)
		case line != "":
			lines = append(lines, line)
		}
	}
}

func (d *Driver) readLine(ctx context.Context, deadline time.Time) (string, error) {
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.pending[:i]))
			d.pending = d.pending[i+1:]
			return line, nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("read timeout after %s", d.cfg.ReadTimeout)
		}

		n, err := d.port.Read(buf)
		d.pending = append(d.pending, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
	}
}
