package moonraker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL      string
	Port         int
	Speed        int
	Acceleration int
	Timeout      time.Duration
	APIKey       string

	// ZeroOnConnect resets the kinematic position when the driver connects.
	ZeroOnConnect bool
}

func (c Config) URL() string {
	if c.Port == 0 {
		return c.BaseURL
	}
	return fmt.Sprintf("%s:%d", strings.TrimRight(c.BaseURL, "/"), c.Port)
}

// Driver moves a Klipper-controlled stage through Moonraker, e.g. a
// BigTreeTech SKR Pico. Moves are sent as G1 lines followed by M400, so a
// request returns once the motion is complete.
type Driver struct {
	cfg    Config
	axes   stage.AxisSet
	client *Client
	logger *zap.Logger
}

func New(cfg Config, axes stage.AxisSet, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		axes:   axes,
		client: NewClient(cfg.URL(), cfg.Timeout, cfg.APIKey, logger),
		logger: logger,
	}
}

// Connect checks that Klipper is ready, applies the acceleration limit and
// loads the current position.
func (d *Driver) Connect(ctx context.Context, hw *stage.Hardware) error {
	if err := d.CheckFirmware(ctx); err != nil {
		return err
	}

	if d.cfg.Acceleration > 0 {
		if err := d.client.RunGCode(ctx, fmt.Sprintf("SET_VELOCITY_LIMIT ACCEL=%d", d.cfg.Acceleration)); err != nil {
			return fmt.Errorf("failed to set acceleration: %w", err)
		}
	}

	if d.cfg.ZeroOnConnect {
		return d.SetZeroPosition(ctx, hw)
	}
	return d.refresh(ctx, hw)
}

func (d *Driver) Close() error {
	return d.client.Close()
}

// CheckFirmware fails unless Klipper reports the ready state.
func (d *Driver) CheckFirmware(ctx context.Context) error {
	info, err := d.client.PrinterInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to query printer info: %w", err)
	}

	d.logger.Info("Moonraker connected",
		zap.String("url", d.cfg.URL()),
		zap.String("state", info.State),
		zap.String("software_version", info.SoftwareVersion))

	if info.State != "ready" {
		return fmt.Errorf("klipper not ready: %s (%s)", info.State, info.StateMessage)
	}
	return nil
}

func (d *Driver) HardwareMoveRelative(ctx context.Context, hw *stage.Hardware, deltas stage.Position, _ bool) error {
	return d.move(ctx, hw, "G91", deltas)
}

func (d *Driver) HardwareMoveAbsolute(ctx context.Context, hw *stage.Hardware, targets stage.Position, _ bool) error {
	return d.move(ctx, hw, "G90", targets)
}

// SetZeroPosition redefines the current position as zero without moving.
func (d *Driver) SetZeroPosition(ctx context.Context, hw *stage.Hardware) error {
	var b strings.Builder
	b.WriteString("SET_KINEMATIC_POSITION")
	for _, axis := range d.axes.Names() {
		fmt.Fprintf(&b, " %s=0", strings.ToUpper(axis))
	}
	b.WriteString(" SET_HOMED=" + strings.ToUpper(strings.Join(d.axes.Names(), "")))

	err := d.client.RunGCode(ctx, b.String())
	if rerr := d.refresh(ctx, hw); err == nil {
		err = rerr
	}
	return err
}

// ReadPosition returns the toolhead position rounded to whole steps.
func (d *Driver) ReadPosition(ctx context.Context) (stage.Position, error) {
	values, err := d.client.ToolheadPosition(ctx)
	if err != nil {
		return nil, err
	}

	// toolhead.position also carries the extruder; take the stage axes only
	names := d.axes.Names()
	if len(values) < len(names) {
		return nil, fmt.Errorf("toolhead reports %d coordinates for %d axes", len(values), len(names))
	}

	pos := make(stage.Position, len(names))
	for i, axis := range names {
		if pos[axis], err = roundSteps(values[i]); err != nil {
			return nil, fmt.Errorf("axis %s: %w", axis, err)
		}
	}
	return pos, nil
}

func (d *Driver) move(ctx context.Context, hw *stage.Hardware, mode string, p stage.Position) error {
	script := mode + "\n" + d.g1(p) + "\nM400"

	err := d.client.RunGCode(ctx, script)

	// the position is read back even after a failed move
	if rerr := d.refresh(context.WithoutCancel(ctx), hw); rerr != nil {
		d.logger.Warn("Failed to read position after move", zap.Error(rerr))
		if err == nil {
			err = rerr
		}
	}
	return err
}

func (d *Driver) g1(p stage.Position) string {
	var b strings.Builder
	b.WriteString("G1")
	for _, axis := range d.axes.Names() {
		fmt.Fprintf(&b, " %s%d", strings.ToUpper(axis), p[axis])
	}
	if d.cfg.Speed > 0 {
		fmt.Fprintf(&b, " F%d", d.cfg.Speed)
	}
	return b.String()
}

func (d *Driver) refresh(ctx context.Context, hw *stage.Hardware) error {
	pos, err := d.ReadPosition(ctx)
	if err != nil {
		return err
	}
	return hw.SetPosition(pos)
}
