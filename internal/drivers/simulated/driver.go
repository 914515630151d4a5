package simulated

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
)

var ErrInjected = errors.New("simulated driver failure")

type Config struct {
	// StepTime is how long one step of the longest axis takes.
	StepTime time.Duration

	// StepLoss is dropped from every non-zero axis displacement, imitating
	// a stage that misses steps. The reported position shows the loss.
	StepLoss int
}

// Driver is an in-process stage. Its device position lives in memory and is
// reported back exactly like a real controller would.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	device   stage.Position
	failNext error
}

func New(cfg Config, axes stage.AxisSet, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:    cfg,
		logger: logger,
		device: axes.Zero(),
	}
}

// FailNext makes the next hardware command fail with err, or ErrInjected
// when err is nil.
func (d *Driver) FailNext(err error) {
	if err == nil {
		err = ErrInjected
	}
	d.mu.Lock()
	d.failNext = err
	d.mu.Unlock()
}

// DevicePosition returns the position the simulated device holds.
func (d *Driver) DevicePosition() stage.Position {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device.Clone()
}

// Connect loads the device position into hw.
func (d *Driver) Connect(ctx context.Context, hw *stage.Hardware) error {
	return hw.SetPosition(d.DevicePosition())
}

func (d *Driver) Close() error { return nil }

func (d *Driver) HardwareMoveRelative(ctx context.Context, hw *stage.Hardware, deltas stage.Position, _ bool) error {
	return d.move(ctx, hw, func(axis string, cur int) int {
		return cur + d.lose(deltas[axis])
	})
}

func (d *Driver) HardwareMoveAbsolute(ctx context.Context, hw *stage.Hardware, targets stage.Position, _ bool) error {
	return d.move(ctx, hw, func(axis string, cur int) int {
		return cur + d.lose(targets[axis]-cur)
	})
}

func (d *Driver) SetZeroPosition(ctx context.Context, hw *stage.Hardware) error {
	d.mu.Lock()
	if err := d.takeFailure(); err != nil {
		d.mu.Unlock()
		return err
	}
	for axis := range d.device {
		d.device[axis] = 0
	}
	d.mu.Unlock()

	return hw.SetPosition(d.DevicePosition())
}

func (d *Driver) ReadPosition(context.Context) (stage.Position, error) {
	return d.DevicePosition(), nil
}

func (d *Driver) move(ctx context.Context, hw *stage.Hardware, next func(axis string, cur int) int) error {
	d.mu.Lock()
	if err := d.takeFailure(); err != nil {
		d.mu.Unlock()
		return err
	}

	longest := 0
	target := d.device.Clone()
	for axis, cur := range d.device {
		target[axis] = next(axis, cur)
		if dist := abs(target[axis] - cur); dist > longest {
			longest = dist
		}
	}
	d.mu.Unlock()

	if d.cfg.StepTime > 0 && longest > 0 {
		timer := time.NewTimer(time.Duration(longest) * d.cfg.StepTime)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// stopped before the move started
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.device = target
	d.mu.Unlock()

	d.logger.Debug("Simulated move complete", zap.Any("device_position", target))
	return hw.SetPosition(target)
}

func (d *Driver) lose(delta int) int {
	switch {
	case d.cfg.StepLoss <= 0 || delta == 0:
		return delta
	case delta > 0:
		return max(0, delta-d.cfg.StepLoss)
	default:
		return min(0, delta+d.cfg.StepLoss)
	}
}

func (d *Driver) takeFailure() error {
	err := d.failNext
	d.failNext = nil
	return err
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
