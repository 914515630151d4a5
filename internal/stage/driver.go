package stage

import (
	"context"
)

// Driver is implemented by every hardware backend. All positions it sees are
// in the hardware frame and carry every axis of the stage.
//
// Each hook must leave hw holding the position the device reports after the
// call, not the commanded one. Errors are returned to the caller unchanged.
type Driver interface {
	HardwareMoveRelative(ctx context.Context, hw *Hardware, deltas Position, blockCancellation bool) error
	HardwareMoveAbsolute(ctx context.Context, hw *Hardware, targets Position, blockCancellation bool) error

	// SetZeroPosition makes the current position zero in all axes. Whether
	// the stage physically moves is up to the driver.
	SetZeroPosition(ctx context.Context, hw *Hardware) error
}

// PositionReader is implemented by drivers that can query the device for its
// current hardware-frame position.
type PositionReader interface {
	ReadPosition(ctx context.Context) (Position, error)
}

// Connector is implemented by drivers that hold a connection which must be
// opened before the first move.
type Connector interface {
	Connect(ctx context.Context, hw *Hardware) error
	Close() error
}

// UnimplementedDriver can be embedded by drivers under construction. Every
// hook returns ErrNotImplemented.
type UnimplementedDriver struct{}

func (UnimplementedDriver) HardwareMoveRelative(context.Context, *Hardware, Position, bool) error {
	return ErrNotImplemented
}

func (UnimplementedDriver) HardwareMoveAbsolute(context.Context, *Hardware, Position, bool) error {
	return ErrNotImplemented
}

func (UnimplementedDriver) SetZeroPosition(context.Context, *Hardware) error {
	return ErrNotImplemented
}

// relativeMover and absoluteMover match drivers that try to replace the
// frame-converting entry points of Stage.
type relativeMover interface {
	MoveRelative(ctx context.Context, deltas Position, blockCancellation bool) error
}

type absoluteMover interface {
	MoveAbsolute(ctx context.Context, targets Position, blockCancellation bool) error
}
