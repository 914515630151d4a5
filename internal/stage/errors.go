package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLengthMismatch is returned when an ordered position has the wrong
	// number of values for the stage's axes.
	ErrLengthMismatch = errors.New("position sequence length does not match axis count")

	// ErrUnknownAxis matches every *UnknownAxisError via errors.Is.
	ErrUnknownAxis = errors.New("unknown axis")

	// ErrMissingAxis is returned by the xyz helpers on stages whose axes are
	// not exactly x, y and z.
	ErrMissingAxis = errors.New(`stage axes must be exactly "x", "y" and "z"`)

	// ErrNotImplemented is returned by UnimplementedDriver.
	ErrNotImplemented = errors.New("not implemented by stage driver")

	// ErrFractional is returned when a position value is not a whole number
	// of motor steps.
	ErrFractional = errors.New("position values must be whole motor steps")

	// ErrOutOfRange is returned for step counts that do not fit the
	// controller's 32-bit position registers.
	ErrOutOfRange = errors.New("position value out of range")
)

// UnknownAxisError lists every axis name that is not part of the stage.
type UnknownAxisError struct {
	Axes []string
}

func (e *UnknownAxisError) Error() string {
	quoted := make([]string, len(e.Axes))
	for i, a := range e.Axes {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	if len(quoted) == 1 {
		return fmt.Sprintf("axis %s is not defined", quoted[0])
	}
	return fmt.Sprintf("axes %s are not defined", strings.Join(quoted, ", "))
}

func (e *UnknownAxisError) Is(target error) bool {
	return target == ErrUnknownAxis
}

// RedefinedBaseMovementError is returned by New when the driver provides its
// own MoveRelative or MoveAbsolute. Those entry points are the only place
// program coordinates are converted to hardware coordinates, so a driver
// should implement HardwareMoveRelative and HardwareMoveAbsolute instead.
//
// New returns this error as its last step together with a usable *Stage, so
// a caller that overrides the methods on purpose can detect it with
// errors.As and keep the stage.
type RedefinedBaseMovementError struct {
	Methods []string
}

func (e *RedefinedBaseMovementError) Error() string {
	return fmt.Sprintf("%s overridden by driver: the stage converts program coordinates "+
		"to hardware coordinates in these methods, implement HardwareMoveRelative and/or "+
		"HardwareMoveAbsolute instead", strings.Join(e.Methods, " and "))
}
