package stage

import (
	"sync"
)

// Hardware is the driver-owned state of one stage: the position in the
// hardware frame and the moving flag. Drivers receive it in every hook and
// are the only code that writes the position.
type Hardware struct {
	axes AxisSet

	mu       sync.RWMutex
	position Position
	moving   bool

	onMoving   func(bool)
	onPosition func(Position)
}

// NewHardware returns detached hardware state at zero. Stages create their
// own; this is for driver tests and tools.
func NewHardware(axes AxisSet) *Hardware {
	return &Hardware{
		axes:     axes,
		position: axes.Zero(),
	}
}

func (h *Hardware) Axes() AxisSet { return h.axes }

// Position returns a copy of the hardware-frame position.
func (h *Hardware) Position() Position {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.position.Clone()
}

// Sequence returns the hardware-frame position in axis order.
func (h *Hardware) Sequence() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.axes.Sequence(h.position)
}

// SetPosition stores the axes present in p. Axes not in p keep their value.
func (h *Hardware) SetPosition(p Position) error {
	if err := h.axes.Check(p); err != nil {
		return err
	}

	h.mu.Lock()
	changed := false
	for k, v := range p {
		if h.position[k] != v {
			h.position[k] = v
			changed = true
		}
	}
	snapshot := h.position.Clone()
	h.mu.Unlock()

	if changed && h.onPosition != nil {
		h.onPosition(snapshot)
	}
	return nil
}

// SetSequence stores a full ordered position.
func (h *Hardware) SetSequence(values []int) error {
	p, err := h.axes.FromSequence(values)
	if err != nil {
		return err
	}
	return h.SetPosition(p)
}

// Zero sets every axis to 0.
func (h *Hardware) Zero() {
	_ = h.SetPosition(h.axes.Zero())
}

func (h *Hardware) Moving() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.moving
}

// Dispatch marks the stage as moving for the duration of fn. The flag is
// cleared whether fn fails, succeeds or panics.
func (h *Hardware) Dispatch(fn func() error) error {
	h.setMoving(true)
	defer h.setMoving(false)
	return fn()
}

func (h *Hardware) setMoving(moving bool) {
	h.mu.Lock()
	changed := h.moving != moving
	h.moving = moving
	h.mu.Unlock()

	if changed && h.onMoving != nil {
		h.onMoving(moving)
	}
}
