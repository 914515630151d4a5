package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle   State = "idle"
	StateMoving State = "moving"
)

type MoveKind string

const (
	MoveRelative MoveKind = "relative"
	MoveAbsolute MoveKind = "absolute"
	MoveZero     MoveKind = "zero"
)

// MoveRecord describes one dispatched hardware command.
type MoveRecord struct {
	ID                uuid.UUID `json:"id"`
	Stage             string    `json:"stage"`
	Kind              MoveKind  `json:"kind"`
	Requested         Position  `json:"requested,omitempty"`
	Hardware          Position  `json:"hardware,omitempty"`
	Result            Position  `json:"result"`
	BlockCancellation bool      `json:"block_cancellation"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
}

// SettingsStore persists the axis inversion of a stage.
type SettingsStore interface {
	SaveAxisInversion(ctx context.Context, stage string, inverted map[string]bool) error
}

// MoveJournal records every hardware command.
type MoveJournal interface {
	RecordMove(ctx context.Context, rec MoveRecord) error
}

type EventType string

const (
	EventMoving    EventType = "moving"
	EventPosition  EventType = "position"
	EventInversion EventType = "inversion"
	EventError     EventType = "error"
)

// Event is delivered synchronously to the listener set with WithListener.
// Position is always in the program frame.
type Event struct {
	Type      EventType
	Stage     string
	Moving    bool
	Position  Position
	Inversion map[string]bool
	Err       error
}

// Properties is the externally visible state of a stage.
type Properties struct {
	Name         string          `json:"name"`
	AxisNames    []string        `json:"axis_names"`
	Position     Position        `json:"position"`
	Moving       bool            `json:"moving"`
	AxisInverted map[string]bool `json:"axis_inverted"`
}

// Stage exposes a multi-axis stage in the program frame and drives its
// hardware through a Driver.
type Stage struct {
	name   string
	axes   AxisSet
	driver Driver
	hw     *Hardware
	logger *zap.Logger

	settings SettingsStore
	journal  MoveJournal
	listener func(Event)

	initialInversion map[string]bool

	invMu     sync.RWMutex
	inversion Inversion

	// held for the whole translate, dispatch, update sequence
	busy chan struct{}
}

type Option func(*Stage)

// WithAxes sets the axis order. The default is x, y, z.
func WithAxes(axes AxisSet) Option {
	return func(s *Stage) { s.axes = axes }
}

// WithInversion sets the starting inversion flags.
func WithInversion(inverted map[string]bool) Option {
	return func(s *Stage) { s.initialInversion = inverted }
}

func WithSettings(store SettingsStore) Option {
	return func(s *Stage) { s.settings = store }
}

func WithJournal(journal MoveJournal) Option {
	return func(s *Stage) { s.journal = journal }
}

func WithListener(fn func(Event)) Option {
	return func(s *Stage) { s.listener = fn }
}

// New builds a stage around driver.
//
// If the driver defines MoveRelative or MoveAbsolute itself, New returns the
// stage together with a *RedefinedBaseMovementError. The check is the last
// thing New does.
func New(name string, driver Driver, logger *zap.Logger, opts ...Option) (*Stage, error) {
	if driver == nil {
		return nil, fmt.Errorf("stage %s: driver is nil", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Stage{
		name:   name,
		axes:   DefaultAxes(),
		driver: driver,
		logger: logger.With(zap.String("stage", name)),
		busy:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	inv, err := NewInversion(s.axes, s.initialInversion)
	if err != nil {
		return nil, fmt.Errorf("stage %s: axis inversion: %w", name, err)
	}
	s.inversion = inv

	s.hw = NewHardware(s.axes)
	s.hw.onMoving = func(moving bool) {
		s.emit(Event{Type: EventMoving, Moving: moving})
	}
	s.hw.onPosition = func(hwPos Position) {
		s.emit(Event{Type: EventPosition, Position: s.Inversion().apply(hwPos)})
	}

	// Must stay last so a caller catching the error gets a complete stage.
	var redefined []string
	if _, ok := driver.(relativeMover); ok {
		redefined = append(redefined, "MoveRelative")
	}
	if _, ok := driver.(absoluteMover); ok {
		redefined = append(redefined, "MoveAbsolute")
	}
	if len(redefined) > 0 {
		return s, &RedefinedBaseMovementError{Methods: redefined}
	}

	return s, nil
}

func (s *Stage) Name() string { return s.name }

func (s *Stage) Axes() AxisSet { return s.axes }

func (s *Stage) Driver() Driver { return s.driver }

// Hardware exposes the hardware-frame state, mainly for drivers and tests.
func (s *Stage) Hardware() *Hardware { return s.hw }

func (s *Stage) Inversion() Inversion {
	s.invMu.RLock()
	defer s.invMu.RUnlock()
	return s.inversion
}

// Position returns the current position in the program frame.
func (s *Stage) Position() Position {
	return s.Inversion().apply(s.hw.Position())
}

// PositionSequence returns the program-frame position in axis order.
func (s *Stage) PositionSequence() []int {
	seq, _ := s.Inversion().TranslateSequence(s.hw.Sequence())
	return seq
}

func (s *Stage) Moving() bool { return s.hw.Moving() }

func (s *Stage) State() State {
	if s.hw.Moving() {
		return StateMoving
	}
	return StateIdle
}

func (s *Stage) Properties() Properties {
	return Properties{
		Name:         s.name,
		AxisNames:    s.axes.Names(),
		Position:     s.Position(),
		Moving:       s.Moving(),
		AxisInverted: s.Inversion().Map(),
	}
}

// Open connects the driver if it holds a connection.
func (s *Stage) Open(ctx context.Context) error {
	c, ok := s.driver.(Connector)
	if !ok {
		return nil
	}
	if err := c.Connect(ctx, s.hw); err != nil {
		return fmt.Errorf("stage %s: connect: %w", s.name, err)
	}
	s.logger.Info("Stage connected", zap.Any("hardware_position", s.hw.Position()))
	return nil
}

func (s *Stage) Close() error {
	if c, ok := s.driver.(Connector); ok {
		return c.Close()
	}
	return nil
}

// MoveRelative moves by deltas given in the program frame. Axes not named
// in deltas do not move.
func (s *Stage) MoveRelative(ctx context.Context, deltas Position, blockCancellation bool) error {
	return s.move(ctx, MoveRelative, deltas, blockCancellation)
}

// MoveAbsolute moves to targets given in the program frame. Axes not named
// in targets keep their current position.
func (s *Stage) MoveAbsolute(ctx context.Context, targets Position, blockCancellation bool) error {
	return s.move(ctx, MoveAbsolute, targets, blockCancellation)
}

// MoveRelativeSequence is MoveRelative with one delta per axis, in order.
func (s *Stage) MoveRelativeSequence(ctx context.Context, deltas []int, blockCancellation bool) error {
	p, err := s.axes.FromSequence(deltas)
	if err != nil {
		return err
	}
	return s.move(ctx, MoveRelative, p, blockCancellation)
}

// MoveAbsoluteSequence is MoveAbsolute with one target per axis, in order.
func (s *Stage) MoveAbsoluteSequence(ctx context.Context, targets []int, blockCancellation bool) error {
	p, err := s.axes.FromSequence(targets)
	if err != nil {
		return err
	}
	return s.move(ctx, MoveAbsolute, p, blockCancellation)
}

// XYZPosition returns the program-frame (x, y, z) position.
func (s *Stage) XYZPosition() ([3]int, error) {
	if !s.axes.IsXYZ() {
		return [3]int{}, ErrMissingAxis
	}
	p := s.Position()
	return [3]int{p["x"], p["y"], p["z"]}, nil
}

// MoveToXYZPosition moves to the program-frame (x, y, z) position.
func (s *Stage) MoveToXYZPosition(ctx context.Context, xyz [3]int) error {
	if !s.axes.IsXYZ() {
		return ErrMissingAxis
	}
	return s.MoveAbsolute(ctx, Position{"x": xyz[0], "y": xyz[1], "z": xyz[2]}, false)
}

// InvertAxisDirection flips the direction of axis and persists the new
// inversion. The hardware position is untouched, so the program-frame
// position of that axis changes sign.
func (s *Stage) InvertAxisDirection(ctx context.Context, axis string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	next, err := s.Inversion().Toggle(axis)
	if err != nil {
		return err
	}

	// the in-memory value only changes once the store accepted it
	if s.settings != nil {
		if err := s.settings.SaveAxisInversion(ctx, s.name, next.Map()); err != nil {
			s.logger.Error("Failed to persist axis inversion",
				zap.String("axis", axis),
				zap.Error(err))
			return fmt.Errorf("persist axis inversion: %w", err)
		}
	}

	s.invMu.Lock()
	s.inversion = next
	s.invMu.Unlock()

	s.logger.Info("Axis direction inverted",
		zap.String("axis", axis),
		zap.Any("axis_inverted", next.Map()))

	s.emit(Event{Type: EventInversion, Inversion: next.Map(), Position: s.Position()})
	return nil
}

// SetZeroPosition makes the current position zero in all axes.
func (s *Stage) SetZeroPosition(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	rec := MoveRecord{
		ID:        uuid.New(),
		Stage:     s.name,
		Kind:      MoveZero,
		StartedAt: time.Now(),
	}

	err := s.driver.SetZeroPosition(ctx, s.hw)
	s.finish(ctx, &rec, err)
	return err
}

// Refresh reads the device position into the cache. It waits for a move in
// progress to finish.
func (s *Stage) Refresh(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.refresh(ctx)
}

// TryRefresh is Refresh that gives up immediately when the stage is busy.
func (s *Stage) TryRefresh(ctx context.Context) (bool, error) {
	select {
	case s.busy <- struct{}{}:
	default:
		return false, nil
	}
	defer s.release()
	return true, s.refresh(ctx)
}

func (s *Stage) refresh(ctx context.Context) error {
	r, ok := s.driver.(PositionReader)
	if !ok {
		return nil
	}
	pos, err := r.ReadPosition(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	return s.hw.SetPosition(pos)
}

func (s *Stage) move(ctx context.Context, kind MoveKind, request Position, blockCancellation bool) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	hwRequest, err := s.Inversion().Translate(request)
	if err != nil {
		return err
	}

	// Drivers always get every axis.
	var base Position
	if kind == MoveAbsolute {
		base = s.hw.Position()
	} else {
		base = s.axes.Zero()
	}
	hwRequest = s.axes.Fill(hwRequest, base)

	rec := MoveRecord{
		ID:                uuid.New(),
		Stage:             s.name,
		Kind:              kind,
		Requested:         request.Clone(),
		Hardware:          hwRequest.Clone(),
		BlockCancellation: blockCancellation,
		StartedAt:         time.Now(),
	}

	s.logger.Debug("Dispatching move",
		zap.String("move_id", rec.ID.String()),
		zap.String("kind", string(kind)),
		zap.Any("requested", request),
		zap.Any("hardware", hwRequest))

	err = s.dispatch(ctx, kind, hwRequest, blockCancellation)
	s.finish(ctx, &rec, err)
	return err
}

func (s *Stage) dispatch(ctx context.Context, kind MoveKind, hwRequest Position, blockCancellation bool) error {
	return s.hw.Dispatch(func() error {
		if kind == MoveAbsolute {
			return s.driver.HardwareMoveAbsolute(ctx, s.hw, hwRequest, blockCancellation)
		}
		return s.driver.HardwareMoveRelative(ctx, s.hw, hwRequest, blockCancellation)
	})
}

func (s *Stage) finish(ctx context.Context, rec *MoveRecord, err error) {
	rec.CompletedAt = time.Now()
	rec.Result = s.hw.Position()

	if err != nil {
		rec.Error = err.Error()
		s.logger.Error("Stage command failed",
			zap.String("move_id", rec.ID.String()),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err))
		s.emit(Event{Type: EventError, Err: err, Position: s.Position()})
	} else {
		s.logger.Info("Stage command completed",
			zap.String("move_id", rec.ID.String()),
			zap.String("kind", string(rec.Kind)),
			zap.Any("position", s.Position()),
			zap.Duration("duration", rec.CompletedAt.Sub(rec.StartedAt)))
	}

	if s.journal != nil {
		// the caller's context may already be done after a failed move
		if jerr := s.journal.RecordMove(context.WithoutCancel(ctx), *rec); jerr != nil {
			s.logger.Warn("Failed to record move", zap.Error(jerr))
		}
	}
}

func (s *Stage) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	default:
	}

	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stage %s busy: %w", s.name, ctx.Err())
	}
}

func (s *Stage) release() { <-s.busy }

func (s *Stage) emit(e Event) {
	if s.listener == nil {
		return
	}
	e.Stage = s.name
	s.listener(e)
}
