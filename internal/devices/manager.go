package devices

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Store is the persistence the manager wires into every stage.
type Store interface {
	stage.SettingsStore
	stage.MoveJournal
	LoadAxisInversion(ctx context.Context, stageName string) (map[string]bool, bool, error)
}

type Manager struct {
	cfg      config.StagesConfig
	loader   *ProfileLoader
	composer *Composer
	store    Store
	listener func(stage.Event)

	stages  map[string]*stage.Stage
	pollers map[string]*Poller
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewManager(cfg *config.Config, store Store, listener func(stage.Event), logger *zap.Logger) (*Manager, error) {
	loader, err := NewProfileLoader(cfg.Stages.ProfilePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	return &Manager{
		cfg:      cfg.Stages,
		loader:   loader,
		composer: NewComposer(cfg.Moonraker, cfg.Serial, logger),
		store:    store,
		listener: listener,
		stages:   make(map[string]*stage.Stage),
		pollers:  make(map[string]*Poller),
		logger:   logger,
	}, nil
}

func (m *Manager) Loader() *ProfileLoader { return m.loader }

// LoadAll loads every configured stage. A stage that fails is left out and
// its error is part of the returned error; the others are still loaded.
func (m *Manager) LoadAll(ctx context.Context) error {
	var errs error
	for _, inst := range m.cfg.Instances {
		if _, err := m.LoadStage(ctx, inst); err != nil {
			m.logger.Error("Failed to load stage",
				zap.String("stage", inst.Name),
				zap.String("profile", inst.Profile),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stage %s: %w", inst.Name, err))
		}
	}
	return errs
}

// LoadStage builds, connects and registers one stage.
func (m *Manager) LoadStage(ctx context.Context, inst config.StageInstance) (*stage.Stage, error) {
	m.mu.RLock()
	_, exists := m.stages[inst.Name]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("stage %s already loaded", inst.Name)
	}

	profile, err := m.loader.Load(inst.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", inst.Profile, err)
	}

	axes, err := ProfileAxes(profile)
	if err != nil {
		return nil, err
	}

	inverted := profile.AxisInverted
	source := "profile"
	if m.store != nil {
		saved, ok, err := m.store.LoadAxisInversion(ctx, inst.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load axis inversion: %w", err)
		}
		if ok {
			inverted = m.dropStaleAxes(inst.Name, axes, saved)
			source = "store"
		}
	}

	dc, err := MergeDriverConfig(profile.Driver, inst.Driver)
	if err != nil {
		return nil, err
	}
	driver, err := m.composer.ComposeDriver(inst.Name, dc, axes)
	if err != nil {
		return nil, err
	}

	opts := []stage.Option{
		stage.WithAxes(axes),
		stage.WithInversion(inverted),
		stage.WithListener(m.listener),
	}
	if m.store != nil {
		opts = append(opts, stage.WithSettings(m.store), stage.WithJournal(m.store))
	}

	s, err := stage.New(inst.Name, driver, m.logger, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.stages[inst.Name] = s
	m.mu.Unlock()

	m.logger.Info("Stage loaded",
		zap.String("stage", inst.Name),
		zap.String("profile", inst.Profile),
		zap.String("driver", string(dc.Type)),
		zap.Strings("axes", axes.Names()),
		zap.Any("axis_inverted", s.Inversion().Map()),
		zap.String("inversion_source", source))

	return s, nil
}

// StartPollers starts a poller per stage. The profile's poll interval wins
// over the service default; zero disables polling.
func (m *Manager) StartPollers() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.stages {
		if _, running := m.pollers[name]; running {
			continue
		}

		interval := m.cfg.PollInterval
		if inst, ok := m.instance(name); ok {
			if profile, err := m.loader.Load(inst.Profile); err == nil && profile.PollIntervalMs > 0 {
				interval = time.Duration(profile.PollIntervalMs) * time.Millisecond
			}
		}
		if interval <= 0 {
			continue
		}

		poller := NewPoller(s, interval, m.logger)
		if err := poller.Start(); err != nil {
			return fmt.Errorf("failed to start poller for %s: %w", name, err)
		}
		m.pollers[name] = poller
	}
	return nil
}

func (m *Manager) instance(name string) (config.StageInstance, bool) {
	for _, inst := range m.cfg.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return config.StageInstance{}, false
}

func (m *Manager) GetStage(name string) (*stage.Stage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.stages[name]
	return s, exists
}

// ListStages returns all stages ordered by name
func (m *Manager) ListStages() []*stage.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stages := make([]*stage.Stage, 0, len(m.stages))
	for _, s := range m.stages {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Name() < stages[j].Name() })

	return stages
}

// StopAll stops all pollers and disconnects all stages
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	pollers, stages := m.pollers, m.stages
	m.pollers = make(map[string]*Poller)
	m.stages = make(map[string]*stage.Stage)
	m.mu.Unlock()

	// listeners may call back into the manager while a poller finishes
	for _, poller := range pollers {
		poller.Stop()
	}

	var errs error
	for name, s := range stages {
		if err := s.Close(); err != nil {
			m.logger.Error("Failed to disconnect stage",
				zap.String("stage", name),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stage %s: %w", name, err))
		}
	}
	return errs
}

// dropStaleAxes removes stored inversion flags for axes the profile no
// longer defines. The next inversion change rewrites the stored value.
func (m *Manager) dropStaleAxes(stageName string, axes stage.AxisSet, saved map[string]bool) map[string]bool {
	kept := make(map[string]bool, len(saved))
	var stale []string
	for axis, inverted := range saved {
		if axes.Contains(axis) {
			kept[axis] = inverted
		} else {
			stale = append(stale, axis)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		m.logger.Warn("Ignoring stored axis inversion for axes not in profile",
			zap.String("stage", stageName),
			zap.Strings("axes", stale))
	}
	return kept
}
