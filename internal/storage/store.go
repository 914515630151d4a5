package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
)

// Store persists stage settings and the move journal.
type Store interface {
	stage.SettingsStore
	stage.MoveJournal

	// LoadAxisInversion returns the saved inversion of a stage; ok is false
	// when nothing was saved yet.
	LoadAxisInversion(ctx context.Context, stageName string) (inverted map[string]bool, ok bool, err error)
	ListMoves(ctx context.Context, stageName string, limit int) ([]stage.MoveRecord, error)

	Migrate(ctx context.Context) error
	Close()
}

// Open connects the backend selected by cfg.Driver and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Driver {
	case "postgres":
		store, err = NewPostgresClient(cfg)
	case "sqlite":
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate %s schema: %w", cfg.Driver, err)
	}

	logger.Info("Storage ready", zap.String("driver", cfg.Driver))
	return store, nil
}
