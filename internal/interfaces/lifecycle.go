package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/devices"
	"github.com/KevinKickass/OpenStageCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State        string   `json:"state"`
	StageCount   int      `json:"stage_count"`
	MovingStages []string `json:"moving_stages"`
	Timestamp    int64    `json:"timestamp"`
	Error        string   `json:"error,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	Storage() storage.Store
	DeviceManager() *devices.Manager
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
