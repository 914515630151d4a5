package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/drivers/moonraker"
	"github.com/KevinKickass/OpenStageCore/internal/drivers/serialgcode"
	"github.com/KevinKickass/OpenStageCore/internal/drivers/simulated"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"go.uber.org/zap"
)

// Composer builds drivers from a profile, the instance overrides and the
// service-wide driver defaults, in increasing order of precedence:
// defaults, profile, instance.
type Composer struct {
	moonraker config.MoonrakerConfig
	serial    config.SerialConfig
	logger    *zap.Logger
}

func NewComposer(moonrakerDefaults config.MoonrakerConfig, serialDefaults config.SerialConfig, logger *zap.Logger) *Composer {
	return &Composer{
		moonraker: moonrakerDefaults,
		serial:    serialDefaults,
		logger:    logger,
	}
}

// MergeDriverConfig overlays the instance overrides on the profile's driver
// settings.
func MergeDriverConfig(base types.DriverConfig, overrides map[string]any) (types.DriverConfig, error) {
	if len(overrides) == 0 {
		return base, nil
	}

	data, err := json.Marshal(base)
	if err != nil {
		return base, fmt.Errorf("failed to marshal driver config: %w", err)
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(data, &merged); err != nil {
		return base, fmt.Errorf("failed to unmarshal driver config: %w", err)
	}
	for k, v := range overrides {
		merged[k] = v
	}

	data, err = json.Marshal(merged)
	if err != nil {
		return base, fmt.Errorf("failed to marshal driver overrides: %w", err)
	}
	var out types.DriverConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return base, fmt.Errorf("invalid driver overrides: %w", err)
	}
	return out, nil
}

// ComposeDriver returns a driver for a stage named name with the given axes.
func (c *Composer) ComposeDriver(name string, dc types.DriverConfig, axes stage.AxisSet) (stage.Driver, error) {
	logger := c.logger.With(zap.String("stage", name), zap.String("driver", string(dc.Type)))

	c.logger.Info("Composing driver",
		zap.String("stage", name),
		zap.String("type", string(dc.Type)))

	switch dc.Type {
	case types.DriverMoonraker:
		cfg := moonraker.Config{
			BaseURL:       or(dc.BaseURL, c.moonraker.BaseURL),
			Port:          or(dc.Port, c.moonraker.Port),
			Speed:         or(dc.Speed, c.moonraker.Speed),
			Acceleration:  or(dc.Acceleration, c.moonraker.Acceleration),
			Timeout:       orDuration(dc.TimeoutMs, c.moonraker.Timeout),
			APIKey:        c.moonraker.APIKey(),
			ZeroOnConnect: dc.ZeroOnConnect,
		}
		if dc.APIKeyEnv != "" {
			cfg.APIKey = os.Getenv(dc.APIKeyEnv)
		}
		return moonraker.New(cfg, axes, logger), nil

	case types.DriverSerialGCode:
		cfg := serialgcode.Config{
			Device:      or(dc.Device, c.serial.Device),
			Baud:        or(dc.Baud, c.serial.Baud),
			Speed:       dc.Speed,
			ReadTimeout: orDuration(dc.TimeoutMs, c.serial.ReadTimeout),
		}
		return serialgcode.New(cfg, axes, nil, logger), nil

	case types.DriverSimulated:
		cfg := simulated.Config{
			StepTime: time.Duration(dc.StepTimeMs) * time.Millisecond,
			StepLoss: dc.StepLoss,
		}
		return simulated.New(cfg, axes, logger), nil

	default:
		return nil, fmt.Errorf("unsupported driver type %q", dc.Type)
	}
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

func orDuration(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
