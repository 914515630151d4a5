package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/storage"
	"go.uber.org/zap/zaptest"
)

const benchProfile = `{
  "stage_profile": {"id": "bench"},
  "driver": {"type": "simulated", "step_time_ms": 20},
  "axes": ["x", "y", "z"]
}`

func newTestLifecycle(t *testing.T) *LifecycleManager {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.json"), []byte(benchProfile), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	cfg := config.Default()
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.Stages.ProfilePaths = []string{dir}
	cfg.Stages.PollInterval = 0
	cfg.Stages.Instances = []config.StageInstance{
		{Name: "main", Profile: "bench"},
		{Name: "ghost", Profile: "missing"},
	}

	lm, err := NewLifecycleManager(storage.NewMemoryStore(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager failed: %v", err)
	}
	return lm
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	lm := newTestLifecycle(t)
	ctx := context.Background()

	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" {
		t.Errorf("state = %s, want RUNNING", status.State)
	}
	// the stage with a missing profile is skipped
	if status.StageCount != 1 {
		t.Errorf("stage_count = %d, want 1", status.StageCount)
	}

	updates := lm.SubscribeStatus()
	st, ok := lm.DeviceManager().GetStage("main")
	if !ok {
		t.Fatal("stage main not loaded")
	}
	if err := st.MoveRelative(ctx, stage.Position{"x": 3}, false); err != nil {
		t.Fatalf("MoveRelative failed: %v", err)
	}

	sawMoving := false
	timeout := time.After(2 * time.Second)
	for !sawMoving {
		select {
		case s := <-updates:
			if len(s.MovingStages) == 1 && s.MovingStages[0] == "main" {
				sawMoving = true
			}
		case <-timeout:
			t.Fatal("no status update listed the moving stage")
		}
	}
	lm.UnsubscribeStatus(updates)

	if moves, _ := lm.Storage().ListMoves(ctx, "main", 10); len(moves) != 1 {
		t.Errorf("journal has %d moves, want 1", len(moves))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := lm.GetCurrentStatus().State; got != "STOPPED" {
		t.Errorf("state after shutdown = %s", got)
	}
	if err := lm.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}

	select {
	case <-lm.Done():
	default:
		t.Error("Done not closed after Shutdown")
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateInitializing, true},
		{StateError, StateStopping, true},
		{StateRunning, StateInitializing, false},
		{StateStopped, StateRunning, false},
		{SystemState(42), StateRunning, false},
	}

	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}
