package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/api/grpcapi"
	"github.com/KevinKickass/OpenStageCore/internal/api/rest"
	"github.com/KevinKickass/OpenStageCore/internal/api/websocket"
	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/devices"
	"github.com/KevinKickass/OpenStageCore/internal/interfaces"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

type LifecycleManager struct {
	config        *config.Config
	storage       storage.Store
	deviceManager *devices.Manager
	authService   *auth.AuthService
	wsHub         *websocket.Hub
	streamer      *grpcapi.EventStreamer
	logger        *zap.Logger

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	// stops the hub
	cancelRun context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	listenersMu     sync.RWMutex
	statusListeners []chan interfaces.SystemStatus

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(store storage.Store, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:          cfg,
		storage:         store,
		logger:          logger,
		currentState:    StateInitializing,
		shutdownChan:    make(chan struct{}),
		statusListeners: make([]chan interfaces.SystemStatus, 0),
	}

	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService)
	lm.wsHub.SetStatusProvider(lm)
	lm.streamer = grpcapi.NewEventStreamer()

	deviceManager, err := devices.NewManager(cfg, store, lm.onStageEvent, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device manager: %w", err)
	}
	lm.deviceManager = deviceManager

	return lm, nil
}

// onStageEvent fans every stage event out to websocket clients and gRPC
// watchers. It runs on the goroutine that moved the stage.
func (lm *LifecycleManager) onStageEvent(e stage.Event) {
	lm.wsHub.PublishStageEvent(e)
	lm.streamer.Broadcast(e)

	if e.Type == stage.EventMoving {
		lm.broadcastStatus()
	}
}

// Start loads the configured stages and brings up every server. A stage that
// fails to load is logged and left out.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenStageCore")

	lm.setState(StateInitializing)
	lm.broadcastStatus()

	if err := lm.deviceManager.LoadAll(ctx); err != nil {
		lm.logger.Warn("Some stages failed to load", zap.Error(err))
	}

	if err := lm.deviceManager.StartPollers(); err != nil {
		lm.logger.Warn("Failed to start pollers", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancelRun = cancel
	go lm.wsHub.Run(runCtx)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if !lm.config.Auth.IsProductionReady() && lm.config.Auth.Enabled {
		lm.logger.Warn("JWT secret is the development default or shorter than 32 characters",
			zap.String("env", lm.config.Auth.JWTSecretEnv))
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("stages", len(lm.deviceManager.ListStages())),
		zap.Bool("auth_enabled", lm.authService.Enabled()))

	return nil
}

// Shutdown gracefully shuts down the system. Only the first call does work.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		if shutdownErr != nil {
			lm.setError(shutdownErr)
		} else {
			lm.setState(StateStopped)
		}
		lm.broadcastStatus()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	appendErr := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	// REST first so no new moves arrive
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				appendErr(fmt.Errorf("rest api shutdown failed: %w", err))
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.healthServer.Shutdown()

			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				// open WatchPosition streams would hold GracefulStop forever
				lm.grpcServer.Stop()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		appendErr(errors.New("shutdown timeout exceeded"))
	}

	if lm.cancelRun != nil {
		lm.cancelRun()
	}

	if err := lm.deviceManager.StopAll(ctx); err != nil {
		appendErr(fmt.Errorf("device manager stop failed: %w", err))
	}

	mu.Lock()
	defer mu.Unlock()
	if errs == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errs
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	svc := grpcapi.NewStageService(lm.deviceManager, lm.streamer, lm.logger)
	lm.grpcServer, lm.healthServer = grpcapi.NewServer(svc, grpcapi.NewAuthorizer(lm.authService))
	lm.logger.Info("Stage gRPC service registered")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", grpcapi.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil && lm.currentState != state {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = nil
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, lastErr := lm.currentState, lm.lastError
	lm.stateMu.RUnlock()

	stages := lm.deviceManager.ListStages()
	moving := make([]string, 0)
	for _, s := range stages {
		if s.Moving() {
			moving = append(moving, s.Name())
		}
	}

	status := interfaces.SystemStatus{
		State:        state.String(),
		StageCount:   len(stages),
		MovingStages: moving,
		Timestamp:    time.Now().Unix(),
	}
	if lastErr != nil {
		status.Error = lastErr.Error()
	}
	return status
}

// GetStatus feeds the websocket hub's status message.
func (lm *LifecycleManager) GetStatus() any {
	return lm.GetCurrentStatus()
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.GetCurrentStatus()

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, status))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan interfaces.SystemStatus {
	ch := make(chan interfaces.SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan interfaces.SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// DeviceManager returns the device manager
func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// Storage returns the storage backend
func (lm *LifecycleManager) Storage() storage.Store {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
