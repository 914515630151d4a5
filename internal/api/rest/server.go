package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/api/websocket"
	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: a move request returns only when the stage has arrived
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ====================
		v1.POST("/auth/login", s.login)

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== PROFILES (OPERATOR+) ====================
		profiles := v1.Group("/profiles")
		profiles.Use(s.authService.AuthMiddleware())
		profiles.Use(auth.RequirePermission(auth.PermOperator))
		{
			profiles.GET("", s.listProfiles)
			profiles.GET("/:id", s.getProfile)
		}

		// ==================== STAGES ====================
		stages := v1.Group("/stages")
		stages.Use(s.authService.AuthMiddleware())
		{
			// Read & move: Operator+
			stages.GET("", auth.RequirePermission(auth.PermOperator), s.listStages)
			stages.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getStage)
			stages.GET("/:name/moves", auth.RequirePermission(auth.PermOperator), s.listMoves)
			stages.GET("/:name/xyz_position", auth.RequirePermission(auth.PermOperator), s.getXYZPosition)
			stages.POST("/:name/xyz_position", auth.RequirePermission(auth.PermOperator), s.moveToXYZPosition)
			stages.POST("/:name/move_relative", auth.RequirePermission(auth.PermOperator), s.moveRelative)
			stages.POST("/:name/move_absolute", auth.RequirePermission(auth.PermOperator), s.moveAbsolute)
			stages.POST("/:name/refresh", auth.RequirePermission(auth.PermOperator), s.refreshStage)

			// Technician+
			stages.POST("/:name/set_zero_position", auth.RequirePermission(auth.PermTechnician), s.setZeroPosition)

			// Admin only
			stages.POST("/:name/invert_axis_direction", auth.RequirePermission(auth.PermAdmin), s.invertAxisDirection)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
