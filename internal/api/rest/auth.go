package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	if !s.authService.Enabled() {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeAuthDisabled, "Authentication is disabled", nil))
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeAuthBadRequest, "Invalid request body", err.Error()))
		return
	}

	accessToken, err := s.authService.LoginUser(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthenticated, "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.authService.AccessTokenTTL(),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, auth.GetIdentity(c))
}
