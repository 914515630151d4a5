package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenStageCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	// read state and move
	PermOperator Permission = "operator"
	// set the zero position
	PermTechnician Permission = "technician"
	// change axis inversion
	PermAdmin Permission = "admin"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	enabled        bool
	users          map[string]config.UserConfig
	apiTokens      []config.APITokenConfig
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger
}

// Identity is the caller behind a validated token.
type Identity struct {
	Name        string       `json:"name"`
	Role        string       `json:"role,omitempty"`
	Kind        string       `json:"kind"` // user, api_token, anonymous
	Permissions []Permission `json:"permissions"`
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is the development default or shorter than 32 characters",
			zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		enabled:        cfg.Enabled,
		users:          users,
		apiTokens:      cfg.APITokens,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
	}
}

func (a *AuthService) Enabled() bool { return a.enabled }

// LoginUser checks the password of a configured user and returns an access
// token.
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (string, error) {
	user, ok := a.users[username]
	if !ok {
		a.logAuthEvent("user_login_failed", username, ipAddress, "user not found")
		return "", ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		a.logAuthEvent("user_login_failed", username, ipAddress, "invalid password")
		return "", ErrInvalidCredentials
	}
	if a.passwordHasher.NeedsRehash(user.PasswordHash) {
		a.logger.Warn("Password hash below current cost settings, regenerate with hash-password",
			zap.String("username", username))
	}

	accessToken, err := a.jwtHandler.GenerateAccessToken(user.Username, user.Role)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent("user_login_success", username, ipAddress, "")
	return accessToken, nil
}

func (a *AuthService) AccessTokenTTL() int {
	return int(a.jwtHandler.AccessTokenTTL().Seconds())
}

// ValidateAPIToken checks token against the configured token hashes.
func (a *AuthService) ValidateAPIToken(token, ipAddress string) (*Identity, error) {
	if !ValidateAPITokenFormat(token) {
		return nil, fmt.Errorf("invalid token format")
	}

	hash := HashAPIToken(token)
	for _, t := range a.apiTokens {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(strings.ToLower(t.TokenHash))) != 1 {
			continue
		}

		permissions := make([]Permission, len(t.Permissions))
		for i, p := range t.Permissions {
			permissions[i] = Permission(p)
		}
		return &Identity{Name: t.Name, Kind: "api_token", Permissions: permissions}, nil
	}

	a.logAuthEvent("api_token_failed", "", ipAddress, "token not found")
	return nil, fmt.Errorf("invalid token")
}

// ValidateToken validates any token (JWT or API token)
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress string) (*Identity, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return &Identity{
			Name:        claims.Username,
			Role:        claims.Role,
			Kind:        "user",
			Permissions: RoleToPermissions(claims.Role),
		}, nil
	}

	return a.ValidateAPIToken(token, ipAddress)
}

// Anonymous is the identity used while authentication is disabled.
func Anonymous() *Identity {
	return &Identity{
		Name:        "anonymous",
		Kind:        "anonymous",
		Permissions: RoleToPermissions("admin"),
	}
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (i *Identity) Has(required Permission) bool {
	for _, p := range i.Permissions {
		if p == required {
			return true
		}
	}
	return false
}

func (a *AuthService) logAuthEvent(eventType, subject, ip, reason string) {
	a.logger.Info("Auth event",
		zap.String("event", eventType),
		zap.String("subject", subject),
		zap.String("ip", ip),
		zap.String("reason", reason))
}
