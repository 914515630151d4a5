package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Stages    StagesConfig    `mapstructure:"stages"`
	Moonraker MoonrakerConfig `mapstructure:"moonraker"`
	Serial    SerialConfig    `mapstructure:"serial"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // postgres, sqlite, memory
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	SQLitePath     string `mapstructure:"sqlite_path"`
}

type AuthConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	JWTSecretEnv   string           `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration    `mapstructure:"access_token_ttl"`
	Users          []UserConfig     `mapstructure:"users"`
	APITokens      []APITokenConfig `mapstructure:"api_tokens"`
}

type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // argon2id
	Role         string `mapstructure:"role"`
}

type APITokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"` // hex sha256
	Permissions []string `mapstructure:"permissions"`
}

type StagesConfig struct {
	ProfilePaths []string        `mapstructure:"profile_paths"`
	PollInterval time.Duration   `mapstructure:"poll_interval"`
	Instances    []StageInstance `mapstructure:"instances"`
}

// StageInstance binds a stage name to a profile. Driver settings given here
// override the profile's.
type StageInstance struct {
	Name    string         `mapstructure:"name"`
	Profile string         `mapstructure:"profile"`
	Driver  map[string]any `mapstructure:"driver"`
}

type MoonrakerConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Port         int           `mapstructure:"port"`
	Speed        int           `mapstructure:"speed"`
	Acceleration int           `mapstructure:"acceleration"`
	Timeout      time.Duration `mapstructure:"timeout"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
}

type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment variables with prefix OSC_, e.g. OSC_SERVER_HTTP_PORT
	v.SetEnvPrefix("OSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		// defaults are static
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.sqlite_path", "openstage.db")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("stages.profile_paths", []string{"stage-profiles"})
	v.SetDefault("stages.poll_interval", "1s")

	v.SetDefault("moonraker.base_url", "http://127.0.0.1")
	v.SetDefault("moonraker.port", 7125)
	v.SetDefault("moonraker.speed", 1000)
	v.SetDefault("moonraker.acceleration", 15000)
	v.SetDefault("moonraker.timeout", "60s")
	v.SetDefault("moonraker.api_key_env", "MOONRAKER_API_KEY")

	v.SetDefault("serial.device", "/dev/ttyACM0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.read_timeout", "60s")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	seen := make(map[string]bool)
	for _, inst := range c.Stages.Instances {
		if inst.Name == "" {
			return fmt.Errorf("stage instance without name")
		}
		if inst.Profile == "" {
			return fmt.Errorf("stage %s: profile is required", inst.Name)
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate stage %s", inst.Name)
		}
		seen[inst.Name] = true
	}

	if c.Stages.PollInterval < 0 {
		return fmt.Errorf("stages.poll_interval must not be negative")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}

// APIKey returns the Moonraker API key, if one is set.
func (m *MoonrakerConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}
