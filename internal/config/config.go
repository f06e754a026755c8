package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	JWT        JWTConfig        `yaml:"jwt"`
	Authz      AuthzConfig      `yaml:"authz"`
	Log        LogConfig        `yaml:"log"`
	Governance GovernanceConfig `yaml:"governance"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig represents server identity
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API listener configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthzConfig represents RBAC enforcement configuration
type AuthzConfig struct {
	// Mode is enforce, shadow or disabled
	Mode       string `yaml:"mode"`
	ModelPath  string `yaml:"model_path"`
	PolicyPath string `yaml:"policy_path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GovernanceConfig represents pipeline defaults
type GovernanceConfig struct {
	// DefaultTimeout bounds a pool call when the pool carries no budget
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// MinQuorum is the default minimum evaluator score count
	MinQuorum int `yaml:"min_quorum"`
	// FailOpenQuota keeps serving when the quota ledger is unreachable.
	// Degraded-mode events are always logged and audited.
	FailOpenQuota bool `yaml:"fail_open_quota"`
}

// AuditConfig represents the async audit recorder configuration
type AuditConfig struct {
	BufferSize int           `yaml:"buffer_size"`
	MaxRetries uint64        `yaml:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if mode := os.Getenv("AUTHZ_MODE"); mode != "" {
		c.Authz.Mode = mode
	}
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Authz.Mode == "" {
		c.Authz.Mode = "enforce"
	}
	if c.Governance.DefaultTimeout == 0 {
		c.Governance.DefaultTimeout = 5 * time.Second
	}
	if c.Governance.MinQuorum == 0 {
		c.Governance.MinQuorum = 1
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1024
	}
	if c.Audit.MaxRetries == 0 {
		c.Audit.MaxRetries = 5
	}
	if c.Audit.RetryBase == 0 {
		c.Audit.RetryBase = 250 * time.Millisecond
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Authz.Mode {
	case "enforce", "shadow", "disabled":
	default:
		return fmt.Errorf("invalid authz.mode: %s", c.Authz.Mode)
	}
	return nil
}
