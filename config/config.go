package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Bind              string        `yaml:"bind"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownGrace     time.Duration `yaml:"shutdownGrace"`
	TrustedProxies    []string      `yaml:"trustedProxies,omitempty"`
}

type Store struct {
	Dir              string        `yaml:"dir"`
	MaxAttempts      int           `yaml:"maxAttempts"`
	RetryInterval    time.Duration `yaml:"retryInterval"`
	AttemptTimeout   time.Duration `yaml:"attemptTimeout"`
	RecoveryInterval time.Duration `yaml:"recoveryInterval"` // 0 disables probing after the retry budget is spent
	PingInterval     time.Duration `yaml:"pingInterval"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwtSecret"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}

type SessionsConfig struct {
	WebSocketReadBufferSize  int   `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int   `yaml:"webSocketWriteBufferSize"`
	SendBufferSize           int   `yaml:"sendBufferSize"`
	MaxMessageSize           int64 `yaml:"maxMessageSize"`
	MaxConnections           int   `yaml:"maxConnections"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	API      RateLimiterConfig `yaml:"api"`
	Auth     RateLimiterConfig `yaml:"auth"`
	Realtime RateLimiterConfig `yaml:"realtime"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server       Server         `yaml:"server"`
	Store        Store          `yaml:"store"`
	Auth         Auth           `yaml:"auth"`
	Sessions     SessionsConfig `yaml:"sessions"`
	RateLimiters RateLimiters   `yaml:"rateLimiters"`
	Logging      Logging        `yaml:"logging"`
}

// envOverrides holds raw env values applied on top of the file. The names
// match what deployments of the service already export.
type envOverrides struct {
	Port        string        `env:"PORT"`
	Bind        string        `env:"COLLAB_BIND"`
	DataDir     string        `env:"COLLAB_DATA_DIR"`
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"COLLAB_TOKEN_TTL"`
	LogLevel    string        `env:"COLLAB_LOG_LEVEL"`
	MaxAttempts int           `env:"COLLAB_STORE_MAX_ATTEMPTS"`
	RetryEvery  time.Duration `env:"COLLAB_STORE_RETRY_INTERVAL"`
}

var (
	ErrConfigFileUnreadable          = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable      = errors.New("config file is unmarshallable")
	ErrConfigEnvInvalid              = errors.New("environment overrides are invalid")
	ErrBindInvalid                   = errors.New("server.bind must be a host:port address")
	ErrShutdownGraceInvalid          = errors.New("server.shutdownGrace must be positive")
	ErrStoreDirMissing               = errors.New("store.dir is missing in config")
	ErrStoreMaxAttemptsInvalid       = errors.New("store.maxAttempts must be at least 1")
	ErrStoreRetryIntervalInvalid     = errors.New("store.retryInterval must be positive")
	ErrStoreAttemptTimeoutInvalid    = errors.New("store.attemptTimeout must be positive")
	ErrStoreRecoveryIntervalInvalid  = errors.New("store.recoveryInterval must not be negative")
	ErrJWTSecretMissing              = errors.New("auth.jwtSecret is missing in config")
	ErrTokenTTLInvalid               = errors.New("auth.tokenTTL must be positive")
	ErrSessionsSendBufferSizeInvalid = errors.New("sessions.sendBufferSize is missing or invalid in config")
	ErrSessionsReadBufferSizeInvalid = errors.New("sessions.webSocketReadBufferSize is missing or invalid in config")
	ErrSessionsWriteBufferInvalid    = errors.New("sessions.webSocketWriteBufferSize is missing or invalid in config")
	ErrSessionsMaxMessageSizeInvalid = errors.New("sessions.maxMessageSize is missing or invalid in config")
	ErrSessionsMaxConnectionsInvalid = errors.New("sessions.maxConnections is missing or invalid in config")
	ErrRateLimitersAPILimitMissing   = errors.New("rateLimiters.api.limit is missing in config")
	ErrRateLimitersAuthLimitMissing  = errors.New("rateLimiters.auth.limit is missing in config")
	ErrRateLimitersRealtimeMissing   = errors.New("rateLimiters.realtime.limit is missing in config")
	ErrLoggingLevelInvalid           = errors.New("logging.level must be one of debug, info, warn, error")
)

// LoadConfig reads the yaml file on top of the generated defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(configFile string) (*Config, error) {
	cfg := GenerateConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigFileUnreadable, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigFileUnmarshallable, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigEnvInvalid, err)
	}

	if port := strings.TrimSpace(raw.Port); port != "" {
		host, _, err := net.SplitHostPort(cfg.Server.Bind)
		if err != nil {
			host = ""
		}
		cfg.Server.Bind = net.JoinHostPort(host, port)
	}
	if bind := strings.TrimSpace(raw.Bind); bind != "" {
		cfg.Server.Bind = bind
	}
	if dir := strings.TrimSpace(raw.DataDir); dir != "" {
		cfg.Store.Dir = dir
	}
	if secret := strings.TrimSpace(raw.JWTSecret); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if raw.TokenTTL > 0 {
		cfg.Auth.TokenTTL = raw.TokenTTL
	}
	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if raw.MaxAttempts > 0 {
		cfg.Store.MaxAttempts = raw.MaxAttempts
	}
	if raw.RetryEvery > 0 {
		cfg.Store.RetryInterval = raw.RetryEvery
	}
	return nil
}

func (cfg *Config) Validate() error {
	if _, _, err := net.SplitHostPort(cfg.Server.Bind); err != nil {
		return ErrBindInvalid
	}
	if cfg.Server.ShutdownGrace <= 0 {
		return ErrShutdownGraceInvalid
	}

	if cfg.Store.Dir == "" {
		return ErrStoreDirMissing
	}
	if cfg.Store.MaxAttempts < 1 {
		return ErrStoreMaxAttemptsInvalid
	}
	if cfg.Store.RetryInterval <= 0 {
		return ErrStoreRetryIntervalInvalid
	}
	if cfg.Store.AttemptTimeout <= 0 {
		return ErrStoreAttemptTimeoutInvalid
	}
	if cfg.Store.RecoveryInterval < 0 {
		return ErrStoreRecoveryIntervalInvalid
	}

	if cfg.Auth.JWTSecret == "" {
		return ErrJWTSecretMissing
	}
	if cfg.Auth.TokenTTL <= 0 {
		return ErrTokenTTLInvalid
	}

	if cfg.Sessions.SendBufferSize <= 0 {
		return ErrSessionsSendBufferSizeInvalid
	}
	if cfg.Sessions.WebSocketReadBufferSize <= 0 {
		return ErrSessionsReadBufferSizeInvalid
	}
	if cfg.Sessions.WebSocketWriteBufferSize <= 0 {
		return ErrSessionsWriteBufferInvalid
	}
	if cfg.Sessions.MaxMessageSize <= 0 {
		return ErrSessionsMaxMessageSizeInvalid
	}
	if cfg.Sessions.MaxConnections <= 0 {
		return ErrSessionsMaxConnectionsInvalid
	}

	if cfg.RateLimiters.API.Limit == 0 {
		return ErrRateLimitersAPILimitMissing
	}
	if cfg.RateLimiters.Auth.Limit == 0 {
		return ErrRateLimitersAuthLimitMissing
	}
	if cfg.RateLimiters.Realtime.Limit == 0 {
		return ErrRateLimitersRealtimeMissing
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrLoggingLevelInvalid
	}
	return nil
}

// GenerateConfig returns the default configuration. The store retry budget
// (20 attempts, 3s apart) matches what container platforms tolerate for a
// cold database.
func GenerateConfig() *Config {
	return &Config{
		Server: Server{
			Bind:              "0.0.0.0:4000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownGrace:     5 * time.Second,
		},
		Store: Store{
			Dir:              "data/collabmate",
			MaxAttempts:      20,
			RetryInterval:    3 * time.Second,
			AttemptTimeout:   5 * time.Second,
			RecoveryInterval: 30 * time.Second,
			PingInterval:     5 * time.Second,
		},
		Auth: Auth{
			JWTSecret: "devsecret",
			TokenTTL:  7 * 24 * time.Hour,
		},
		Sessions: SessionsConfig{
			WebSocketReadBufferSize:  4096,
			WebSocketWriteBufferSize: 4096,
			SendBufferSize:           256,
			MaxMessageSize:           4096,
			MaxConnections:           1000,
		},
		RateLimiters: RateLimiters{
			API:      RateLimiterConfig{Limit: 100.0, Burst: 200},
			Auth:     RateLimiterConfig{Limit: 5.0, Burst: 10},
			Realtime: RateLimiterConfig{Limit: 20.0, Burst: 40},
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
