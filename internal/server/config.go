// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat relay service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/messagelog"
)

const (
	defaultPort              = ":8080"
	defaultOrigin            = "http://localhost:8080"
	defaultMaxMessageSize    = 4096
	defaultBurst             = 5
	defaultRefillInterval    = time.Second
	defaultSendBufferSize    = 256
	defaultRelayQueueSize    = 1024
	defaultMessageLogPath    = "messages.log"
	defaultShutdownTimeout   = 10 * time.Second
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultMessageLogBackend = messagelog.BackendFile

	// A payload can grow up to six times when re-encoded for the log
	// (HTML escaping of <, > and &), so frames stay well below a log line.
	maxMessageSizeLimit = messagelog.MaxLineSize / 8
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
// Fields are read from the environment; AllowedOrigins is derived from the
// comma separated ALLOWED_ORIGINS value.
type Config struct {
	Port                    string        `env:"SERVER_PORT,default=:8080"`
	Origins                 string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256"`
	RelayQueueSize          int           `env:"RELAY_QUEUE_SIZE,default=1024"`
	MessageLogBackend       string        `env:"MESSAGE_LOG_BACKEND,default=file"`
	MessageLogPath          string        `env:"MESSAGE_LOG_PATH,default=messages.log"`
	MessageLogSync          bool          `env:"MESSAGE_LOG_SYNC,default=false"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel                string        `env:"LOG_LEVEL,default=info"`
	LogFormat               string        `env:"LOG_FORMAT,default=text"`

	AllowedOrigins []string
}

func defaultConfig() Config {
	return Config{
		Port:                    defaultPort,
		Origins:                 defaultOrigin,
		AllowedOrigins:          []string{defaultOrigin},
		MaxMessageSize:          defaultMaxMessageSize,
		RateLimitBurst:          defaultBurst,
		RateLimitRefillInterval: defaultRefillInterval,
		SendBufferSize:          defaultSendBufferSize,
		RelayQueueSize:          defaultRelayQueueSize,
		MessageLogBackend:       defaultMessageLogBackend,
		MessageLogPath:          defaultMessageLogPath,
		ShutdownTimeout:         defaultShutdownTimeout,
		LogLevel:                defaultLogLevel,
		LogFormat:               defaultLogFormat,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads an optional .env file, then the process environment.
// Values missing from both keep their defaults.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg := defaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.AllowedOrigins = parseOrigins(cfg.Origins)

	sanitized := cfg.Sanitize()
	return &sanitized, nil
}

// Sanitize replaces invalid values with defaults and normalizes origins.
func (c Config) Sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.MaxMessageSize > maxMessageSizeLimit {
		c.MaxMessageSize = maxMessageSizeLimit
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = defaultRefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaultSendBufferSize
	}
	if c.RelayQueueSize <= 0 {
		c.RelayQueueSize = defaultRelayQueueSize
	}
	if c.MessageLogBackend == "" {
		c.MessageLogBackend = defaultMessageLogBackend
	}
	if c.MessageLogPath == "" {
		c.MessageLogPath = defaultMessageLogPath
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// RateLimit returns the per-connection token bucket settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{
		Burst:          c.RateLimitBurst,
		RefillInterval: c.RateLimitRefillInterval,
	}
}

// MessageLog returns the options used to open the durable message log.
func (c Config) MessageLog() messagelog.Options {
	return messagelog.Options{
		Backend: c.MessageLogBackend,
		Path:    c.MessageLogPath,
		Sync:    c.MessageLogSync,
	}
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
