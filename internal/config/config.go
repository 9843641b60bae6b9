// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            int           `env:"PORT,default=8080"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`
	CORSOrigins     string        `env:"CORS_ORIGINS,default=http://localhost:5025"`
	WriteWait       time.Duration `env:"WRITE_WAIT,default=10s"`
	PongWait        time.Duration `env:"PONG_WAIT,default=60s"`
	PingPeriod      time.Duration `env:"PING_PERIOD,default=54s"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE,default=256"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=8388608"`
	SessionIdleTTL  time.Duration `env:"SESSION_IDLE_TTL,default=1h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	ArchiveDBPath   string        `env:"ARCHIVE_DB_PATH"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RecordDir       string        `env:"RECORD_DIR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromEnvSet builds a Config from an explicit set of variables.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	case c.PongWait <= 0 || c.WriteWait <= 0:
		return errors.New("PONG_WAIT and WRITE_WAIT must be positive")
	case c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait:
		return fmt.Errorf("PING_PERIOD (%s) must be positive and less than PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	case c.SendBufferSize <= 0:
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive: %d", c.SendBufferSize)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive: %d", c.MaxMessageSize)
	case c.SessionIdleTTL <= 0 || c.SweepInterval <= 0:
		return errors.New("SESSION_IDLE_TTL and SWEEP_INTERVAL must be positive")
	case c.ShutdownTimeout <= 0:
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Origins returns the allowed CORS origins. "*" allows any origin.
func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
