package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// RedisConfig is the connection shared by the definitions storage and the
// telemetry recorder.
type RedisConfig struct {
	// URL ("redis://" or "rediss://") takes precedence over the fields below.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	// ClientName is reported by CLIENT LIST, so operators can tell evaluator
	// connections apart from the synchronizer's.
	ClientName string `envconfig:"CLIENT_NAME" default:"bifrost-evaluator"`

	// Pool. Evaluation reads are small and bounded by the storage lookup
	// timeout; telemetry pushes are the larger writes.
	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	// Startup ping. The backoff doubles after every failed attempt.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Addr returns host:port built from Host and Port.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IsConfigured reports whether a URL or a host and port are set.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// Validate checks the connection settings. Production requires TLS and a
// strong password, given either through the fields or the URL.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := c.validateURL(environment); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else if err := c.validateComponents(environment); err != nil {
		return err
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("redis min idle conns (%d) cannot exceed pool size (%d)", c.MinIdleConns, c.PoolSize)
	}
	if c.MinRetryBackoff > c.MaxRetryBackoff {
		return fmt.Errorf("redis min retry backoff (%s) cannot exceed max retry backoff (%s)",
			c.MinRetryBackoff, c.MaxRetryBackoff)
	}
	if c.PingBackoff <= 0 {
		return fmt.Errorf("redis ping backoff must be positive, got %s", c.PingBackoff)
	}
	return nil
}

func (c *RedisConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if c.Password == "" {
		return fmt.Errorf("redis password is required in production environment")
	}
	if err := validatePasswordStrength(c.Password, "redis", environment); err != nil {
		return err
	}
	if !c.TLSEnabled {
		return fmt.Errorf("redis TLS must be enabled in production environment")
	}
	return nil
}

func (c *RedisConfig) validateURL(environment string) error {
	parsed, err := parseAndValidateURL(c.URL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	if db := strings.TrimPrefix(parsed.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("database number must be a valid integer: %s", db)
		}
		if n < 0 || n > 15 {
			return fmt.Errorf("database number must be between 0 and 15, got %d", n)
		}
	}

	if environment == EnvironmentProduction && parsed.Scheme != "rediss" && !c.TLSEnabled {
		return fmt.Errorf("production requires a rediss:// URL or TLS enabled")
	}
	return nil
}
