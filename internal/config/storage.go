package config

import (
	"fmt"
	"time"
)

// Storage backends.
const (
	StorageTypeRedis  = "redis"
	StorageTypeMemory = "memory"
)

// StorageConfig selects where flag definitions and segments are read from.
type StorageConfig struct {
	Type string `envconfig:"TYPE" default:"redis" validate:"oneof=redis memory"`

	// Prefix namespaces every Redis key as "prefix.KEY", shared with the recorder.
	Prefix string `envconfig:"PREFIX"`

	// L1 cache of compiled flags in front of Redis. Capacity 0 disables it.
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"10000" validate:"min=0"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"10s"`

	// LookupTimeout bounds each Redis round trip on the evaluation path.
	LookupTimeout time.Duration `envconfig:"LOOKUP_TIMEOUT" default:"500ms"`

	// DefinitionsFile seeds the memory storage with a JSON snapshot.
	DefinitionsFile string `envconfig:"DEFINITIONS_FILE"`
	// DefinitionsRefresh polls DefinitionsFile for changes. Zero disables it.
	DefinitionsRefresh time.Duration `envconfig:"DEFINITIONS_REFRESH" default:"0s"`
}

// Validate checks StorageConfig fields for correctness.
func (c *StorageConfig) Validate() error {
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("storage lookup timeout must be positive, got %s", c.LookupTimeout)
	}
	if c.L1Capacity > 0 && c.L1TTL <= 0 {
		return fmt.Errorf("storage L1 TTL must be positive when the L1 is enabled, got %s", c.L1TTL)
	}
	if c.Type == StorageTypeMemory && c.DefinitionsFile == "" {
		return fmt.Errorf("memory storage requires a definitions file")
	}
	if c.DefinitionsRefresh != 0 && c.DefinitionsRefresh < time.Second {
		return fmt.Errorf("definitions refresh must be zero or at least 1s, got %s", c.DefinitionsRefresh)
	}
	return nil
}
