// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

const (
	DefaultMaxEntries           = 100
	DefaultTTL                  = 5 * time.Minute
	DefaultCompressionThreshold = 1024
	DefaultMaxPersistBytes      = 4 << 20
	DefaultMaintenanceInterval  = 5 * time.Minute
	DefaultNamespace            = "resultcache"
	DefaultEntryPriority        = PriorityMedium
)

// Config is the per-instance configuration surface. The zero value of every
// numeric field means "use the default"; negative values are rejected at
// construction time.
type Config struct {
	// Namespace prefixes durable keys so instances can share one backend.
	Namespace string
	// MaxEntries is the entry-count ceiling.
	MaxEntries int
	// DefaultTTL applies to Set calls without WithTTL.
	DefaultTTL time.Duration
	// CompressionThreshold is the payload size in bytes above which the
	// durable representation is compressed.
	CompressionThreshold int
	// MaxPersistBytes is the largest payload written to the durable tier;
	// larger values stay memory-only.
	MaxPersistBytes int
	// MaintenanceInterval paces the background TTL/LRU sweep.
	MaintenanceInterval time.Duration
	// DefaultPriority applies to Set calls without WithPriority. The zero
	// value means Medium; low-priority entries are marked per call.
	DefaultPriority Priority
	// PersistByDefault controls whether Set writes through to the durable
	// tier unless WithoutPersistence is given. Nil means true whenever a
	// durable tier is configured.
	PersistByDefault *bool
	// Durable is the optional second tier. Nil disables persistence.
	Durable DurableTier
	// Logger receives warnings about serialization and durable-tier
	// failures. Nil means no logging.
	Logger *zap.Logger
}

// withDefaults fills unset fields and validates the result. Invalid
// configuration is a programmer error and is rejected eagerly.
func (cfg Config) withDefaults() (Config, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	switch {
	case cfg.MaxEntries < 0:
		return cfg, fmt.Errorf("resultcache: max entries must be positive, got %d", cfg.MaxEntries)
	case cfg.MaxEntries == 0:
		cfg.MaxEntries = DefaultMaxEntries
	}
	switch {
	case cfg.DefaultTTL < 0:
		return cfg, fmt.Errorf("resultcache: default TTL must be positive, got %s", cfg.DefaultTTL)
	case cfg.DefaultTTL == 0:
		cfg.DefaultTTL = DefaultTTL
	}
	switch {
	case cfg.CompressionThreshold < 0:
		return cfg, fmt.Errorf("resultcache: compression threshold must be non-negative, got %d", cfg.CompressionThreshold)
	case cfg.CompressionThreshold == 0:
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	switch {
	case cfg.MaxPersistBytes < 0:
		return cfg, fmt.Errorf("resultcache: max persist bytes must be positive, got %d", cfg.MaxPersistBytes)
	case cfg.MaxPersistBytes == 0:
		cfg.MaxPersistBytes = DefaultMaxPersistBytes
	}
	switch {
	case cfg.MaintenanceInterval < 0:
		return cfg, fmt.Errorf("resultcache: maintenance interval must be positive, got %s", cfg.MaintenanceInterval)
	case cfg.MaintenanceInterval == 0:
		cfg.MaintenanceInterval = DefaultMaintenanceInterval
	}
	switch {
	case !cfg.DefaultPriority.valid():
		return cfg, fmt.Errorf("resultcache: invalid default priority %d", cfg.DefaultPriority)
	case cfg.DefaultPriority == 0:
		cfg.DefaultPriority = DefaultEntryPriority
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

// APIResponseConfig is the profile for cached upstream API responses:
// 10 minute TTL, 50 entries, persisted, high priority.
func APIResponseConfig() Config {
	return Config{
		Namespace:       "api-response",
		MaxEntries:      50,
		DefaultTTL:      10 * time.Minute,
		DefaultPriority: PriorityHigh,
	}
}

// ComputedResultConfig is the profile for short-lived analysis results:
// 2 minute TTL, 20 entries, memory-only, medium priority.
func ComputedResultConfig() Config {
	persist := false
	return Config{
		Namespace:        "computed-result",
		MaxEntries:       20,
		DefaultTTL:       2 * time.Minute,
		DefaultPriority:  PriorityMedium,
		PersistByDefault: &persist,
	}
}

// PreferencesConfig is the profile for user preferences: 24 hour TTL, 10
// entries, persisted, critical priority.
func PreferencesConfig() Config {
	return Config{
		Namespace:       "preferences",
		MaxEntries:      10,
		DefaultTTL:      24 * time.Hour,
		DefaultPriority: PriorityCritical,
	}
}

// fileConfig is the YAML shape of Config. Durations and the priority are
// strings so operators can write "5m" and "high".
type fileConfig struct {
	Namespace                 string `yaml:"namespace"`
	MaxEntries                int    `yaml:"max_entries"`
	DefaultTTL                string `yaml:"default_ttl"`
	CompressionThresholdBytes int    `yaml:"compression_threshold_bytes"`
	MaxPersistBytes           int    `yaml:"max_persist_bytes"`
	MaintenanceInterval       string `yaml:"maintenance_interval"`
	DefaultPriority           string `yaml:"default_priority"`
	PersistByDefault          *bool  `yaml:"persist_by_default"`
}

// LoadConfig reads a Config from a YAML file. The durable tier and logger
// are wired programmatically by the caller, not from the file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("resultcache: read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("resultcache: parse config: %w", err)
	}

	cfg := Config{
		Namespace:            fc.Namespace,
		MaxEntries:           fc.MaxEntries,
		CompressionThreshold: fc.CompressionThresholdBytes,
		MaxPersistBytes:      fc.MaxPersistBytes,
		PersistByDefault:     fc.PersistByDefault,
	}
	if fc.DefaultTTL != "" {
		cfg.DefaultTTL, err = time.ParseDuration(fc.DefaultTTL)
		if err != nil {
			return Config{}, fmt.Errorf("resultcache: parse default_ttl: %w", err)
		}
	}
	if fc.MaintenanceInterval != "" {
		cfg.MaintenanceInterval, err = time.ParseDuration(fc.MaintenanceInterval)
		if err != nil {
			return Config{}, fmt.Errorf("resultcache: parse maintenance_interval: %w", err)
		}
	}
	if fc.DefaultPriority != "" {
		cfg.DefaultPriority, err = parsePriority(fc.DefaultPriority)
		if err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func parsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("resultcache: unknown priority %q", s)
}
