package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig
const EnvPrefix = "DAEDALUS_"

// IteratorMode defines how array iterations are processed
type IteratorMode string

const (
	IteratorModeParallel   IteratorMode = "parallel"
	IteratorModeSequential IteratorMode = "sequential"
)

// ConfigSource indicates where MaxConcurrent came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds concurrency configuration parameters
type Config struct {
	// MaxConcurrent is the capacity of shared limiters and the default parallel window
	MaxConcurrent int
	// TaskConcurrency is the default in-flight window of a task (1 = strictly sequential)
	TaskConcurrency int
	// ItemTimeout bounds a single actuator call (0 = unbounded)
	ItemTimeout time.Duration
	// RetryAttempts is the default attempt budget for retried operations
	RetryAttempts int
	IteratorMode  IteratorMode
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// settings is the layered view koanf unmarshals into
type settings struct {
	MaxConcurrent         int           `koanf:"max_concurrent"`
	ConcurrencyMultiplier int           `koanf:"concurrency_multiplier"`
	TaskConcurrency       int           `koanf:"task_concurrency"`
	ItemTimeout           time.Duration `koanf:"item_timeout"`
	RetryAttempts         int           `koanf:"retry_attempts"`
	IteratorMode          string        `koanf:"iterator_mode"`
}

func defaultSettings() settings {
	return settings{
		TaskConcurrency: 1,
		RetryAttempts:   3,
		IteratorMode:    string(IteratorModeSequential),
	}
}

// LoadConfig loads configuration with priority: env vars > auto-detection > defaults.
//
// Recognised variables (all prefixed with DAEDALUS_): MAX_CONCURRENT,
// CONCURRENCY_MULTIPLIER, TASK_CONCURRENCY, ITEM_TIMEOUT (e.g. "250ms"),
// RETRY_ATTEMPTS and ITERATOR_MODE.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load default settings: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var s settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, daedalusErrors.NewError(daedalusErrors.CodeInvalidConfig, "failed to decode settings", err)
	}

	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
		ItemTimeout:   s.ItemTimeout,
	}

	switch {
	case s.MaxConcurrent > 0:
		config.MaxConcurrent = s.MaxConcurrent
		config.Source = ConfigSourceEnvVar
	case s.ConcurrencyMultiplier > 0:
		config.MaxConcurrent = config.EffectiveCPUs * s.ConcurrencyMultiplier
		config.Source = ConfigSourceEnvVar
	default:
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	config.TaskConcurrency = max(s.TaskConcurrency, 1)

	if s.RetryAttempts < 1 {
		return nil, daedalusErrors.InvalidConfig("retry_attempts must be positive, got %d", s.RetryAttempts)
	}
	config.RetryAttempts = s.RetryAttempts

	if s.ItemTimeout < 0 {
		return nil, daedalusErrors.InvalidConfig("item_timeout cannot be negative, got %s", s.ItemTimeout)
	}

	// unknown modes fall back to sequential
	config.IteratorMode = IteratorMode(strings.ToLower(s.IteratorMode))
	if config.IteratorMode != IteratorModeParallel {
		config.IteratorMode = IteratorModeSequential
	}

	return config, nil
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		// conservative inside CPU-limited containers
		return cpus * 2
	}
	return cpus * 4
}

// NewLimiter builds a limiter sized by MaxConcurrent
func (c *Config) NewLimiter() *Limiter {
	return NewLimiter(c.MaxConcurrent)
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, TaskConcurrency: %d, ItemTimeout: %s, RetryAttempts: %d, IteratorMode: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.TaskConcurrency,
		c.ItemTimeout,
		c.RetryAttempts,
		c.IteratorMode,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
