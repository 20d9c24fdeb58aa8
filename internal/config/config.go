// Package config loads engine configuration from environment variables.
//
// Optional variables:
//   - REX_RULES_LOCATION: rule file, directory, file: path or resource: path
//     (default "rules/").
//   - REX_HOT_RELOAD: reload rules when their files change (default false).
//   - REX_STOP_ON_FIRST_APPLIED: stop each execution after the first rule
//     that fires (default false).
//   - REX_FAIL_ON_LOAD_ERROR: treat a failed initial load as fatal instead of
//     starting with no rules (default true).
//   - REX_RELOAD_DEBOUNCE: window in which file changes collapse into one
//     reload (default "100ms", must be > 0 if set).
//   - REX_RELOAD_WORKERS: goroutines running file-triggered reloads
//     (default "2", must be > 0 if set).
//   - LOG_LEVEL: zerolog level name (default "info").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRulesLocation  = "rules/"
	defaultReloadDebounce = 100 * time.Millisecond
	defaultReloadWorkers  = 2
)

// Config holds the engine configuration.
type Config struct {
	RulesLocation      string
	HotReload          bool
	StopOnFirstApplied bool
	FailOnLoadError    bool
	ReloadDebounce     time.Duration
	ReloadWorkers      int
	LogLevel           string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		RulesLocation:   defaultRulesLocation,
		FailOnLoadError: true,
		ReloadDebounce:  defaultReloadDebounce,
		ReloadWorkers:   defaultReloadWorkers,
		LogLevel:        "info",
	}
}

// Load reads configuration from environment variables, applying defaults
// where appropriate. It returns an error if a value fails validation.
func Load() (Config, error) {
	cfg := Default()
	cfg.RulesLocation = envOrDefault("REX_RULES_LOCATION", defaultRulesLocation)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")

	var err error
	if cfg.HotReload, err = envBool("REX_HOT_RELOAD", false); err != nil {
		return Config{}, err
	}
	if cfg.StopOnFirstApplied, err = envBool("REX_STOP_ON_FIRST_APPLIED", false); err != nil {
		return Config{}, err
	}
	if cfg.FailOnLoadError, err = envBool("REX_FAIL_ON_LOAD_ERROR", true); err != nil {
		return Config{}, err
	}

	if value := strings.TrimSpace(os.Getenv("REX_RELOAD_DEBOUNCE")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse REX_RELOAD_DEBOUNCE: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("REX_RELOAD_DEBOUNCE must be > 0")
		}
		cfg.ReloadDebounce = parsed
	}

	if v := strings.TrimSpace(os.Getenv("REX_RELOAD_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("REX_RELOAD_WORKERS must be a positive integer")
		}
		cfg.ReloadWorkers = n
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}
