package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if ENGINE_CONFIG is set
//  3. env (prefix ENGINE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigFile, err)
		}
	}

	// Environment variables: ENGINE_TICK_INTERVAL_MS, ENGINE_LOG_LEVEL, ...
	// Keys keep their underscores to match the koanf tags.
	envProvider := env.Provider("ENGINE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "engine_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigEnv, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigDecode, err)
	}

	if cfg.TickIntervalMs <= 0 {
		return nil, fmt.Errorf("tick_interval_ms must be positive: %w", ErrConfigInvalid)
	}
	if cfg.AutosaveIntervalMs < cfg.TickIntervalMs {
		return nil, fmt.Errorf("autosave_interval_ms below tick interval: %w", ErrConfigInvalid)
	}
	if cfg.StartDebounce < 1 {
		return nil, fmt.Errorf("start_debounce must be at least 1: %w", ErrConfigInvalid)
	}
	return &cfg, nil
}
