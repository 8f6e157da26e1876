package risk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk risk configuration. Missing sections fall back to
// defaults, so a partial file only overrides what it names.
type Config struct {
	PositionLimit   PositionLimitConfig   `yaml:"position_limit"`
	DrawdownLimit   DrawdownLimitConfig   `yaml:"drawdown_limit"`
	ConsecutiveLoss ConsecutiveLossConfig `yaml:"consecutive_loss"`
	DailyLoss       DailyLossConfig       `yaml:"daily_loss"`
	VolatilityLimit VolatilityLimitConfig `yaml:"volatility_limit"`
}

type PositionLimitConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MaxRatio         float64 `yaml:"max_ratio"`
	MaxPositionValue float64 `yaml:"max_position_value"` // 0 disables
	MaxTotalValue    float64 `yaml:"max_total_value"`    // 0 disables
	Action           Action  `yaml:"action"`
}

type DrawdownLimitConfig struct {
	Enabled     bool    `yaml:"enabled"`
	MaxDrawdown float64 `yaml:"max_drawdown"`
	Action      Action  `yaml:"action"`
}

type ConsecutiveLossConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxLosses      int     `yaml:"max_losses"`
	MinLoss        float64 `yaml:"min_loss"` // losses smaller than this don't count
	CoolingSeconds int     `yaml:"cooling_period_seconds"`
	Action         Action  `yaml:"action"`
}

type DailyLossConfig struct {
	Enabled     bool    `yaml:"enabled"`
	MaxLoss     float64 `yaml:"max_loss"`
	ResetHour   int     `yaml:"reset_hour"`
	ResetMinute int     `yaml:"reset_minute"`
	Action      Action  `yaml:"action"`
}

type VolatilityLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	MaxRatio  float64 `yaml:"max_ratio"`
	ATRPeriod int     `yaml:"atr_period"`
	Action    Action  `yaml:"action"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		PositionLimit: PositionLimitConfig{
			Enabled:  true,
			MaxRatio: 0.8,
			Action:   ActionNotify,
		},
		DrawdownLimit: DrawdownLimitConfig{
			Enabled:     true,
			MaxDrawdown: 0.10,
			Action:      ActionClosePositions,
		},
		ConsecutiveLoss: ConsecutiveLossConfig{
			Enabled:        true,
			MaxLosses:      3,
			CoolingSeconds: 3600,
			Action:         ActionPauseStrategy,
		},
		DailyLoss: DailyLossConfig{
			Enabled:   true,
			MaxLoss:   1000,
			ResetHour: 0,
			Action:    ActionPauseStrategy,
		},
		VolatilityLimit: VolatilityLimitConfig{
			Enabled:   false,
			MaxRatio:  0.05,
			ATRPeriod: 14,
			Action:    ActionNotify,
		},
	}
}

// LoadConfig reads the YAML config at path. A missing file returns the
// defaults without error; a malformed file is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read risk config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse risk config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		return errors.New("risk config path is empty")
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal risk config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// BuildRules constructs the rule set described by cfg.
func BuildRules(cfg Config) []Rule {
	return []Rule{
		NewPositionLimit(cfg.PositionLimit),
		NewDrawdownLimit(cfg.DrawdownLimit),
		NewConsecutiveLoss(cfg.ConsecutiveLoss),
		NewDailyLoss(cfg.DailyLoss),
		NewVolatilityLimit(cfg.VolatilityLimit),
	}
}
