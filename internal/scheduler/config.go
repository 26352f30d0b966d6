package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/ecopoints/internal/config"
)

// Config controls the weekly fanout.
type Config struct {
	WeeklySummaryCron string
	BatchSize         int
	FanoutTimeout     time.Duration
	LockKey           string
}

func DefaultConfig() Config {
	return Config{
		WeeklySummaryCron: "0 23 * * 0",
		BatchSize:         500,
		FanoutTimeout:     10 * time.Minute,
		LockKey:           "ecopoints:scheduler:weekly_summary",
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{WeeklySummaryCron: strings.TrimSpace(cfg.WeeklySummaryCron)}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.WeeklySummaryCron == "" {
		c.WeeklySummaryCron = defaults.WeeklySummaryCron
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.FanoutTimeout <= 0 {
		c.FanoutTimeout = defaults.FanoutTimeout
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}
