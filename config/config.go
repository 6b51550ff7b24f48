// Package config handles runtime settings for the nekochat server:
// defaults first, then an environment overlay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings for the chat relay.
//
// Fields:
//   - Addr: bind address for the HTTP endpoint.
//   - SecretKey: HMAC secret for signing session tokens (HS256). Do not use
//     the default outside development.
//   - SessionTTL: lifetime of an issued session token.
//   - MaxReward: cap for a user's reward balance.
//   - MinPasswordLen / MaxMessageLen: validation limits.
//   - ThinkDelayMin / ThinkDelayMax: bounds of the randomized delay before
//     the assistant reply.
//   - RewardChance: probability that the default policy grants a reward.
//   - DevMode: relaxes websocket origin checks for local frontends.
type Config struct {
	Addr           string
	SecretKey      string
	SessionTTL     time.Duration
	MaxReward      int
	MinPasswordLen int
	MaxMessageLen  int
	ThinkDelayMin  time.Duration
	ThinkDelayMax  time.Duration
	RewardChance   float64
	DevMode        bool
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.SecretKey = "neko-secret-key"
	c.SessionTTL = 7 * 24 * time.Hour
	c.MaxReward = 1200
	c.MinPasswordLen = 6
	c.MaxMessageLen = 500
	c.ThinkDelayMin = 1 * time.Second
	c.ThinkDelayMax = 2500 * time.Millisecond
	c.RewardChance = 0.3
	c.DevMode = false
}

// Load builds a Config by applying defaults and overlaying environment
// variables.
func Load() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.loadEnv()
	return cfg
}

func (c *Config) loadEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	if v := os.Getenv("ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.SecretKey = v
	}
	overlayDuration(&c.SessionTTL, "SESSION_TTL")
	overlayInt(&c.MaxReward, "MAX_REWARD")
	overlayInt(&c.MinPasswordLen, "MIN_PASSWORD_LEN")
	overlayInt(&c.MaxMessageLen, "MAX_MESSAGE_LEN")
	overlayDuration(&c.ThinkDelayMin, "THINK_DELAY_MIN")
	overlayDuration(&c.ThinkDelayMax, "THINK_DELAY_MAX")
	overlayFloat(&c.RewardChance, "REWARD_CHANCE")
	if v := os.Getenv("DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DevMode = b
		}
	}
}

func overlayInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overlayFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func overlayDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
