package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quiz-match-service/internal/app"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		PublicURL      string   `yaml:"public_url"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		OutboundBuffer int      `yaml:"outbound_buffer"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Match struct {
		CodeLength       int    `yaml:"code_length"`
		RoundBuffer      string `yaml:"round_buffer"`
		SettleDelay      string `yaml:"settle_delay"`
		EarlySettleDelay string `yaml:"early_settle_delay"`
		HostGrace        string `yaml:"host_grace"`
		Retention        string `yaml:"retention"`
		PersistTimeout   string `yaml:"persist_timeout"`
		PersistRetry     string `yaml:"persist_retry"`
	} `yaml:"match"`
	Score struct {
		Base           int `yaml:"base"`
		PerSecondBonus int `yaml:"per_second_bonus"`
	} `yaml:"scoring"`
	Logging struct {
		Level string `yaml:"level"`
		Color bool   `yaml:"color"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.Server.OutboundBuffer = 64
	cfg.Redis.TTL = "2h"
	cfg.Quiz.TTL = "10m"
	cfg.Match.CodeLength = app.DefaultCodeLength
	cfg.Auth.Issuer = "quiz-match-service"
	cfg.Auth.TokenTTL = "12h"
	cfg.Score.Base = app.DefaultScoring.Base
	cfg.Score.PerSecondBonus = app.DefaultScoring.PerSecondBonus
	cfg.Logging.Level = "info"
	cfg.Logging.Color = true
	return cfg
}

// Load reads YAML config from path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timing resolves match pacing, falling back to app.DefaultTiming per field.
func (c Config) Timing() app.Timing {
	def := app.DefaultTiming()
	return app.Timing{
		RoundBuffer:      TTLDuration(c.Match.RoundBuffer, def.RoundBuffer),
		SettleDelay:      TTLDuration(c.Match.SettleDelay, def.SettleDelay),
		EarlySettleDelay: TTLDuration(c.Match.EarlySettleDelay, def.EarlySettleDelay),
		HostGrace:        TTLDuration(c.Match.HostGrace, def.HostGrace),
		Retention:        TTLDuration(c.Match.Retention, def.Retention),
		PersistTimeout:   TTLDuration(c.Match.PersistTimeout, def.PersistTimeout),
		PersistRetry:     TTLDuration(c.Match.PersistRetry, def.PersistRetry),
	}
}

// CodeLength returns the match code length, or the default when it is outside 4..12.
func (c Config) CodeLength() int {
	if c.Match.CodeLength < 4 || c.Match.CodeLength > 12 {
		return app.DefaultCodeLength
	}
	return c.Match.CodeLength
}

func (c Config) Scoring() app.ScoringRule {
	rule := app.DefaultScoring
	if c.Score.Base > 0 {
		rule.Base = c.Score.Base
	}
	if c.Score.PerSecondBonus >= 0 {
		rule.PerSecondBonus = c.Score.PerSecondBonus
	}
	return rule
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
