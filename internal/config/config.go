// Package config loads server settings from flags, BOARD_* environment
// variables and defaults, in that order of precedence.
package config

import (
	"strings"
	"time"

	"realtime-board/internal/colors"
	"realtime-board/internal/history"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BOARD"

type Config struct {
	Addr                    string        `mapstructure:"addr" validate:"required"`
	LogLevel                string        `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	PagePath                string        `mapstructure:"page_path" validate:"required"`
	HistorySize             int           `mapstructure:"history_size" validate:"min=1,max=100000"`
	Colors                  []string      `mapstructure:"colors" validate:"min=1,unique,dive,required"`
	CanvasTimeout           time.Duration `mapstructure:"canvas_timeout" validate:"gte=0"`
	StrictCanvasSource      bool          `mapstructure:"strict_canvas_source"`
	SkipWaitingCanvasSource bool          `mapstructure:"skip_waiting_canvas_source"`
	MaxMessageSize          int64         `mapstructure:"max_message_size" validate:"min=1024"`
	MessageBufferSize       int           `mapstructure:"message_buffer_size" validate:"min=1"`
	AuditDB                 string        `mapstructure:"audit_db"`
	RateLimitRPS            float64       `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst          int           `mapstructure:"rate_limit_burst" validate:"min=1"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:              ":1337",
		LogLevel:          "info",
		PagePath:          "RealtimeBoard.html",
		HistorySize:       history.DefaultSize,
		Colors:            append([]string(nil), colors.Default...),
		CanvasTimeout:     30 * time.Second,
		MaxMessageSize:    8 << 20,
		MessageBufferSize: 256,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
	}
}

// flagNames maps config keys to command line flags.
var flagNames = map[string]string{
	"addr":                       "addr",
	"log_level":                  "log-level",
	"page_path":                  "page",
	"history_size":               "history-size",
	"colors":                     "colors",
	"canvas_timeout":             "canvas-timeout",
	"strict_canvas_source":       "strict-canvas-source",
	"skip_waiting_canvas_source": "skip-waiting-canvas-source",
	"max_message_size":           "max-message-size",
	"message_buffer_size":        "message-buffer-size",
	"audit_db":                   "audit-db",
	"rate_limit_rps":             "rate-limit-rps",
	"rate_limit_burst":           "rate-limit-burst",
}

// RegisterFlags adds the server flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("addr", d.Addr, "listen address")
	flags.String("log-level", d.LogLevel, "log level (trace, debug, info, warn, error)")
	flags.String("page", d.PagePath, "board page served at /")
	flags.Int("history-size", d.HistorySize, "chat messages replayed to newcomers")
	flags.StringSlice("colors", d.Colors, "color palette handed to joining users")
	flags.Duration("canvas-timeout", d.CanvasTimeout, "how long newcomers wait for a canvas, 0 waits forever")
	flags.Bool("strict-canvas-source", d.StrictCanvasSource, "only accept canvas snapshots from sessions that were asked")
	flags.Bool("skip-waiting-canvas-source", d.SkipWaitingCanvasSource, "ask the first session not itself waiting for a canvas")
	flags.Int64("max-message-size", d.MaxMessageSize, "largest inbound frame in bytes")
	flags.Int("message-buffer-size", d.MessageBufferSize, "outbound frames queued per session")
	flags.String("audit-db", d.AuditDB, "sqlite file for the audit trail, empty disables it")
	flags.Float64("rate-limit-rps", d.RateLimitRPS, "websocket upgrades per second per client IP")
	flags.Int("rate-limit-burst", d.RateLimitBurst, "websocket upgrade burst per client IP")
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("page_path", d.PagePath)
	v.SetDefault("history_size", d.HistorySize)
	v.SetDefault("colors", d.Colors)
	v.SetDefault("canvas_timeout", d.CanvasTimeout)
	v.SetDefault("strict_canvas_source", d.StrictCanvasSource)
	v.SetDefault("skip_waiting_canvas_source", d.SkipWaitingCanvasSource)
	v.SetDefault("max_message_size", d.MaxMessageSize)
	v.SetDefault("message_buffer_size", d.MessageBufferSize)
	v.SetDefault("audit_db", d.AuditDB)
	v.SetDefault("rate_limit_rps", d.RateLimitRPS)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)

	if flags != nil {
		for key, name := range flagNames {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s failed", name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
