// Package config loads server settings from CHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

// DevJWTSecret is only meant for local runs.
const DevJWTSecret = "pelusa-dev-secret"

// Config controls the chat server.
type Config struct {
	Addr            string        `env:"CHAT_ADDR"              envDefault:"127.0.0.1:3000"`
	DBPath          string        `env:"CHAT_DB_PATH"           envDefault:"chat.db"`
	JWTSecret       string        `env:"CHAT_JWT_SECRET"        envDefault:"pelusa-dev-secret"`
	JWTIssuer       string        `env:"CHAT_JWT_ISSUER"        envDefault:"pelusa-chat"`
	RedisAddr       string        `env:"CHAT_REDIS_ADDR"`
	RoomCacheTTL    time.Duration `env:"CHAT_ROOM_CACHE_TTL"    envDefault:"10m"`
	PublicRooms     []string      `env:"CHAT_PUBLIC_ROOMS"      envDefault:"general,random,tech" envSeparator:","`
	DefaultRooms    []string      `env:"CHAT_DEFAULT_ROOMS"     envDefault:"general"             envSeparator:","`
	HistoryLimit    int           `env:"CHAT_HISTORY_LIMIT"     envDefault:"100"`
	TypingTimeout   time.Duration `env:"CHAT_TYPING_TIMEOUT"    envDefault:"3s"`
	MaxMessageRunes int           `env:"CHAT_MAX_MESSAGE_RUNES" envDefault:"2000"`
	SendBuffer      int           `env:"CHAT_SEND_BUFFER"       envDefault:"256"`
	EventsPerSecond float64       `env:"CHAT_EVENTS_PER_SECOND" envDefault:"20"`
	EventBurst      int           `env:"CHAT_EVENT_BURST"       envDefault:"40"`
	PingInterval    time.Duration `env:"CHAT_PING_INTERVAL"     envDefault:"30s"`
	PongWait        time.Duration `env:"CHAT_PONG_WAIT"         envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"CHAT_SHUTDOWN_TIMEOUT"  envDefault:"10s"`
	LogLevel        string        `env:"CHAT_LOG_LEVEL"         envDefault:"info"`
	StaticDir       string        `env:"CHAT_STATIC_DIR"        envDefault:"./public"`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.PublicRooms = cleanRooms(cfg.PublicRooms)
	cfg.DefaultRooms = cleanRooms(cfg.DefaultRooms)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks limits and room lists.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("CHAT_ADDR is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("CHAT_DB_PATH is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("CHAT_JWT_SECRET is required"))
	}
	if len(c.PublicRooms) == 0 {
		errs = append(errs, errors.New("CHAT_PUBLIC_ROOMS must name at least one room"))
	}
	for _, r := range c.PublicRooms {
		if strings.HasPrefix(r, chat.PrivateRoomPrefix) {
			errs = append(errs, fmt.Errorf("public room %q uses the reserved %q prefix", r, chat.PrivateRoomPrefix))
		}
	}
	for _, r := range c.DefaultRooms {
		if !slices.Contains(c.PublicRooms, r) {
			errs = append(errs, fmt.Errorf("default room %q is not a public room", r))
		}
	}
	positive := map[string]bool{
		"CHAT_HISTORY_LIMIT":     c.HistoryLimit > 0,
		"CHAT_MAX_MESSAGE_RUNES": c.MaxMessageRunes > 0,
		"CHAT_SEND_BUFFER":       c.SendBuffer > 0,
		"CHAT_EVENTS_PER_SECOND": c.EventsPerSecond > 0,
		"CHAT_EVENT_BURST":       c.EventBurst > 0,
		"CHAT_TYPING_TIMEOUT":    c.TypingTimeout > 0,
		"CHAT_PING_INTERVAL":     c.PingInterval > 0,
		"CHAT_PONG_WAIT":         c.PongWait > 0,
		"CHAT_SHUTDOWN_TIMEOUT":  c.ShutdownTimeout > 0,
		"CHAT_ROOM_CACHE_TTL":    c.RoomCacheTTL > 0,
	}
	names := make([]string, 0, len(positive))
	for name := range positive {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !positive[name] {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.PongWait > 0 && c.PingInterval >= c.PongWait {
		errs = append(errs, errors.New("CHAT_PING_INTERVAL must be shorter than CHAT_PONG_WAIT"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level parses CHAT_LOG_LEVEL.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("CHAT_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// ChatOptions maps the settings onto the coordinator.
func (c Config) ChatOptions() chat.Options {
	return chat.Options{
		PublicRooms:     c.PublicRooms,
		DefaultRooms:    c.DefaultRooms,
		HistoryLimit:    c.HistoryLimit,
		TypingTimeout:   c.TypingTimeout,
		MaxMessageRunes: c.MaxMessageRunes,
		SendBuffer:      c.SendBuffer,
		EventsPerSecond: c.EventsPerSecond,
		EventBurst:      c.EventBurst,
		PingInterval:    c.PingInterval,
		PongWait:        c.PongWait,
	}
}

func cleanRooms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
