// Package config loads server settings from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr string

	MinPlayers int
	MaxPlayers int
	MaxRounds  int

	QueueMax     int
	SendTimeout  time.Duration
	BotDelay     time.Duration
	ResultsDelay time.Duration

	// Optional Postgres DSN for durable event storage. Empty means
	// in-memory only.
	PostgresDSN string

	Debug bool
}

func Defaults() Config {
	return Config{
		Addr:         ":8080",
		MinPlayers:   2,
		MaxPlayers:   4,
		MaxRounds:    3,
		QueueMax:     100,
		SendTimeout:  3 * time.Second,
		BotDelay:     2 * time.Second,
		ResultsDelay: 3 * time.Second,
	}
}

// Load reads .env if present, then the process environment on top.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup, applying defaults for
// anything unset.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if v := getenv("CARDROOM_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("CARDROOM_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := getenv("CARDROOM_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("CARDROOM_DEBUG: %w", err)
		}
		cfg.Debug = b
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CARDROOM_MIN_PLAYERS", &cfg.MinPlayers},
		{"CARDROOM_MAX_PLAYERS", &cfg.MaxPlayers},
		{"CARDROOM_MAX_ROUNDS", &cfg.MaxRounds},
		{"CARDROOM_QUEUE_MAX", &cfg.QueueMax},
	}
	for _, p := range ints {
		v := getenv(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", p.key, err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("%s must be positive, got %d", p.key, n)
		}
		*p.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CARDROOM_SEND_TIMEOUT", &cfg.SendTimeout},
		{"CARDROOM_BOT_DELAY", &cfg.BotDelay},
		{"CARDROOM_RESULTS_DELAY", &cfg.ResultsDelay},
	}
	for _, p := range durations {
		v := getenv(p.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", p.key, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("%s must not be negative, got %s", p.key, d)
		}
		*p.dst = d
	}

	if cfg.MinPlayers > cfg.MaxPlayers {
		return Config{}, fmt.Errorf("CARDROOM_MIN_PLAYERS %d exceeds CARDROOM_MAX_PLAYERS %d",
			cfg.MinPlayers, cfg.MaxPlayers)
	}
	return cfg, nil
}
