package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinPollTimeout is the shortest poll timeout accepted.
const MinPollTimeout = 55 * time.Second

type Config struct {
	BotBaseURL   string
	BotID        string
	BotProjectID string
	BotUsername  string
	BotPassword  string

	LogLevel string

	Mode           string
	Workers        int
	BatchSize      int
	MaxBatches     int
	Delay          time.Duration
	PollTimeout    time.Duration
	SessionMaxAge  time.Duration
	Retries        int
	CheckpointPath string
	OutputPath     string
	Port           int

	DatabaseURL   string
	NatsURL       string
	NatsToken     string
	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		BotBaseURL:     envStr("BOT_BASE_URL", ""),
		BotID:          envStr("BOT_ID", ""),
		BotProjectID:   envStr("BOT_PROJECT_ID", ""),
		BotUsername:    envStr("BOT_USERNAME", ""),
		BotPassword:    envStr("BOT_PASSWORD", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		Mode:           envStr("BOTPROBE_MODE", "sequential"),
		Workers:        envInt("BOTPROBE_WORKERS", 3),
		BatchSize:      envInt("BOTPROBE_BATCH_SIZE", 5),
		MaxBatches:     envInt("BOTPROBE_MAX_BATCHES", 0),
		Delay:          envDuration("BOTPROBE_DELAY", 20*time.Second),
		PollTimeout:    envDuration("BOTPROBE_POLL_TIMEOUT", 300*time.Second),
		SessionMaxAge:  envDuration("BOTPROBE_SESSION_MAX_AGE", 15*time.Minute),
		Retries:        envInt("BOTPROBE_RETRIES", 0),
		CheckpointPath: envStr("BOTPROBE_CHECKPOINT", ""),
		OutputPath:     envStr("BOTPROBE_OUTPUT", ""),
		Port:           envInt("BOTPROBE_PORT", 0),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		SlackBotToken:  envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:   envStr("SLACK_CHANNEL", ""),
	}
}

// Validate reports every missing or out-of-range value needed for a run.
func (c Config) Validate() error {
	var errs []error
	for _, req := range []struct{ key, val string }{
		{"BOT_BASE_URL", c.BotBaseURL},
		{"BOT_ID", c.BotID},
		{"BOT_PROJECT_ID", c.BotProjectID},
		{"BOT_USERNAME", c.BotUsername},
		{"BOT_PASSWORD", c.BotPassword},
	} {
		if strings.TrimSpace(req.val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", req.key))
		}
	}
	switch c.Mode {
	case "sequential", "concurrent", "batched":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.PollTimeout < MinPollTimeout {
		errs = append(errs, fmt.Errorf("poll timeout %s is below the minimum %s", c.PollTimeout, MinPollTimeout))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if c.Delay < 0 || c.SessionMaxAge < 0 || c.Retries < 0 || c.MaxBatches < 0 {
		errs = append(errs, errors.New("delay, session max age, retries and max batches must not be negative"))
	}
	return errors.Join(errs...)
}

// DefaultOutputPath names the report after the run start time.
func DefaultOutputPath(now time.Time) string {
	return fmt.Sprintf("bot_queries_%s.xlsx", now.Format("20060102_150405"))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts a Go duration ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
