// Package config loads the TriageChat runtime configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TriageChat/internal/genai"
	"github.com/BTreeMap/TriageChat/internal/interpret"
	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/scheduler"
	"github.com/BTreeMap/TriageChat/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TriageChat state data
	DefaultStateDir = "/var/lib/triagechat"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "triagechat.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultOutboxPollInterval is how often queued WhatsApp replies are sent
	DefaultOutboxPollInterval = 2 * time.Second
)

// NLU modes.
const (
	NLUModeDeterministic = "deterministic"
	NLUModeHybrid        = "hybrid"
)

// ErrMissingOpenAIKey is returned by Validate when remote NLU is enabled
// without an API key.
var ErrMissingOpenAIKey = errors.New("NLU is enabled but OPENAI_API_KEY is not set")

// Config holds the runtime configuration. Components receive the values
// they need as options; nothing reads Config globally.
type Config struct {
	StateDir string
	DBDSN    string
	APIAddr  string
	LogLevel string

	Languages []string

	NLUEnabled          bool
	NLUMode             string
	OpenAIKey           string
	FastModel           string
	StrongModel         string
	FastMinConfidence   float64
	StrongMinConfidence float64
	MaxOutputTokens     int
	NLUTimeout          time.Duration
	NLUDebug            bool

	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	TwilioWebhookURL   string
	OutboxPollInterval time.Duration

	MaintenanceSchedule string
	RetentionPeriod     time.Duration
}

// Load reads envFiles (default ".env") if present, then the environment.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: .env file loaded")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() Config {
	cfg := Config{
		StateDir: os.Getenv("TRIAGE_STATE_DIR"),
		DBDSN:    os.Getenv("DATABASE_URL"),
		APIAddr:  os.Getenv("API_ADDR"),
		LogLevel: strings.ToLower(os.Getenv("LOG_LEVEL")),

		Languages: util.ParseListEnv("TRIAGE_LANGUAGES", lang.DefaultCodes),

		NLUEnabled:          util.ParseBoolEnv("NLU_ENABLED", false),
		NLUMode:             strings.ToLower(os.Getenv("NLU_MODE")),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		FastModel:           os.Getenv("NLU_FAST_MODEL"),
		StrongModel:         os.Getenv("NLU_STRONG_MODEL"),
		FastMinConfidence:   util.ParseFloatEnv("NLU_FAST_MIN_CONFIDENCE", interpret.DefaultFastMinConfidence),
		StrongMinConfidence: util.ParseFloatEnv("NLU_STRONG_MIN_CONFIDENCE", interpret.DefaultStrongMinConfidence),
		MaxOutputTokens:     util.ParseIntEnv("NLU_MAX_OUTPUT_TOKENS", genai.DefaultMaxCompletionTokens),
		NLUTimeout:          util.ParseDurationEnv("NLU_TIMEOUT", genai.DefaultTimeout),
		NLUDebug:            util.ParseBoolEnv("NLU_DEBUG", false),

		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:   os.Getenv("TWILIO_WEBHOOK_URL"),
		OutboxPollInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),

		MaintenanceSchedule: os.Getenv("MAINTENANCE_SCHEDULE"),
		RetentionPeriod:     util.ParseDurationEnv("RETENTION_PERIOD", scheduler.DefaultRetention),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No TRIAGE_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DBDSN)
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = DefaultAPIAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.NLUMode == "" {
		cfg.NLUMode = NLUModeHybrid
	}
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = scheduler.DefaultMaintenanceSchedule
	}

	slog.Debug("environment variables loaded",
		"TRIAGE_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", cfg.APIAddr,
		"NLU_ENABLED", cfg.NLUEnabled,
		"NLU_MODE", cfg.NLUMode,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"TWILIO_SET", cfg.TwilioEnabled())
	return cfg
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	switch c.NLUMode {
	case NLUModeDeterministic, NLUModeHybrid:
	default:
		return fmt.Errorf("invalid NLU mode %q (want %s or %s)", c.NLUMode, NLUModeDeterministic, NLUModeHybrid)
	}
	if c.UseRemoteNLU() && c.OpenAIKey == "" {
		return ErrMissingOpenAIKey
	}
	if c.FastMinConfidence < 0 || c.FastMinConfidence > 1 || c.StrongMinConfidence < 0 || c.StrongMinConfidence > 1 {
		return fmt.Errorf("confidence thresholds must be within [0, 1]")
	}
	if c.RetentionPeriod < 0 {
		return fmt.Errorf("retention period must not be negative")
	}
	return nil
}

// UseRemoteNLU reports whether the hybrid interpreter should call the
// remote NLU collaborator.
func (c Config) UseRemoteNLU() bool {
	return c.NLUEnabled && c.NLUMode == NLUModeHybrid
}

// TwilioEnabled reports whether WhatsApp delivery is configured.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GenAIOptions builds the remote NLU client options.
func (c Config) GenAIOptions() []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(c.OpenAIKey),
		genai.WithModels(c.FastModel, c.StrongModel),
		genai.WithMaxCompletionTokens(int64(c.MaxOutputTokens)),
		genai.WithTimeout(c.NLUTimeout),
	}
	if c.NLUDebug {
		opts = append(opts, genai.WithDebugMode(true, c.StateDir))
	}
	return opts
}
