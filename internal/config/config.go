package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken       string            `yaml:"discord_token"`
	DatabasePath       string            `yaml:"database_path"`
	LogLevel           string            `yaml:"log_level"`
	AuditRetentionDays int               `yaml:"audit_retention_days"`
	Health             HealthConfig      `yaml:"health"`
	Detection          DetectionConfig   `yaml:"detection"`
	Signals            SignalsConfig     `yaml:"signals"`
	Escalation         EscalationConfig  `yaml:"escalation"`
	Arbitration        ArbitrationConfig `yaml:"arbitration"`
	Moderation         ModerationConfig  `yaml:"moderation"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

type DetectionConfig struct {
	Enabled       bool     `yaml:"enabled"`
	LinkFilter    bool     `yaml:"link_filter"`
	LinkAllowlist []string `yaml:"link_allowlist"`
}

type SignalConfig struct {
	RetentionSeconds int `yaml:"retention_seconds"`
	Threshold        int `yaml:"threshold"`
}

func (s SignalConfig) Retention() time.Duration {
	return time.Duration(s.RetentionSeconds) * time.Second
}

type SignalsConfig struct {
	Burst          SignalConfig `yaml:"burst"`
	Duplicate      SignalConfig `yaml:"duplicate"`
	Mention        SignalConfig `yaml:"mention"`
	IdleTTLMinutes int          `yaml:"idle_ttl_minutes"`
	MaxUsers       int          `yaml:"max_users"`
}

func (s SignalsConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

type EscalationConfig struct {
	TemporarySeconds  int    `yaml:"temporary_seconds"`
	TerminalThreshold int    `yaml:"terminal_threshold"`
	Persist           bool   `yaml:"persist"`
	RestrictedRoleID  string `yaml:"restricted_role_id"`
}

func (e EscalationConfig) TemporaryDuration() time.Duration {
	return time.Duration(e.TemporarySeconds) * time.Second
}

type ArbitrationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
	ConfirmEmoji    string `yaml:"confirm_emoji"`
	PardonEmoji     string `yaml:"pardon_emoji"`
	ChannelID       string `yaml:"channel_id"`
}

func (a ArbitrationConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a ArbitrationConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

type ModerationConfig struct {
	AdminRoleName     string   `yaml:"admin_role_name"`
	PrivilegedUserIDs []string `yaml:"privileged_user_ids"`
	LogChannelID      string   `yaml:"log_channel_id"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:       "/data/sentinel.db",
		LogLevel:           "info",
		AuditRetentionDays: 30,
		Health:             HealthConfig{Enabled: false, Addr: ":8080", Metrics: true},
		Detection:          DetectionConfig{Enabled: true, LinkFilter: false},
		Signals: SignalsConfig{
			Burst:          SignalConfig{RetentionSeconds: 4, Threshold: 5},
			Duplicate:      SignalConfig{RetentionSeconds: 4, Threshold: 3},
			Mention:        SignalConfig{RetentionSeconds: 10, Threshold: 5},
			IdleTTLMinutes: 30,
			MaxUsers:       50000,
		},
		Escalation: EscalationConfig{
			TemporarySeconds:  604800,
			TerminalThreshold: 3,
		},
		Arbitration: ArbitrationConfig{
			Enabled:         true,
			TimeoutSeconds:  60,
			CooldownSeconds: 3,
			ConfirmEmoji:    "🦵",
			PardonEmoji:     "🟩",
		},
		Moderation: ModerationConfig{AdminRoleName: "管理者"},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with. Signal thresholds
// below two would let a user's first message trip a signal.
func (c Config) Validate() error {
	var errs []error
	signals := map[string]SignalConfig{
		"burst":     c.Signals.Burst,
		"duplicate": c.Signals.Duplicate,
		"mention":   c.Signals.Mention,
	}
	for _, name := range []string{"burst", "duplicate", "mention"} {
		signal := signals[name]
		if signal.RetentionSeconds <= 0 {
			errs = append(errs, fmt.Errorf("signals.%s.retention_seconds must be positive, got %d", name, signal.RetentionSeconds))
		}
		if signal.Threshold < 2 {
			errs = append(errs, fmt.Errorf("signals.%s.threshold must be at least 2, got %d", name, signal.Threshold))
		}
	}
	if c.AuditRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("audit_retention_days must not be negative, got %d", c.AuditRetentionDays))
	}
	if c.Signals.IdleTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("signals.idle_ttl_minutes must be positive, got %d", c.Signals.IdleTTLMinutes))
	}
	if c.Signals.MaxUsers <= 0 {
		errs = append(errs, fmt.Errorf("signals.max_users must be positive, got %d", c.Signals.MaxUsers))
	}
	if c.Escalation.TemporarySeconds <= 0 {
		errs = append(errs, fmt.Errorf("escalation.temporary_seconds must be positive, got %d", c.Escalation.TemporarySeconds))
	}
	if c.Escalation.TerminalThreshold < 1 {
		errs = append(errs, fmt.Errorf("escalation.terminal_threshold must be at least 1, got %d", c.Escalation.TerminalThreshold))
	}
	if c.Arbitration.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("arbitration.timeout_seconds must be positive, got %d", c.Arbitration.TimeoutSeconds))
	}
	if c.Arbitration.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("arbitration.cooldown_seconds must not be negative, got %d", c.Arbitration.CooldownSeconds))
	}
	if c.Arbitration.ConfirmEmoji == "" || c.Arbitration.PardonEmoji == "" {
		errs = append(errs, errors.New("arbitration emojis must be set"))
	} else if c.Arbitration.ConfirmEmoji == c.Arbitration.PardonEmoji {
		errs = append(errs, errors.New("arbitration.confirm_emoji and arbitration.pardon_emoji must differ"))
	}
	return errors.Join(errs...)
}

// applyEnv overlays environment variables and reports every value that does
// not parse.
func applyEnv(cfg *Config) error {
	var env envReader
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.AuditRetentionDays = env.intValue("AUDIT_RETENTION_DAYS", cfg.AuditRetentionDays)
	cfg.Health.Enabled = env.boolValue("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.Metrics = env.boolValue("METRICS_ENABLED", cfg.Health.Metrics)
	cfg.Detection.Enabled = env.boolValue("DETECTION_ENABLED", cfg.Detection.Enabled)
	cfg.Detection.LinkFilter = env.boolValue("LINK_FILTER_ENABLED", cfg.Detection.LinkFilter)
	cfg.Detection.LinkAllowlist = envList("LINK_ALLOWLIST", cfg.Detection.LinkAllowlist)
	cfg.Signals.Burst.RetentionSeconds = env.intValue("BURST_RETENTION_SECONDS", cfg.Signals.Burst.RetentionSeconds)
	cfg.Signals.Burst.Threshold = env.intValue("BURST_THRESHOLD", cfg.Signals.Burst.Threshold)
	cfg.Signals.Duplicate.RetentionSeconds = env.intValue("DUPLICATE_RETENTION_SECONDS", cfg.Signals.Duplicate.RetentionSeconds)
	cfg.Signals.Duplicate.Threshold = env.intValue("DUPLICATE_THRESHOLD", cfg.Signals.Duplicate.Threshold)
	cfg.Signals.Mention.RetentionSeconds = env.intValue("MENTION_RETENTION_SECONDS", cfg.Signals.Mention.RetentionSeconds)
	cfg.Signals.Mention.Threshold = env.intValue("MENTION_THRESHOLD", cfg.Signals.Mention.Threshold)
	cfg.Signals.IdleTTLMinutes = env.intValue("SIGNALS_IDLE_TTL_MINUTES", cfg.Signals.IdleTTLMinutes)
	cfg.Signals.MaxUsers = env.intValue("SIGNALS_MAX_USERS", cfg.Signals.MaxUsers)
	cfg.Escalation.TemporarySeconds = env.intValue("ESCALATION_TEMPORARY_SECONDS", cfg.Escalation.TemporarySeconds)
	cfg.Escalation.TerminalThreshold = env.intValue("ESCALATION_TERMINAL_THRESHOLD", cfg.Escalation.TerminalThreshold)
	cfg.Escalation.Persist = env.boolValue("ESCALATION_PERSIST", cfg.Escalation.Persist)
	cfg.Escalation.RestrictedRoleID = envString("RESTRICTED_ROLE_ID", cfg.Escalation.RestrictedRoleID)
	cfg.Arbitration.Enabled = env.boolValue("ARBITRATION_ENABLED", cfg.Arbitration.Enabled)
	cfg.Arbitration.TimeoutSeconds = env.intValue("ARBITRATION_TIMEOUT_SECONDS", cfg.Arbitration.TimeoutSeconds)
	cfg.Arbitration.CooldownSeconds = env.intValue("ARBITRATION_COOLDOWN_SECONDS", cfg.Arbitration.CooldownSeconds)
	cfg.Arbitration.ConfirmEmoji = envString("ARBITRATION_CONFIRM_EMOJI", cfg.Arbitration.ConfirmEmoji)
	cfg.Arbitration.PardonEmoji = envString("ARBITRATION_PARDON_EMOJI", cfg.Arbitration.PardonEmoji)
	cfg.Arbitration.ChannelID = envString("ARBITRATION_CHANNEL_ID", cfg.Arbitration.ChannelID)
	cfg.Moderation.AdminRoleName = envString("ADMIN_ROLE_NAME", cfg.Moderation.AdminRoleName)
	cfg.Moderation.PrivilegedUserIDs = envList("PRIVILEGED_USER_IDS", cfg.Moderation.PrivilegedUserIDs)
	cfg.Moderation.LogChannelID = envString("LOG_CHANNEL_ID", cfg.Moderation.LogChannelID)
	return errors.Join(env.errs...)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

type envReader struct {
	errs []error
}

func (r *envReader) intValue(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return fallback
	}
	return parsed
}

func (r *envReader) boolValue(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
