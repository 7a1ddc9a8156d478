package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds bot transport settings.
type TelegramConfig struct {
	Token       string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminChatID int64  `yaml:"admin_chat_id" envconfig:"TELEGRAM_ADMIN_CHAT_ID"`
	RunMode     string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
	File   string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// BackendPostgres keeps sessions, invites, and audit records in Postgres.
	BackendPostgres = "postgres"
	// BackendMemory keeps everything in process memory; dev and tests only.
	BackendMemory = "memory"
)

const (
	// OpenBurstFinalize closes an open media burst before handling a new
	// non-grouped event for the same user.
	OpenBurstFinalize = "finalize"
	// OpenBurstReject asks the user to wait until the open burst settles.
	OpenBurstReject = "reject"
)

// Choice is a selectable catalog entry shown on an inline keyboard.
type Choice struct {
	Code  string `yaml:"code"`
	Title string `yaml:"title"`
}

// FlowConfig controls the conversation flow.
type FlowConfig struct {
	Categories []Choice `yaml:"categories"`
	Topics     []Choice `yaml:"topics"`
	// SessionTTL bounds session idle lifetime; default 1h.
	SessionTTL time.Duration `yaml:"session_ttl" envconfig:"FLOW_SESSION_TTL"`
	// QuietWindow is the media-group coalescing window; default 1s.
	QuietWindow time.Duration `yaml:"quiet_window" envconfig:"FLOW_QUIET_WINDOW"`
	// OpenBurstPolicy is "finalize" or "reject"; default "finalize".
	OpenBurstPolicy string `yaml:"open_burst_policy" envconfig:"FLOW_OPEN_BURST_POLICY"`
}

// ModerationConfig gates the optional content check before confirmation.
type ModerationConfig struct {
	Enabled   bool     `yaml:"enabled" envconfig:"MODERATION_ENABLED"`
	Blocklist []string `yaml:"blocklist"`
}

// AuditConfig controls redacted delivery records.
type AuditConfig struct {
	// TestMode enables audit writes; off by default.
	TestMode bool `yaml:"test_mode" envconfig:"AUDIT_TEST_MODE"`
	// TTL bounds audit record lifetime; default 720h (30 days).
	TTL time.Duration `yaml:"ttl" envconfig:"AUDIT_TTL"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend" envconfig:"STORAGE_BACKEND"`
}

// AccessConfig controls user activation.
type AccessConfig struct {
	// StaticTokens backs the memory storage backend with a fixed invite list.
	StaticTokens []string `yaml:"static_tokens"`
}

// RateLimitConfig holds settings for inbound rate limiting.
type RateLimitConfig struct {
	IntervalMS       int  `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeCallbacks bool `yaml:"exclude_callbacks" envconfig:"RATE_LIMIT_EXCLUDE_CALLBACKS"`
}

// Config aggregates the full application configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Flow       FlowConfig       `yaml:"flow"`
	Moderation ModerationConfig `yaml:"moderation"`
	Audit      AuditConfig      `yaml:"audit"`
	Access     AccessConfig     `yaml:"access"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Telegram.AdminChatID == 0 {
		return fmt.Errorf("telegram.admin_chat_id is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if backend == "" {
		backend = BackendPostgres
	}
	switch backend {
	case BackendPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" {
			return fmt.Errorf("database.host is required when storage.backend is 'postgres'")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid storage.backend %q; allowed: postgres, memory", cfg.Storage.Backend)
	}
	cfg.Storage.Backend = backend

	if len(cfg.Flow.Categories) == 0 {
		return fmt.Errorf("flow.categories must not be empty")
	}
	if len(cfg.Flow.Topics) == 0 {
		return fmt.Errorf("flow.topics must not be empty")
	}
	catalog := make([]Choice, 0, len(cfg.Flow.Categories)+len(cfg.Flow.Topics))
	catalog = append(catalog, cfg.Flow.Categories...)
	catalog = append(catalog, cfg.Flow.Topics...)
	for _, c := range catalog {
		if strings.TrimSpace(c.Code) == "" || strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("flow catalog entries require both code and title")
		}
		if strings.ContainsAny(c.Code, ":|") {
			return fmt.Errorf("flow catalog code %q must not contain ':' or '|'", c.Code)
		}
	}

	if cfg.Flow.SessionTTL <= 0 {
		cfg.Flow.SessionTTL = time.Hour
	}
	if cfg.Flow.QuietWindow <= 0 {
		cfg.Flow.QuietWindow = time.Second
	}
	policy := strings.ToLower(strings.TrimSpace(cfg.Flow.OpenBurstPolicy))
	if policy == "" {
		policy = OpenBurstFinalize
	}
	if policy != OpenBurstFinalize && policy != OpenBurstReject {
		return fmt.Errorf("invalid flow.open_burst_policy %q; allowed: finalize, reject", cfg.Flow.OpenBurstPolicy)
	}
	cfg.Flow.OpenBurstPolicy = policy

	if cfg.Audit.TTL <= 0 {
		cfg.Audit.TTL = 720 * time.Hour
	}

	return nil
}
