package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken string  `env:"TELEGRAM_BOT_TOKEN"` // or [bot] token; needed only by run
	AdminChatIDs  []int64 `env:"ADMIN_CHAT_IDS" envSeparator:","`
	AllowedUsers  []int64 `env:"ALLOWED_USERS" envSeparator:","` // empty allows everyone

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/monitor.db"`

	// Forum
	ForumBaseURL   string        `env:"FORUM_BASE_URL" envDefault:"https://lowendtalk.com"`
	ForumUsername  string        `env:"FORUM_USERNAME"` // default account, optional
	ForumPassword  string        `env:"FORUM_PASSWORD"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ForumRateLimit float64       `env:"FORUM_RATE_LIMIT" envDefault:"1"` // requests per second
	ForumRateBurst int           `env:"FORUM_RATE_BURST" envDefault:"3"`

	// Monitoring
	DefaultInterval    time.Duration `env:"DEFAULT_INTERVAL" envDefault:"5m"`
	MinInterval        time.Duration `env:"MIN_INTERVAL" envDefault:"1m"`
	MaxInterval        time.Duration `env:"MAX_INTERVAL" envDefault:"24h"`
	RetryInterval      time.Duration `env:"RETRY_INTERVAL" envDefault:"1m"`
	MaxRetries         int           `env:"MAX_RETRIES" envDefault:"3"`
	MaxConcurrentPolls int           `env:"MAX_CONCURRENT_POLLS" envDefault:"4"`

	// Login
	LoginMaxAttempts  int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"3"`
	LoginRetryDelay   time.Duration `env:"LOGIN_RETRY_DELAY" envDefault:"5s"`
	CookiesExpireDays int           `env:"COOKIES_EXPIRE_DAYS" envDefault:"30"`

	// Notification
	PostPreviewLength int           `env:"POST_PREVIEW_LENGTH" envDefault:"200"`
	AlertOnError      bool          `env:"ALERT_ON_ERROR" envDefault:"true"`
	NotifyAttempts    int           `env:"NOTIFY_ATTEMPTS" envDefault:"3"`
	NotifyRetryDelay  time.Duration `env:"NOTIFY_RETRY_DELAY" envDefault:"2s"`
	StatusInterval    time.Duration `env:"STATUS_INTERVAL"` // zero disables periodic reports
	Timezone          string        `env:"TIMEZONE" envDefault:"Asia/Shanghai"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"

	location *time.Location
}

// HasDefaultAccount returns true if shared forum credentials are configured
func (c *Config) HasDefaultAccount() bool {
	return c.ForumUsername != "" && c.ForumPassword != ""
}

// IsUserAllowed reports whether a Telegram user may use the bot
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Location returns the time zone post timestamps are rendered in
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// RequireToken fails when no bot token came from either the environment or
// the config file. Maintenance commands never talk to Telegram and skip it.
func (c *Config) RequireToken() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN (or [bot] token) is required")
	}
	return nil
}

// Load loads configuration from environment variables, then applies the
// TOML file at path on top when path is not empty.
func Load(path string) (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and resolves the time zone
func (c *Config) Validate() error {
	var errs []error

	if c.MinInterval <= 0 {
		errs = append(errs, fmt.Errorf("MIN_INTERVAL must be positive, got %s", c.MinInterval))
	}
	if c.MaxInterval < c.MinInterval {
		errs = append(errs, fmt.Errorf("MAX_INTERVAL (%s) is below MIN_INTERVAL (%s)", c.MaxInterval, c.MinInterval))
	}
	if c.DefaultInterval < c.MinInterval || c.DefaultInterval > c.MaxInterval {
		errs = append(errs, fmt.Errorf("DEFAULT_INTERVAL (%s) is outside [%s, %s]", c.DefaultInterval, c.MinInterval, c.MaxInterval))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_INTERVAL must be positive, got %s", c.RetryInterval))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries))
	}
	if c.LoginMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("LOGIN_MAX_ATTEMPTS must be at least 1, got %d", c.LoginMaxAttempts))
	}
	if c.NotifyAttempts < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_ATTEMPTS must be at least 1, got %d", c.NotifyAttempts))
	}
	if c.CookiesExpireDays < 1 {
		errs = append(errs, fmt.Errorf("COOKIES_EXPIRE_DAYS must be at least 1, got %d", c.CookiesExpireDays))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.PostPreviewLength < 0 {
		errs = append(errs, fmt.Errorf("POST_PREVIEW_LENGTH must not be negative, got %d", c.PostPreviewLength))
	}
	if c.MaxConcurrentPolls < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_POLLS must be at least 1, got %d", c.MaxConcurrentPolls))
	}
	if c.ForumRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("FORUM_RATE_LIMIT must be positive, got %g", c.ForumRateLimit))
	}
	if c.ForumRateBurst < 1 {
		errs = append(errs, fmt.Errorf("FORUM_RATE_BURST must be at least 1, got %d", c.ForumRateBurst))
	}
	if (c.ForumUsername == "") != (c.ForumPassword == "") {
		errs = append(errs, errors.New("FORUM_USERNAME and FORUM_PASSWORD must be set together"))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	} else {
		c.location = loc
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
