package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the optional TOML overlay. Sections mirror the settings
// groups; interval values are in seconds. Only keys present in the file
// override the environment.
type fileConfig struct {
	Bot struct {
		Token        *string `toml:"token"`
		AdminChatIDs []int64 `toml:"admin_chat_ids"`
	} `toml:"bot"`

	Monitoring struct {
		DefaultInterval    *int `toml:"default_interval"`
		MinInterval        *int `toml:"min_interval"`
		MaxInterval        *int `toml:"max_interval"`
		RetryInterval      *int `toml:"retry_interval"`
		MaxRetries         *int `toml:"max_retries"`
		MaxConcurrentPolls *int `toml:"max_concurrent_polls"`
	} `toml:"monitoring"`

	Forum struct {
		BaseURL   *string  `toml:"base_url"`
		Username  *string  `toml:"username"`
		Password  *string  `toml:"password"`
		RateLimit *float64 `toml:"rate_limit"`
		RateBurst *int     `toml:"rate_burst"`
	} `toml:"forum"`

	Login struct {
		MaxAttempts       *int `toml:"max_attempts"`
		RetryDelay        *int `toml:"retry_delay"`
		CookiesExpireDays *int `toml:"cookies_expire_days"`
	} `toml:"login"`

	Notification struct {
		PostPreviewLength *int    `toml:"post_preview_length"`
		AlertOnError      *bool   `toml:"alert_on_error"`
		Timezone          *string `toml:"timezone"`
		StatusInterval    *int    `toml:"status_interval"`
	} `toml:"notification"`

	Security struct {
		AllowedUsers []int64 `toml:"allowed_users"`
	} `toml:"security"`

	Database struct {
		Path *string `toml:"path"`
	} `toml:"database"`

	Advanced struct {
		RequestTimeout *int    `toml:"request_timeout"`
		LogLevel       *string `toml:"log_level"`
	} `toml:"advanced"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.TelegramToken, f.Bot.Token)
	if f.Bot.AdminChatIDs != nil {
		c.AdminChatIDs = f.Bot.AdminChatIDs
	}

	setSeconds(&c.DefaultInterval, f.Monitoring.DefaultInterval)
	setSeconds(&c.MinInterval, f.Monitoring.MinInterval)
	setSeconds(&c.MaxInterval, f.Monitoring.MaxInterval)
	setSeconds(&c.RetryInterval, f.Monitoring.RetryInterval)
	setInt(&c.MaxRetries, f.Monitoring.MaxRetries)
	setInt(&c.MaxConcurrentPolls, f.Monitoring.MaxConcurrentPolls)

	setString(&c.ForumBaseURL, f.Forum.BaseURL)
	setString(&c.ForumUsername, f.Forum.Username)
	setString(&c.ForumPassword, f.Forum.Password)
	if f.Forum.RateLimit != nil {
		c.ForumRateLimit = *f.Forum.RateLimit
	}
	setInt(&c.ForumRateBurst, f.Forum.RateBurst)

	setInt(&c.LoginMaxAttempts, f.Login.MaxAttempts)
	setSeconds(&c.LoginRetryDelay, f.Login.RetryDelay)
	setInt(&c.CookiesExpireDays, f.Login.CookiesExpireDays)

	setInt(&c.PostPreviewLength, f.Notification.PostPreviewLength)
	if f.Notification.AlertOnError != nil {
		c.AlertOnError = *f.Notification.AlertOnError
	}
	setString(&c.Timezone, f.Notification.Timezone)
	setSeconds(&c.StatusInterval, f.Notification.StatusInterval)

	if f.Security.AllowedUsers != nil {
		c.AllowedUsers = f.Security.AllowedUsers
	}

	setString(&c.DatabasePath, f.Database.Path)
	setSeconds(&c.RequestTimeout, f.Advanced.RequestTimeout)
	setString(&c.LogLevel, f.Advanced.LogLevel)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}
