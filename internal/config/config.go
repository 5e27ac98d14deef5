// Package config handles application configuration from environment variables
// and an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	// AlertChatID is a numeric chat id or an @channel username.
	AlertChatID  string
	DatabasePath string
	LogLevel     string
	AllowedUsers []int64

	// ChannelsFile, when set, is the authoritative channel list.
	ChannelsFile string

	PriorityDomains []string
	AnnounceDomain  string

	PreviewEnabled bool
	PreviewRPS     float64

	ProxyURL         string
	FeedPollInterval time.Duration
	AdminAddr        string
	// AdminToken, when set, is required as a bearer token by POST /admin/reload.
	AdminToken       string
}

const defaultEnvFile = ".env"

// Load reads configuration from the dotenv file named by ENV_FILE (default
// ".env", optional) and the process environment, which takes precedence.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}

	v := viper.New()
	v.SetDefault("DATABASE_PATH", "./data/monitor.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PRIORITY_DOMAINS", "linux.do,nodeseek.com,nodeseek.net")
	v.SetDefault("ANNOUNCE_DOMAIN", "linux.do")
	v.SetDefault("PREVIEW_ENABLED", false)
	v.SetDefault("PREVIEW_RPS", 1.0)
	v.SetDefault("FEED_POLL_INTERVAL", "5m")

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	v.AutomaticEnv()

	token := v.GetString("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	chatID := strings.TrimSpace(v.GetString("TELEGRAM_CHAT_ID"))
	if chatID == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}

	allowedUsers, err := parseUserIDs(v.GetString("ALLOWED_USERS"))
	if err != nil {
		return nil, err
	}

	rps := v.GetFloat64("PREVIEW_RPS")
	if rps <= 0 {
		return nil, fmt.Errorf("PREVIEW_RPS must be positive, got %q", v.GetString("PREVIEW_RPS"))
	}

	interval := v.GetDuration("FEED_POLL_INTERVAL")
	if interval <= 0 {
		return nil, fmt.Errorf("FEED_POLL_INTERVAL must be a positive duration, got %q", v.GetString("FEED_POLL_INTERVAL"))
	}

	proxy := strings.TrimSpace(v.GetString("PROXY_URL"))
	if proxy != "" {
		if _, err := parseProxy(proxy); err != nil {
			return nil, err
		}
	}

	return &Config{
		TelegramBotToken: token,
		AlertChatID:      chatID,
		DatabasePath:     v.GetString("DATABASE_PATH"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		AllowedUsers:     allowedUsers,
		ChannelsFile:     strings.TrimSpace(v.GetString("CHANNELS_FILE")),
		PriorityDomains:  splitList(v.GetString("PRIORITY_DOMAINS")),
		AnnounceDomain:   strings.TrimSpace(v.GetString("ANNOUNCE_DOMAIN")),
		PreviewEnabled:   v.GetBool("PREVIEW_ENABLED"),
		PreviewRPS:       rps,
		ProxyURL:         proxy,
		FeedPollInterval: interval,
		AdminAddr:        strings.TrimSpace(v.GetString("ADMIN_ADDR")),
		AdminToken:       strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
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

// Proxy returns the parsed proxy URL, or nil when no proxy is configured.
func (c *Config) Proxy() (*url.URL, error) {
	if c.ProxyURL == "" {
		return nil, nil
	}
	return parseProxy(c.ProxyURL)
}

func parseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid PROXY_URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("invalid PROXY_URL scheme %q, use http, https or socks5", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid PROXY_URL %q: missing host", raw)
	}
	return u, nil
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range splitList(raw) {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
