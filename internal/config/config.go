package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelusa-v/groupchat/internal/chat"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress        = "127.0.0.1"
	defaultPort           = 3000
	defaultDBPath         = "./.database"
	defaultViewsDir       = "./views"
	defaultStaticDir      = "./public"
	defaultMaxUpload      = 8 * 1024 * 1024
	defaultCloudinaryURL  = "https://api.cloudinary.com"
	defaultUploadTimeout  = 30 * time.Second
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10
	defaultLogLevel       = "info"
)

// Addr returns the HTTP listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Location resolves the display timezone. Empty means the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Display.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Display.Timezone)
}

// LoadFile reads and parses a yaml config file.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate fills in defaults and rejects invalid values.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = defaultDBPath
	}
	if c.Server.ViewsDir == "" {
		c.Server.ViewsDir = defaultViewsDir
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = defaultStaticDir
	}
	if c.Server.MaxUpload == 0 {
		c.Server.MaxUpload = defaultMaxUpload
	}
	if c.Cloudinary.BaseURL == "" {
		c.Cloudinary.BaseURL = defaultCloudinaryURL
	}
	c.Cloudinary.BaseURL = strings.TrimRight(c.Cloudinary.BaseURL, "/")
	if c.Cloudinary.Timeout == 0 {
		c.Cloudinary.Timeout = Duration(defaultUploadTimeout)
	}
	if c.Display.DateFormat == "" {
		c.Display.DateFormat = chat.DefaultDateFormat
	}
	if len(c.Reactions.Allowed) == 0 {
		c.Reactions.Allowed = append([]string(nil), chat.DefaultReactions...)
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = defaultRateLimitRPS
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = defaultRateLimitBurst
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxUpload < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must be positive"))
	}
	if err := chat.ValidDateFormat(c.Display.DateFormat); err != nil {
		errs = append(errs, fmt.Errorf("display.date_format: %w", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("display.timezone: %w", err))
	}
	for _, r := range c.Reactions.Allowed {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Errorf("reactions.allowed contains an empty symbol"))
			break
		}
	}
	return errors.Join(errs...)
}
