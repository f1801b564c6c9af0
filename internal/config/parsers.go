package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "GROUPCHAT_"

// Flags holds parsed command-line values and which of them were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("groupchat", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (host:port)")
	db := fs.String("db", defaultDBPath, "Pebble DB path")
	cfg := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DB: *db, Config: *cfg, Set: set}, nil
}

// ParseFile loads the config file named by flags. A missing file is only an
// error when -config was given explicitly.
func ParseFile(flags Flags) (*Config, bool, error) {
	cfg, err := LoadFile(flags.Config)
	if err != nil {
		if os.IsNotExist(err) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseEnvs reads GROUPCHAT_* variables into a new Config. Only fields with
// a non-empty variable are set.
func ParseEnvs(getenv func(string) string) (*Config, bool, error) {
	env := func(k string) string { return strings.TrimSpace(getenv(envPrefix + k)) }
	cfg := &Config{}
	used := false
	var err error

	setStr := func(dst *string, key string) {
		if v := env(key); v != "" {
			*dst = v
			used = true
		}
	}
	setStr(&cfg.Server.Address, "SERVER_ADDRESS")
	setStr(&cfg.Server.DBPath, "DB_PATH")
	setStr(&cfg.Server.ViewsDir, "VIEWS_DIR")
	setStr(&cfg.Server.StaticDir, "STATIC_DIR")
	setStr(&cfg.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	setStr(&cfg.Cloudinary.UploadPreset, "CLOUDINARY_UPLOAD_PRESET")
	setStr(&cfg.Cloudinary.BaseURL, "CLOUDINARY_BASE_URL")
	setStr(&cfg.Display.DateFormat, "DATE_FORMAT")
	setStr(&cfg.Display.Timezone, "TIMEZONE")
	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.AuditFile, "AUDIT_FILE")

	if v := env("SERVER_PORT"); v != "" {
		if cfg.Server.Port, err = strconv.Atoi(v); err != nil {
			return nil, false, fmt.Errorf("%sSERVER_PORT: %w", envPrefix, err)
		}
		used = true
	}
	if v := env("MAX_UPLOAD"); v != "" {
		if cfg.Server.MaxUpload, err = parseSize(v); err != nil {
			return nil, false, fmt.Errorf("%sMAX_UPLOAD: %w", envPrefix, err)
		}
		used = true
	}
	if v := env("CLOUDINARY_TIMEOUT"); v != "" {
		if cfg.Cloudinary.Timeout, err = parseDuration(v); err != nil {
			return nil, false, fmt.Errorf("%sCLOUDINARY_TIMEOUT: %w", envPrefix, err)
		}
		used = true
	}
	if v := env("RATE_RPS"); v != "" {
		if cfg.RateLimit.RPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, false, fmt.Errorf("%sRATE_RPS: %w", envPrefix, err)
		}
		used = true
	}
	if v := env("RATE_BURST"); v != "" {
		if cfg.RateLimit.Burst, err = strconv.Atoi(v); err != nil {
			return nil, false, fmt.Errorf("%sRATE_BURST: %w", envPrefix, err)
		}
		used = true
	}
	if v := env("REACTIONS"); v != "" {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Reactions.Allowed = append(cfg.Reactions.Allowed, r)
			}
		}
		used = true
	}
	return cfg, used, nil
}

// Effective is the merged configuration and where it came from.
type Effective struct {
	Config *Config
	Source string // "defaults", "config", "env" or "flags"
}

// Merge layers file < env < flags and validates the result.
func Merge(flags Flags, file *Config, fileExists bool, envCfg *Config, envUsed bool) (*Effective, error) {
	cfg := &Config{}
	source := "defaults"
	if file != nil && fileExists {
		*cfg = *file
		source = "config"
	}
	if envCfg != nil && envUsed {
		overlay(cfg, envCfg)
		source = "env"
	}
	if flags.Set["addr"] {
		host, port, err := splitAddr(flags.Addr)
		if err != nil {
			return nil, err
		}
		cfg.Server.Address, cfg.Server.Port = host, port
		source = "flags"
	}
	if flags.Set["db"] || cfg.Server.DBPath == "" {
		cfg.Server.DBPath = flags.DB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Effective{Config: cfg, Source: source}, nil
}

func overlay(dst, src *Config) {
	str := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	str(&dst.Server.Address, src.Server.Address)
	str(&dst.Server.DBPath, src.Server.DBPath)
	str(&dst.Server.ViewsDir, src.Server.ViewsDir)
	str(&dst.Server.StaticDir, src.Server.StaticDir)
	str(&dst.Cloudinary.CloudName, src.Cloudinary.CloudName)
	str(&dst.Cloudinary.UploadPreset, src.Cloudinary.UploadPreset)
	str(&dst.Cloudinary.BaseURL, src.Cloudinary.BaseURL)
	str(&dst.Display.DateFormat, src.Display.DateFormat)
	str(&dst.Display.Timezone, src.Display.Timezone)
	str(&dst.Logging.Level, src.Logging.Level)
	str(&dst.Logging.AuditFile, src.Logging.AuditFile)
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.MaxUpload != 0 {
		dst.Server.MaxUpload = src.Server.MaxUpload
	}
	if src.Cloudinary.Timeout != 0 {
		dst.Cloudinary.Timeout = src.Cloudinary.Timeout
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if len(src.Reactions.Allowed) > 0 {
		dst.Reactions.Allowed = src.Reactions.Allowed
	}
}

func splitAddr(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid -addr %q: want host:port", addr)
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid -addr %q: %w", addr, err)
	}
	return addr[:i], port, nil
}
