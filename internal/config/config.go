// Package config resolves client settings from defaults, a TOML file, .env, the environment and flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIBaseURL     = "http://localhost:8080"
	DefaultTimeout        = 15 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultQueryRetries   = 3

	configFileName = "config.toml"
	homeDirName    = ".muchtodo"
)

// Config holds every tunable of the client.
type Config struct {
	APIBaseURL     string        `toml:"api_base_url"`
	Timeout        time.Duration `toml:"timeout"`
	HealthInterval time.Duration `toml:"health_interval"`
	QueryRetries   int           `toml:"query_retries"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`

	Theme   string `toml:"theme"`
	NoColor bool   `toml:"no_color"`

	// Home holds the cookie jar, the log file and config.toml.
	Home string `toml:"-"`
	// ConfigFile is the file that was loaded, empty if none.
	ConfigFile string `toml:"-"`
	// Group lists todos grouped by pending/done.
	Group bool `toml:"-"`
}

// Load resolves the configuration in priority order:
// 1. Defaults
// 2. Config file ($MUCHTODO_HOME/config.toml, or --config)
// 3. .env in the working directory (never overrides real environment)
// 4. Environment variables
// 5. Flags
//
// It returns the arguments left after flag parsing.
func Load(fs *flag.FlagSet, args []string) (*Config, []string, error) {
	cfg := &Config{}
	setDefaults(cfg)

	var (
		configPath = fs.String("config", "", "path to config.toml")
		apiURL     = fs.String("api", "", "API base URL")
		logLevel   = fs.String("log-level", "", "log level: debug|info|warn|error")
		logFormat  = fs.String("log-format", "", "log format: text|json|logfmt")
		theme      = fs.String("theme", "", "theme: classic|neon|mono")
		noColor    = fs.Bool("no-color", false, "disable colors")
		group      = fs.Bool("group", false, "group output by pending/done")
	)
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	if v := strings.TrimSpace(os.Getenv("MUCHTODO_HOME")); v != "" {
		cfg.Home = v
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(cfg.Home, configFileName)
	}
	if err := loadConfigFile(cfg, path, *configPath != ""); err != nil {
		return nil, nil, fmt.Errorf("loading config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api":
			cfg.APIBaseURL = *apiURL
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "theme":
			cfg.Theme = *theme
		case "no-color":
			cfg.NoColor = *noColor
		case "group":
			cfg.Group = *group
		}
	})

	if err := finalize(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func setDefaults(cfg *Config) {
	cfg.APIBaseURL = DefaultAPIBaseURL
	cfg.Timeout = DefaultTimeout
	cfg.HealthInterval = DefaultHealthInterval
	cfg.QueryRetries = DefaultQueryRetries
	cfg.LogLevel = "warn"
	cfg.LogFormat = "text"
	cfg.Theme = "classic"
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Home = filepath.Join(home, homeDirName)
	} else {
		cfg.Home = homeDirName
	}
}

// loadConfigFile decodes path into cfg. A missing file is only an error when it was asked for explicitly.
func loadConfigFile(cfg *Config, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	cfg.ConfigFile = path
	return nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("MUCHTODO_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("MUCHTODO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MUCHTODO_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("MUCHTODO_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("MUCHTODO_THEME"); v != "" {
		cfg.Theme = v
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		cfg.NoColor = true
	}
	if err := envDuration("MUCHTODO_TIMEOUT", &cfg.Timeout); err != nil {
		return err
	}
	if err := envDuration("MUCHTODO_HEALTH_INTERVAL", &cfg.HealthInterval); err != nil {
		return err
	}
	if v := os.Getenv("MUCHTODO_QUERY_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MUCHTODO_QUERY_RETRIES: %w", err)
		}
		cfg.QueryRetries = n
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func finalize(cfg *Config) error {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("api base url is empty")
	}
	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return fmt.Errorf("api base url must start with http:// or https://: %q", cfg.APIBaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.QueryRetries < 0 {
		cfg.QueryRetries = 0
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.Home, "muchtodo.log")
	}
	return nil
}

// CookieFile is where the session cookie jar is persisted.
func (c *Config) CookieFile() string {
	return filepath.Join(c.Home, "session.json")
}
