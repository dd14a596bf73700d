package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvBaseURL overrides Config.BaseURL when set.
const EnvBaseURL = "BUNNYCHAT_URL"

// Config represents the global ~/.bunnychat/config.toml.
type Config struct {
	DefaultSession  string   `toml:"default_session"`
	BaseURL         string   `toml:"base_url"`
	RequestTimeout  Duration `toml:"request_timeout"`
	LogLevel        string   `toml:"log_level"`
	MetricsTextfile string   `toml:"metrics_textfile"`
	Poll            Poll     `toml:"poll"`
}

// Poll configures the opt-in transcript poller.
type Poll struct {
	Interval   Duration `toml:"interval"`
	MaxBackoff Duration `toml:"max_backoff"`
}

// Duration is a time.Duration that reads and writes as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BaseURL:  "http://localhost:8080",
		LogLevel: "info",
		Poll: Poll{
			Interval:   Duration{5 * time.Second},
			MaxBackoff: Duration{time.Minute},
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the file
// does not exist. Unset fields take their default values and the
// BUNNYCHAT_URL environment variable overrides base_url.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.BaseURL = v
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Poll.Interval.Duration <= 0 {
		c.Poll.Interval = def.Poll.Interval
	}
	if c.Poll.MaxBackoff.Duration <= 0 {
		c.Poll.MaxBackoff = def.Poll.MaxBackoff
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
