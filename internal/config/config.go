package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scancal/internal/apperr"
)

// Defaults.
const (
	DefaultListen       = "127.0.0.1:8080"
	DefaultTimezone     = "UTC"
	DefaultStreamPath   = "/parse"
	DefaultParsePath    = "/parse_free_text"
	DefaultContactsPath = "/contacts"
	DefaultEmptyLimit   = 5
	DefaultMatchLimit   = 10
	DefaultParseTimeout = 30 * time.Second
	DefaultScrapeWait   = 30 * time.Second
	DefaultWaitSelector = "body"
)

// ParserConfig locates the remote parsing service.
type ParserConfig struct {
	// BaseURL is the service root, e.g. "http://127.0.0.1:8000".
	BaseURL      string `yaml:"base_url" json:"base_url"`
	StreamPath   string `yaml:"stream_path" json:"stream_path"`
	ParsePath    string `yaml:"parse_path" json:"parse_path"`
	ContactsPath string `yaml:"contacts_path" json:"contacts_path"`
	// Timeout bounds single-shot and contacts calls. Streams have no timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ScrapeConfig controls the headless browser scrape.
type ScrapeConfig struct {
	// URL is the page scanned when no --url/--file is given.
	URL          string        `yaml:"url" json:"url"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	WaitSelector string        `yaml:"wait_selector" json:"wait_selector"`
	// UserDataDir points Chromium at a profile, e.g. one that is logged in
	// to the mail client.
	UserDataDir string `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
}

// MentionsConfig holds the suggestion limits.
type MentionsConfig struct {
	EmptyLimit int `yaml:"empty_limit" json:"empty_limit"`
	MatchLimit int `yaml:"match_limit" json:"match_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type CalendarConfig struct {
	// IncludeCTZ adds the configured time zone to calendar links.
	IncludeCTZ bool `yaml:"include_ctz" json:"include_ctz"`
	// Name is written into exported calendars.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the local API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone sent to the parsing service and used for
	// times without an offset (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Identity is the user whose contact directory feeds mention suggestions.
	Identity string `yaml:"identity" json:"identity"`

	Parser   ParserConfig   `yaml:"parser" json:"parser"`
	Scrape   ScrapeConfig   `yaml:"scrape" json:"scrape"`
	Mentions MentionsConfig `yaml:"mentions" json:"mentions"`

	// Watch is a cron schedule (e.g. "*/15 * * * *") for periodic rescans.
	// Empty disables watching.
	Watch string `yaml:"watch" json:"watch"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}
	c.Parser.BaseURL = strings.TrimRight(strings.TrimSpace(c.Parser.BaseURL), "/")
	if c.Parser.StreamPath == "" {
		c.Parser.StreamPath = DefaultStreamPath
	}
	if c.Parser.ParsePath == "" {
		c.Parser.ParsePath = DefaultParsePath
	}
	if c.Parser.ContactsPath == "" {
		c.Parser.ContactsPath = DefaultContactsPath
	}
	if c.Parser.Timeout <= 0 {
		c.Parser.Timeout = DefaultParseTimeout
	}
	if c.Scrape.Timeout <= 0 {
		c.Scrape.Timeout = DefaultScrapeWait
	}
	if c.Scrape.WaitSelector == "" {
		c.Scrape.WaitSelector = DefaultWaitSelector
	}
	if c.Mentions.EmptyLimit <= 0 {
		c.Mentions.EmptyLimit = DefaultEmptyLimit
	}
	if c.Mentions.MatchLimit <= 0 {
		c.Mentions.MatchLimit = DefaultMatchLimit
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = "info"
	}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		c.Log.Format = "json"
	default:
		c.Log.Format = "console"
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, apperr.Config(err, fmt.Sprintf("unknown timezone %q", c.Timezone))
	}
	return loc, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Parser.BaseURL != "" && !strings.HasPrefix(c.Parser.BaseURL, "http://") && !strings.HasPrefix(c.Parser.BaseURL, "https://") {
		return apperr.Config(fmt.Errorf("parser.base_url %q is not an http(s) URL", c.Parser.BaseURL), "invalid config")
	}
	return nil
}

// DefaultPath is the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "scancal.yaml"
	}
	return filepath.Join(dir, "scancal", "config.yaml")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Config(err, "parse "+path)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".scancal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
