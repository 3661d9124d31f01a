package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cartsync configuration.
type Config struct {
	// Notion task store
	Notion NotionConfig `yaml:"notion"`

	// Polling cadence and per-task timings
	Sync SyncConfig `yaml:"sync"`

	// Chrome used as the target surface
	Browser BrowserConfig `yaml:"browser"`

	// Idempotency ledger persistence
	Ledger LedgerConfig `yaml:"ledger"`

	// Event intake HTTP transport
	Intake IntakeConfig `yaml:"intake"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// NotionConfig configures the task store client.
type NotionConfig struct {
	APIKey     string `yaml:"api_key"`
	DatabaseID string `yaml:"database_id"`

	BaseURL           string  `yaml:"base_url" validate:"required,url"`
	Version           string  `yaml:"version" validate:"required"`
	Timeout           string  `yaml:"timeout" validate:"omitempty,duration"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`

	// Select options of the status property
	PendingMarker   string `yaml:"pending_marker" validate:"required"`
	CompletedMarker string `yaml:"completed_marker" validate:"required"`

	Properties PropertyNames `yaml:"properties"`
}

// PropertyNames maps task fields onto database property names.
type PropertyNames struct {
	Status      string `yaml:"status" validate:"required"`
	Title       string `yaml:"title" validate:"required"`
	URL         string `yaml:"url"`
	ASIN        string `yaml:"asin"`
	Quantity    string `yaml:"quantity"`
	CompletedAt string `yaml:"completed_at"`
}

// Required returns the property names a database must define.
func (p PropertyNames) Required() []string {
	var names []string
	for _, n := range []string{p.Title, p.URL, p.ASIN, p.Status, p.Quantity} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// SyncConfig configures the polling loop and the per-task state machine.
type SyncConfig struct {
	AutoSync bool   `yaml:"auto_sync"`
	Interval string `yaml:"interval" validate:"required,duration"`

	StartupDelay     string `yaml:"startup_delay" validate:"omitempty,duration"`
	InterTaskDelay   string `yaml:"inter_task_delay" validate:"omitempty,duration"`
	SettleDelay      string `yaml:"settle_delay" validate:"omitempty,duration"`
	CloseDelay       string `yaml:"close_delay" validate:"omitempty,duration"`
	FallbackDelay    string `yaml:"fallback_delay" validate:"omitempty,duration"`
	LoadTimeout      string `yaml:"load_timeout" validate:"omitempty,duration"`
	LoadPollInterval string `yaml:"load_poll_interval" validate:"omitempty,duration"`

	ReadinessAttempts int    `yaml:"readiness_attempts" validate:"gte=1"`
	ReadinessInterval string `yaml:"readiness_interval" validate:"omitempty,duration"`

	// Complete by timer instead of releasing the claim when the action
	// script cannot be injected
	InjectionFallback bool `yaml:"injection_fallback"`

	// Prefix used to derive a product page from an ASIN
	ProductBaseURL string `yaml:"product_base_url" validate:"required,url"`
}

// BrowserConfig configures the Chrome instance.
type BrowserConfig struct {
	DebuggerURL    string `yaml:"debugger_url"` // attach instead of launching
	Bin            string `yaml:"bin"`
	Headless       bool   `yaml:"headless"`
	UserDataDir    string `yaml:"user_data_dir"` // profile holding the shop login
	ViewportWidth  int    `yaml:"viewport_width" validate:"gte=0"`
	ViewportHeight int    `yaml:"viewport_height" validate:"gte=0"`
}

// LedgerConfig configures where claimed task ids are persisted.
type LedgerConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite file"`
	Path    string `yaml:"path" validate:"required"`
}

// IntakeConfig configures the HTTP event intake. Empty ListenAddr disables it.
type IntakeConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		Notion: NotionConfig{
			BaseURL:           "https://api.notion.com/v1",
			Version:           "2022-06-28",
			Timeout:           "30s",
			RequestsPerSecond: 3,
			PendingMarker:     "カート追加待ち",
			CompletedMarker:   "カート追加済み",
			Properties: PropertyNames{
				Status:      "📖 読書ステータス",
				Title:       "Title",
				URL:         "🔗",
				ASIN:        "ASIN",
				Quantity:    "数量",
				CompletedAt: "追加日時",
			},
		},

		Sync: SyncConfig{
			AutoSync:          true,
			Interval:          "30s",
			StartupDelay:      "3s",
			InterTaskDelay:    "2s",
			SettleDelay:       "2s",
			CloseDelay:        "5s",
			FallbackDelay:     "10s",
			LoadTimeout:       "60s",
			LoadPollInterval:  "100ms",
			ReadinessAttempts: 30,
			ReadinessInterval: "500ms",
			ProductBaseURL:    "https://www.amazon.co.jp/dp/",
		},

		Browser: BrowserConfig{
			Headless:       false,
			UserDataDir:    filepath.Join(dir, "chrome-profile"),
			ViewportWidth:  1280,
			ViewportHeight: 900,
		},

		Ledger: LedgerConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dir, "ledger.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultDir returns ~/.cartsync, or .cartsync when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cartsync"
	}
	return filepath.Join(home, ".cartsync")
}

// DefaultPath returns the default settings file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults (plus environment overrides).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Notion.DatabaseID = NormalizeDatabaseID(cfg.Notion.DatabaseID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file carries the Notion token.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("NOTION_API_KEY"); key != "" {
		c.Notion.APIKey = key
	}
	if id := os.Getenv("NOTION_DATABASE_ID"); id != "" {
		c.Notion.DatabaseID = id
	}
	if path := os.Getenv("CARTSYNC_LEDGER_PATH"); path != "" {
		c.Ledger.Path = path
	}
	if url := os.Getenv("CARTSYNC_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if v := os.Getenv("CARTSYNC_HEADLESS"); v != "" {
		c.Browser.Headless = v == "1" || strings.EqualFold(v, "true")
	}
	if lvl := os.Getenv("CARTSYNC_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = strings.ToLower(lvl)
	}
}

// HasCredentials reports whether both Notion credentials are present.
func (c *Config) HasCredentials() bool {
	return c.Notion.APIKey != "" && c.Notion.DatabaseID != ""
}

var notionURLID = regexp.MustCompile(`(?i)notion\.so/.*?([a-f0-9]{32})`)

// NormalizeDatabaseID accepts a raw id, a hyphenated UUID or a pasted
// notion.so URL and returns the bare 32-character id.
func NormalizeDatabaseID(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := notionURLID.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return strings.ReplaceAll(raw, "-", "")
}

// Timings is the parsed form of SyncConfig.
type Timings struct {
	Interval          time.Duration
	StartupDelay      time.Duration
	InterTaskDelay    time.Duration
	SettleDelay       time.Duration
	CloseDelay        time.Duration
	FallbackDelay     time.Duration
	LoadTimeout       time.Duration
	LoadPollInterval  time.Duration
	ReadinessAttempts int
	ReadinessInterval time.Duration
}

// GetTimings parses the sync durations, falling back to defaults for
// unparsable values.
func (c *Config) GetTimings() Timings {
	s := c.Sync
	attempts := s.ReadinessAttempts
	if attempts < 1 {
		attempts = 30
	}
	return Timings{
		Interval:          parseDuration(s.Interval, 30*time.Second),
		StartupDelay:      parseDuration(s.StartupDelay, 3*time.Second),
		InterTaskDelay:    parseDuration(s.InterTaskDelay, 2*time.Second),
		SettleDelay:       parseDuration(s.SettleDelay, 2*time.Second),
		CloseDelay:        parseDuration(s.CloseDelay, 5*time.Second),
		FallbackDelay:     parseDuration(s.FallbackDelay, 10*time.Second),
		LoadTimeout:       parseDuration(s.LoadTimeout, 60*time.Second),
		LoadPollInterval:  parseDuration(s.LoadPollInterval, 100*time.Millisecond),
		ReadinessAttempts: attempts,
		ReadinessInterval: parseDuration(s.ReadinessInterval, 500*time.Millisecond),
	}
}

// GetNotionTimeout returns the HTTP timeout for Notion calls.
func (c *Config) GetNotionTimeout() time.Duration {
	return parseDuration(c.Notion.Timeout, 30*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
