package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for a reaper run.
type Config struct {
	Run     RunConfig     `mapstructure:"run"     yaml:"run"`
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Output  OutputConfig  `mapstructure:"output"  yaml:"output"`
	Ledger  LedgerConfig  `mapstructure:"ledger"  yaml:"ledger"`
	AI      AIConfig      `mapstructure:"ai"      yaml:"ai"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// RunConfig controls scheduling for one invocation.
type RunConfig struct {
	MaxRecords int    `mapstructure:"max_records" yaml:"max_records"`
	Resume     bool   `mapstructure:"resume"      yaml:"resume"`
	Workers    int    `mapstructure:"workers"     yaml:"workers"`
	InputSpec  string `mapstructure:"input_spec"  yaml:"input_spec"`
}

// FetcherConfig controls the HTTP fetcher.
type FetcherConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	RetryBudget     int           `mapstructure:"retry_budget"      yaml:"retry_budget"`
	MinInterval     time.Duration `mapstructure:"min_interval"      yaml:"min_interval"`
	ProxyURLs       []string      `mapstructure:"proxy_urls"        yaml:"proxy_urls"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
}

// SessionConfig controls browser session acquisition.
type SessionConfig struct {
	Username        string        `mapstructure:"username"          yaml:"username"`
	Password        string        `mapstructure:"password"          yaml:"password"`
	Headless        bool          `mapstructure:"headless"          yaml:"headless"`
	AcquireAttempts int           `mapstructure:"acquire_attempts"  yaml:"acquire_attempts"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"      yaml:"step_timeout"`
}

// OutputConfig controls the export sink.
type OutputConfig struct {
	Format string `mapstructure:"format"    yaml:"format"` // csv, xlsx, ndjson, mongo
	Dir    string `mapstructure:"dir"       yaml:"dir"`
	Label  string `mapstructure:"label"     yaml:"label"`
	Mongo  string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
}

// LedgerConfig controls the dedup ledger.
type LedgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// AIConfig controls LLM enrichment.
type AIConfig struct {
	Enabled         bool   `mapstructure:"enabled"          yaml:"enabled"`
	Model           string `mapstructure:"model"            yaml:"model"`
	APIKey          string `mapstructure:"api_key"          yaml:"api_key"`
	LocationCatalog string `mapstructure:"location_catalog" yaml:"location_catalog"`
}

// LoggingConfig controls structured and event logging.
type LoggingConfig struct {
	Level    string `mapstructure:"level"     yaml:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"    yaml:"format"` // text, json
	EventDir string `mapstructure:"event_dir" yaml:"event_dir"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			MaxRecords: 0,
			Resume:     true,
			Workers:    2,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  70 * time.Second,
			RetryBudget:     3,
			MinInterval:     500 * time.Millisecond,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     16 << 20,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			},
		},
		Session: SessionConfig{
			Headless:        true,
			AcquireAttempts: 3,
			StepTimeout:     30 * time.Second,
		},
		Output: OutputConfig{
			Format: "xlsx",
			Dir:    "output",
		},
		Ledger: LedgerConfig{
			Dir: "state",
		},
		AI: AIConfig{
			Enabled:         true,
			LocationCatalog: "state/locations.json",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			EventDir: "logs",
		},
	}
}
