package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("REAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("reaper")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".reaper"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Missing file is fine unless one was named explicitly.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets come from the environment, never the file.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if user := os.Getenv("REAPER_SESSION_USERNAME"); user != "" {
		cfg.Session.Username = user
	}
	if pass := os.Getenv("REAPER_SESSION_PASSWORD"); pass != "" {
		cfg.Session.Password = pass
	}

	// A test invocation writes everything next to the real outputs but
	// under suffixed directories, so live artifacts are never touched.
	if testing := os.Getenv("TESTING"); testing == "1" || strings.EqualFold(testing, "true") {
		cfg.Output.Dir += "_test"
		cfg.Ledger.Dir += "_test"
		cfg.Logging.EventDir += "_test"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("run.max_records", cfg.Run.MaxRecords)
	v.SetDefault("run.resume", cfg.Run.Resume)
	v.SetDefault("run.workers", cfg.Run.Workers)

	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.retry_budget", cfg.Fetcher.RetryBudget)
	v.SetDefault("fetcher.min_interval", cfg.Fetcher.MinInterval)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)

	v.SetDefault("session.headless", cfg.Session.Headless)
	v.SetDefault("session.acquire_attempts", cfg.Session.AcquireAttempts)
	v.SetDefault("session.step_timeout", cfg.Session.StepTimeout)

	v.SetDefault("output.format", cfg.Output.Format)
	v.SetDefault("output.dir", cfg.Output.Dir)

	v.SetDefault("ledger.dir", cfg.Ledger.Dir)

	v.SetDefault("ai.enabled", cfg.AI.Enabled)
	v.SetDefault("ai.location_catalog", cfg.AI.LocationCatalog)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.event_dir", cfg.Logging.EventDir)
}
