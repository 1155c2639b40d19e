package config

import (
	"fmt"
)

var validFormats = map[string]bool{
	"csv": true, "xlsx": true, "ndjson": true, "mongo": true,
}

// Validate checks cross-field constraints and clamps the worker count
// into its supported range of 1 to 4.
func (c *Config) Validate() error {
	if c.Run.Workers < 1 {
		c.Run.Workers = 1
	}
	if c.Run.Workers > 4 {
		c.Run.Workers = 4
	}
	if c.Run.MaxRecords < 0 {
		return fmt.Errorf("run.max_records must not be negative, got %d", c.Run.MaxRecords)
	}
	if c.Fetcher.RetryBudget < 0 {
		return fmt.Errorf("fetcher.retry_budget must not be negative, got %d", c.Fetcher.RetryBudget)
	}
	if c.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be positive, got %s", c.Fetcher.RequestTimeout)
	}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("output.format %q is not one of csv, xlsx, ndjson, mongo", c.Output.Format)
	}
	if c.Output.Format == "mongo" && c.Output.Mongo == "" {
		return fmt.Errorf("output.format mongo requires output.mongo_uri")
	}
	if c.Session.AcquireAttempts < 1 {
		c.Session.AcquireAttempts = 1
	}
	return nil
}
