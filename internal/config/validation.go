package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for errors and inconsistencies
func (c *Config) Validate() error {
	if err := c.validateGeneral(); err != nil {
		return fmt.Errorf("general config: %w", err)
	}

	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.validatePaperless(); err != nil {
		return fmt.Errorf("paperless: %w", err)
	}

	if err := c.validateLLM(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	if err := c.validateVectorIndex(); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}

	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if err := c.validateJobs(); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}

	return nil
}

func (c *Config) validateGeneral() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !isValidChoice(c.General.LogLevel, validLogLevels) {
		return fmt.Errorf("log_level must be one of: %s", strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"json", "text"}
	if !isValidChoice(c.General.LogFormat, validFormats) {
		return fmt.Errorf("log_format must be one of: %s", strings.Join(validFormats, ", "))
	}

	if c.General.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	validJobs := []string{"scan", "bulk-index", "webhook-process", "batch-process"}
	for _, job := range c.General.DebugJobs {
		if !isValidChoice(job, validJobs) {
			return fmt.Errorf("debug_jobs entry %q must be one of: %s", job, strings.Join(validJobs, ", "))
		}
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Server.DefaultWait < 0 {
		return fmt.Errorf("default_wait cannot be negative")
	}
	if c.Server.MaxWait < 1*time.Second {
		return fmt.Errorf("max_wait must be at least 1 second")
	}
	if c.Server.DefaultWait > c.Server.MaxWait {
		return fmt.Errorf("default_wait cannot exceed max_wait")
	}
	return nil
}

func (c *Config) validatePaperless() error {
	if c.Paperless.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.Paperless.URL, "http://") && !strings.HasPrefix(c.Paperless.URL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if c.Paperless.Token == "" {
		return fmt.Errorf("token is required")
	}

	if c.Paperless.RequestTimeout < 1*time.Second {
		return fmt.Errorf("request_timeout must be at least 1 second")
	}
	if c.Paperless.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request_timeout must not exceed 5 minutes")
	}

	if c.Paperless.PageSize < 1 || c.Paperless.PageSize > 1000 {
		return fmt.Errorf("page_size must be between 1 and 1000")
	}

	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.LLM.VisionModel == "" {
		return fmt.Errorf("vision_model is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be at least 1")
	}
	if c.LLM.MaxContentTokens < 1 {
		return fmt.Errorf("max_content_tokens must be at least 1")
	}
	if c.LLM.ExampleTokens < 1 {
		return fmt.Errorf("example_tokens must be at least 1")
	}
	if c.LLM.Timeout < 1*time.Second {
		return fmt.Errorf("timeout must be at least 1 second")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (c *Config) validateVectorIndex() error {
	if c.VectorIndex.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if !validIdentifier.MatchString(c.VectorIndex.Table) {
		return fmt.Errorf("table %q is not a valid identifier", c.VectorIndex.Table)
	}
	if c.VectorIndex.SimilarDocuments < 0 {
		return fmt.Errorf("similar_documents cannot be negative")
	}
	if c.VectorIndex.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if !c.Scheduler.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.Scheduler.Cron, err)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if _, err := regexp.Compile(c.Jobs.BadTitleRegex); err != nil {
		return fmt.Errorf("bad_title_regex: %w", err)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Jobs.ProgressInterval < 0 {
		return fmt.Errorf("progress_interval cannot be negative")
	}
	if c.Jobs.MaxStrikes < 0 {
		return fmt.Errorf("max_strikes cannot be negative")
	}
	return nil
}

var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isValidChoice checks if a value is in a list of valid choices
func isValidChoice(value string, choices []string) bool {
	value = strings.ToLower(value)
	for _, choice := range choices {
		if value == choice {
			return true
		}
	}
	return false
}
