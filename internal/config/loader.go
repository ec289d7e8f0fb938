package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RETITLER_PAPERLESS_TOKEN.
const EnvPrefix = "RETITLER"

// Load reads configuration from .env, file and environment variables
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configPath == "" {
		defaultPaths := []string{"config.yaml", "config.yml", "/app/config.yaml"}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv populates unset environment variables from path; a missing file is fine.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyDerived fills settings whose defaults depend on other settings
func (c *Config) applyDerived() {
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.General.DataDir, "archive.db")
	}
	c.Paperless.URL = strings.TrimRight(c.Paperless.URL, "/")
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("general.dry_run", false)
	v.SetDefault("general.data_dir", "./data")
	v.SetDefault("general.debug_jobs", []string{})

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.default_wait", 60*time.Second)
	v.SetDefault("server.max_wait", 5*time.Minute)

	v.SetDefault("paperless.url", "")
	v.SetDefault("paperless.token", "")
	v.SetDefault("paperless.request_timeout", 30*time.Second)
	v.SetDefault("paperless.page_size", 100)
	v.SetDefault("paperless.skip_tls_verify", false)

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "ollama")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.vision_model", "llava")
	v.SetDefault("llm.language", "English")
	v.SetDefault("llm.prompt_template", "")
	v.SetDefault("llm.vision_prompt_template", "")
	v.SetDefault("llm.max_content_tokens", 1000)
	v.SetDefault("llm.example_tokens", 100)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)

	v.SetDefault("vector_index.dsn", "")
	v.SetDefault("vector_index.table", "document_embeddings")
	v.SetDefault("vector_index.similar_documents", 3)
	v.SetDefault("vector_index.max_concurrency", 4)

	v.SetDefault("archive.path", "")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "*/30 * * * *")

	v.SetDefault("jobs.bad_title_regex", "^Scan.*")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.progress_interval", time.Second)
	v.SetDefault("jobs.max_strikes", 3)
}
