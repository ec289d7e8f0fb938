package config

import "time"

// Config represents the complete application configuration
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Paperless   PaperlessConfig   `mapstructure:"paperless"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// GeneralConfig contains global application settings
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	DryRun    bool   `mapstructure:"dry_run"`
	DataDir   string `mapstructure:"data_dir"`
	// DebugJobs lists job kinds whose logs are raised to debug
	DebugJobs []string `mapstructure:"debug_jobs"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	DefaultWait time.Duration `mapstructure:"default_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// PaperlessConfig points at the Paperless-ngx instance
type PaperlessConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageSize       int           `mapstructure:"page_size"`
	SkipTLSVerify  bool          `mapstructure:"skip_tls_verify"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint
type LLMConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	APIKey               string        `mapstructure:"api_key"`
	Model                string        `mapstructure:"model"`
	VisionModel          string        `mapstructure:"vision_model"`
	Language             string        `mapstructure:"language"`
	PromptTemplate       string        `mapstructure:"prompt_template"`
	VisionPromptTemplate string        `mapstructure:"vision_prompt_template"`
	MaxContentTokens     int           `mapstructure:"max_content_tokens"`
	ExampleTokens        int           `mapstructure:"example_tokens"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
}

// EmbeddingConfig configures the embeddings endpoint. It shares base_url and
// api_key with the LLM section.
type EmbeddingConfig struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// VectorIndexConfig configures the pgvector-backed index
type VectorIndexConfig struct {
	DSN              string `mapstructure:"dsn"`
	Table            string `mapstructure:"table"`
	SimilarDocuments int    `mapstructure:"similar_documents"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
}

// ArchiveConfig configures the SQLite audit log
type ArchiveConfig struct {
	// Path defaults to <data_dir>/archive.db when empty
	Path string `mapstructure:"path"`
}

// SchedulerConfig controls periodic scans
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// JobsConfig contains settings shared by all background jobs
type JobsConfig struct {
	BadTitleRegex    string        `mapstructure:"bad_title_regex"`
	Workers          int           `mapstructure:"workers"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	// MaxStrikes is the number of failures after which scans skip a document; 0 disables
	MaxStrikes int `mapstructure:"max_strikes"`
}
