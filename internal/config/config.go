package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Paths    PathsConfig    `mapstructure:"paths" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Engines  EnginesConfig  `mapstructure:"engines"`
}

// ServerConfig contains HTTP server and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// LogFile, when set, receives a JSON copy of every log record.
	LogFile string `mapstructure:"log_file"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL        string `mapstructure:"url" validate:"required_if=Driver postgres"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
}

// PathsConfig holds the directories the pipeline writes to.
type PathsConfig struct {
	DownloadDir string `mapstructure:"download_dir" validate:"required"`
	ResultDir   string `mapstructure:"result_dir" validate:"required"`
}

// TaskConfig tunes orchestration: engine defaults, pacing and retries.
type TaskConfig struct {
	DefaultEngine      string        `mapstructure:"default_engine" validate:"required"`
	DefaultVideoEngine string        `mapstructure:"default_video_engine" validate:"required"`
	MinInterval        time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	DispatchJitter     time.Duration `mapstructure:"dispatch_jitter" validate:"gte=0"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
	EngineTimeout      time.Duration `mapstructure:"engine_timeout" validate:"gt=0"`
	MaxWorkers         int           `mapstructure:"max_workers" validate:"gt=0,lte=64"`
	QueueSize          int           `mapstructure:"queue_size" validate:"gt=0"`
	RetryablePhrases   []string      `mapstructure:"retryable_phrases"`
}

// EnginesConfig carries per-engine credentials and endpoints. Engines whose
// credentials are empty report themselves unavailable.
type EnginesConfig struct {
	MistralAPIKey     string `mapstructure:"mistral_api_key"`
	MistralBaseURL    string `mapstructure:"mistral_base_url" validate:"omitempty,url"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	GeminiModel       string `mapstructure:"gemini_model"`
	ParaformerAPIKey  string `mapstructure:"paraformer_api_key"`
	ParaformerBaseURL string `mapstructure:"paraformer_base_url" validate:"omitempty,url"`
	TesseractPath     string `mapstructure:"tesseract_path"`
	TesseractLang     string `mapstructure:"tesseract_lang"`
}
