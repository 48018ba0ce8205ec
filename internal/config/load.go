package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// MEDIASCRIBE_DATABASE_DRIVER overrides database.driver.
const EnvPrefix = "MEDIASCRIBE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "data/mediascribe.db")

	v.SetDefault("paths.download_dir", "downloads")
	v.SetDefault("paths.result_dir", "results")

	v.SetDefault("task.default_engine", "mistral")
	v.SetDefault("task.default_video_engine", "ali_paraformer_v2")
	v.SetDefault("task.min_interval", time.Second)
	v.SetDefault("task.dispatch_jitter", 500*time.Millisecond)
	v.SetDefault("task.max_retries", 3)
	v.SetDefault("task.retry_base_delay", 2*time.Second)
	v.SetDefault("task.engine_timeout", 5*time.Minute)
	v.SetDefault("task.max_workers", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.retryable_phrases", []string{})

	v.SetDefault("engines.mistral_api_key", "")
	v.SetDefault("engines.mistral_base_url", "https://api.mistral.ai")
	v.SetDefault("engines.gemini_api_key", "")
	v.SetDefault("engines.gemini_model", "gemini-2.0-flash")
	v.SetDefault("engines.paraformer_api_key", "")
	v.SetDefault("engines.paraformer_base_url", "https://dashscope.aliyuncs.com")
	v.SetDefault("engines.tesseract_path", "tesseract")
	v.SetDefault("engines.tesseract_lang", "chi_sim+eng")
}

// Load reads configuration from defaults, an optional YAML file and
// MEDIASCRIBE_* environment variables, in increasing precedence. When
// configFile is empty a config.yaml in the working directory is used if
// present. The result is validated before it is returned.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
