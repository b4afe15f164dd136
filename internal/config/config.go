package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// StatsURL is the external statistics recorder endpoint. Empty
	// disables recording.
	StatsURL string `mapstructure:"stats_url"`

	SpotlightThreshold float64 `mapstructure:"spotlight_threshold"`

	StateRetryMax     int           `mapstructure:"state_retry_max"`
	StateRetryBackoff time.Duration `mapstructure:"state_retry_backoff"`
	FailRetryMax      int           `mapstructure:"fail_retry_max"`
	FailRetryBase     time.Duration `mapstructure:"fail_retry_base"`
	FailRetryCap      time.Duration `mapstructure:"fail_retry_cap"`

	HealthInterval time.Duration `mapstructure:"health_interval"`
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`

	ReadLimit int64 `mapstructure:"read_limit"`
}

func Load() (*Config, error) {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "meetspace-dev-secret")
	v.SetDefault("log_max_size_mb", 64)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("spotlight_threshold", 0.3)
	v.SetDefault("state_retry_max", 3)
	v.SetDefault("state_retry_backoff", "2s")
	v.SetDefault("fail_retry_max", 5)
	v.SetDefault("fail_retry_base", "1s")
	v.SetDefault("fail_retry_cap", "10s")
	v.SetDefault("health_interval", "30s")
	v.SetDefault("silence_timeout", "60s")
	v.SetDefault("read_limit", 32768)

	v.SetEnvPrefix("meetspace")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
