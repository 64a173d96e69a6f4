package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration, populated from the environment.
// A .env file in the working directory is honored when present.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3002"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	StorageType      string `envconfig:"STORAGE_TYPE"`
	DataSourceName   string `envconfig:"DATA_SOURCE_NAME"`
	LocalStoragePath string `envconfig:"LOCAL_STORAGE_PATH"`

	ConnectAttempts     int           `envconfig:"CONNECT_ATTEMPTS" default:"5"`
	ConnectInitialDelay time.Duration `envconfig:"CONNECT_INITIAL_DELAY" default:"1s"`

	FlushRetryDelay time.Duration `envconfig:"FLUSH_RETRY_DELAY" default:"250ms"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
