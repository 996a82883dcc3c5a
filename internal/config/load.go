package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from a yaml file (optional) and MARKETPIPE_*
// environment variables, applies defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPIPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("pubsub-system", "kafka")
	v.SetDefault("kafka-client-id", "marketpipe")
	v.SetDefault("kafka-consumer-group", "marketpipe-pipeline")
	v.SetDefault("batch-size", 100)
	v.SetDefault("flush-interval", time.Second)
	v.SetDefault("dedup-window", 24*time.Hour)
	v.SetDefault("retry-initial-interval", 200*time.Millisecond)
	v.SetDefault("retry-max-interval", 5*time.Second)
	v.SetDefault("retry-max-elapsed-time", 30*time.Second)
	v.SetDefault("retry-max-tries", 10)
	v.SetDefault("clock-skew-tolerance", 5*time.Minute)
	v.SetDefault("staleness-bound", 72*time.Hour)
	v.SetDefault("refdata-path", "")
	v.SetDefault("gateway-addr", ":8080")
	v.SetDefault("quota-per-window", 600)
	v.SetDefault("quota-window", time.Minute)
	v.SetDefault("subscriber-queue-cap", 256)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("metrics-port", 9090)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
