package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/carelink/realtime/internal/adapters/store"
)

type Config struct {
	Mode      string            `mapstructure:"mode"`
	Port      int               `mapstructure:"port"`
	ReadLimit int64             `mapstructure:"read_limit"`
	Secret    string            `mapstructure:"secret"`
	Redis     store.RedisConfig `mapstructure:"redis"`

	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

func Load() (*Config, error) {
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
	v.SetDefault("read_limit", 32768)
	v.SetDefault("secret", "dev-secret")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
