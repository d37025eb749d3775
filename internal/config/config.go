// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Redis
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	StreamName    string `mapstructure:"redis_stream"`
	ConsumerGroup string `mapstructure:"redis_consumer_group"`

	// RethinkDB
	RethinkDBURL    string `mapstructure:"rethinkdb_url"`
	DBName          string `mapstructure:"db_name"`
	RunTableName    string `mapstructure:"run_table"`
	ResultTableName string `mapstructure:"result_table"`

	// Server
	ServerPort string `mapstructure:"server_port"`
	HealthPort string `mapstructure:"health_port"`

	// Worker
	WorkerCount int           `mapstructure:"worker_count"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`

	// Dataset providers
	DataRoot string `mapstructure:"data_root"`
}

func Load() (*Config, error) {
	viper.SetDefault("redis_url", "localhost:6379")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("redis_stream", "validation-jobs")
	viper.SetDefault("redis_consumer_group", "validation-workers")
	viper.SetDefault("rethinkdb_url", "localhost:28015")
	viper.SetDefault("db_name", "geoval")
	viper.SetDefault("run_table", "validation_runs")
	viper.SetDefault("result_table", "validation_results")
	viper.SetDefault("server_port", ":8081")
	viper.SetDefault("health_port", ":8082")
	viper.SetDefault("worker_count", 4)
	viper.SetDefault("job_timeout", 10*time.Minute)
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("data_root", "./data")

	// Optional config file next to the binary or under ./config.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/geoval/")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults and env cover everything.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
