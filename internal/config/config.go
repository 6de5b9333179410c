package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultServerAddr        = ":8080"
	DefaultDBType            = "sqlite"
	DefaultSQLiteDSN         = "gorm.db"
	DefaultKafkaBrokers      = "localhost:9092"
	DefaultTaskDispatchTopic = "calculation_task_requests"
	DefaultResultTopic       = "calculation_task_results"
	DefaultWorkerGroupID     = "calculation-worker-group"
	DefaultManagerGroupID    = "calculation-manager-results-group"
	DefaultHealthAddr        = ":9090"
	DefaultConcurrency       = 4
	DefaultHardTimeLimit     = 3600 * time.Second
	DefaultSoftTimeLimit     = 3500 * time.Second
)

// Config holds the configuration for both binaries.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Database struct {
		Type          string        `mapstructure:"type"`
		DSN           string        `mapstructure:"dsn"`
		SlowThreshold time.Duration `mapstructure:"slow_threshold"`
		AutoMigrate   bool          `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`
	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		TaskDispatchTopic string   `mapstructure:"task_dispatch_topic"`
		ResultTopic       string   `mapstructure:"result_topic"`
		WorkerGroupID     string   `mapstructure:"worker_group_id"`
		ManagerGroupID    string   `mapstructure:"manager_group_id"`
	} `mapstructure:"kafka"`
	Worker struct {
		Concurrency   int           `mapstructure:"concurrency"`
		HardTimeLimit time.Duration `mapstructure:"hard_time_limit"`
		SoftTimeLimit time.Duration `mapstructure:"soft_time_limit"`
		HealthAddr    string        `mapstructure:"health_addr"`
	} `mapstructure:"worker"`
	Engine struct {
		// CompositionPolicy applies to nodes that do not set their own.
		CompositionPolicy string `mapstructure:"composition_policy"`
	} `mapstructure:"engine"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// Load reads an optional YAML file, then the environment. Both the flat
// names (DB_TYPE, KAFKA_BROKERS) and the nested form (DATABASE_TYPE) work.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitBrokers(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("database.type", DefaultDBType)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.slow_threshold", time.Second)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBrokers})
	v.SetDefault("kafka.task_dispatch_topic", DefaultTaskDispatchTopic)
	v.SetDefault("kafka.result_topic", DefaultResultTopic)
	v.SetDefault("kafka.worker_group_id", DefaultWorkerGroupID)
	v.SetDefault("kafka.manager_group_id", DefaultManagerGroupID)
	v.SetDefault("worker.concurrency", DefaultConcurrency)
	v.SetDefault("worker.hard_time_limit", DefaultHardTimeLimit)
	v.SetDefault("worker.soft_time_limit", DefaultSoftTimeLimit)
	v.SetDefault("worker.health_addr", DefaultHealthAddr)
	v.SetDefault("engine.composition_policy", "first_match")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"database.type":             "DB_TYPE",
		"database.dsn":              "DB_DSN",
		"server.addr":               "SERVER_ADDR",
		"kafka.brokers":             "KAFKA_BROKERS",
		"kafka.task_dispatch_topic": "TASK_DISPATCH_TOPIC",
		"kafka.result_topic":        "RESULT_TOPIC",
		"kafka.worker_group_id":     "WORKER_GROUP_ID",
		"kafka.manager_group_id":    "MANAGER_GROUP_ID",
		"worker.concurrency":        "WORKER_CONCURRENCY",
		"log.level":                 "LOG_LEVEL",
	}
	for key, env := range legacy {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}

// splitBrokers accepts both a YAML list and a comma separated env value.
func splitBrokers(in []string) []string {
	var out []string
	for _, b := range in {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case "mysql", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	switch c.Engine.CompositionPolicy {
	case "first_match", "cumulative":
	default:
		return fmt.Errorf("unsupported composition policy %q", c.Engine.CompositionPolicy)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.SoftTimeLimit > c.Worker.HardTimeLimit {
		return fmt.Errorf("soft time limit %s exceeds hard time limit %s", c.Worker.SoftTimeLimit, c.Worker.HardTimeLimit)
	}
	return nil
}
