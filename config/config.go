package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	ParcelDesk ParcelDeskConfig `yaml:"parceldesk"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a postgres:// connection string. Empty ssl_mode means "disable".
func (d DatabaseConfig) DSN() string {
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	ShipmentEventsTopicName string `yaml:"shipment_events_topic_name"`
}

func (k KafkaConfig) Addr() string { return fmt.Sprintf("%s:%d", k.Host, k.Port) }

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type ParcelDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	JWTSecret          string `yaml:"jwt_secret"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	TrackingCacheTTLSeconds  int `yaml:"tracking_cache_ttl_seconds"`
	CreateRateLimitPerMinute int `yaml:"create_rate_limit_per_minute"`

	RelayPollIntervalSeconds int `yaml:"relay_poll_interval_seconds"`
	RelayBatchSize           int `yaml:"relay_batch_size"`
	RelayConcurrency         int `yaml:"relay_concurrency"`
	RelayLeaseSeconds        int `yaml:"relay_lease_seconds"`
	RelayRateLimitPerMinute  int `yaml:"relay_rate_limit_per_minute"`
	RelayBackoff1Seconds     int `yaml:"relay_backoff_1_seconds"`
	RelayBackoff2Seconds     int `yaml:"relay_backoff_2_seconds"`
	RelayBackoff3Seconds     int `yaml:"relay_backoff_3_seconds"`
	RelayBackoff4Seconds     int `yaml:"relay_backoff_4_seconds"`
	// Zero keeps the relay default, negative disables jitter.
	RelayBackoffJitterMillis int `yaml:"relay_backoff_jitter_ms"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`
	// Standard five-field cron spec. Empty disables scheduled reconciliation.
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads the YAML file and then applies environment overrides.
// A .env file in the working directory is loaded first when present.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q: %w", v, err)
		}
		c.Database.Port = port
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.ParcelDesk.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}
