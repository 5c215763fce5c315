package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Carriers    CarriersConfig    `yaml:"carriers"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	ParcelSync  ParcelSyncConfig  `yaml:"parcelsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`

	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`
}

// ConnString renders the pgx connection URL. ssl_mode defaults to disable.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	EventsTopicName string `yaml:"events_topic_name"`
	ConsumerGroup   string `yaml:"consumer_group"`
}

func (k KafkaConfig) Enabled() bool { return k.Host != "" }

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

type MarketplaceConfig struct {
	BaseURL                     string `yaml:"base_url"`
	ServiceToken                string `yaml:"service_token"`
	BaseTimeoutSeconds          int    `yaml:"base_timeout_seconds"`
	PerCredentialTimeoutSeconds int    `yaml:"per_credential_timeout_seconds"`
}

type CarriersConfig struct {
	// "live" talks to the real carrier APIs, anything else uses the
	// deterministic fake clients.
	Mode           string `yaml:"mode"`
	SPXBaseURL     string `yaml:"spx_base_url"`
	GHNBaseURL     string `yaml:"ghn_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Process-local pacing between carrier calls.
	PaceMillis int `yaml:"pace_millis"`
	// Shared per-minute budgets, enforced through Redis across replicas.
	SPXPerMinute int `yaml:"spx_per_minute"`
	GHNPerMinute int `yaml:"ghn_per_minute"`
}

type NotifierConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ParcelSyncConfig struct {
	GRPCAddr       string `yaml:"grpc_addr"`
	WorkerHTTPAddr string `yaml:"worker_http_addr"`
	SwaggerPath    string `yaml:"swagger_path"`

	StartDelaySeconds     int `yaml:"start_delay_seconds"`
	IntervalSeconds       int `yaml:"interval_seconds"`
	IntervalJitterSeconds int `yaml:"interval_jitter_seconds"`
	BatchSize             int `yaml:"batch_size"`
	Concurrency           int `yaml:"concurrency"`
	BatchBudgetSeconds    int `yaml:"batch_budget_seconds"`
	PerSessionSeconds     int `yaml:"per_session_seconds"`

	CycleLockSeconds int  `yaml:"cycle_lock_seconds"`
	ReadCacheSeconds int  `yaml:"read_cache_seconds"`
	EventBuffer      int  `yaml:"event_buffer"`
	UseInMemoryStore bool `yaml:"use_in_memory_store"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
