package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	GuiaTrack GuiaTrackConfig `yaml:"guiatrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	GuiaUpdatedTopicName string `yaml:"guia_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GuiaTrackConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	WorkerHTTPAddr          string `yaml:"worker_http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	// Shared secret for the cron trigger endpoint. Empty means permissive.
	CronSecret string `yaml:"cron_secret"`

	// IANA zone for stored timestamps. Default: America/Guayaquil.
	Timezone string `yaml:"timezone"`

	TrackingBaseURL string `yaml:"tracking_base_url"`
	ScraperMode     string `yaml:"scraper_mode"` // "laar" | "fake"

	ScrapeDelayMillis        int `yaml:"scrape_delay_ms"`
	ScrapeRateLimitPerMinute int `yaml:"scrape_rate_limit_per_minute"`
	MaxGuiasPerBatch         int `yaml:"max_guias_per_batch"`
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`

	RecentDeliveredWindowHours int `yaml:"recent_delivered_window_hours"`
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

// Validate checks the enumerated required keys once at startup, so no code
// has to reach for configuration ad hoc mid-call.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.Host == "" {
		missing = append(missing, "database.host")
	}
	if c.Database.Username == "" {
		missing = append(missing, "database.username")
	}
	if c.Database.DBName == "" {
		missing = append(missing, "database.name")
	}
	if c.Redis.Host == "" {
		missing = append(missing, "redis.host")
	}
	if c.Kafka.Host == "" {
		missing = append(missing, "kafka.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
