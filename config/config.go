package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	PriceWatch PriceWatchConfig `yaml:"pricewatch"`
	Notifiers  NotifiersConfig  `yaml:"notifiers"`
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
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	PriceUpdatedTopicName string `yaml:"price_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PriceWatchConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	KafkaConsumerGroup    string `yaml:"kafka_consumer_group"`
	LatestPriceTTLSeconds int    `yaml:"latest_price_ttl_seconds"`

	WorkerHTTPAddr               string `yaml:"worker_http_addr"`
	WorkerSweepIntervalSeconds   int    `yaml:"worker_sweep_interval_seconds"`
	WorkerRecheckIntervalSeconds int    `yaml:"worker_recheck_interval_seconds"`
	WorkerConcurrency            int    `yaml:"worker_concurrency"`
	WorkerExtractTimeoutSeconds  int    `yaml:"worker_extract_timeout_seconds"`
	WorkerRateLimitPerMinute     int    `yaml:"worker_rate_limit_per_minute"`

	AlertCooldownSeconds int `yaml:"alert_cooldown_seconds"`

	// Включает экстрактор fakeshop.test (демо и локальная разработка).
	EnableFakeShop bool `yaml:"enable_fake_shop"`
}

type NotifiersConfig struct {
	SMTP     SMTPConfig     `yaml:"smtp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Twilio   TwilioConfig   `yaml:"twilio"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
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
