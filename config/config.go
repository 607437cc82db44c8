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
	ShipLedger ShipLedgerConfig `yaml:"shipledger"`
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
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentUpdatedTopicName string `yaml:"shipment_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipLedgerConfig struct {
	HTTPAddr         string `yaml:"http_addr"`
	NotifierHTTPAddr string `yaml:"notifier_http_addr"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// storage: "postgres" (по умолчанию) или "memory" для локального запуска.
	Storage string `yaml:"storage"`

	CurrentStatusTTLSeconds  int `yaml:"current_status_ttl_seconds"`
	PublicRateLimitPerMinute int `yaml:"public_rate_limit_per_minute"`

	JWTSecret         string `yaml:"jwt_secret"`
	JWTTTLMinutes     int    `yaml:"jwt_ttl_minutes"`
	AdminEmail        string `yaml:"admin_email"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
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
