package config

import "time"

// Orchestrator definition orchestrator_service YAML structure
type Orchestrator struct {
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	KafKa      KafkaConfig    `mapstructure:"kafka"`
	MinIO      MinIOConfig    `mapstructure:"minio"`

	Lock      LockConfig      `mapstructure:"lock"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

// LockConfig definition job creation lock setting
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ProcessorConfig definition job processor setting
type ProcessorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	EngineRetryCount int           `mapstructure:"engine_retry_count"`
	Profiles         []string      `mapstructure:"profiles"`
}

// NotifierConfig definition completion notifier setting
type NotifierConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SettleTime        time.Duration `mapstructure:"settle_time"`
	PublishRetryCount int           `mapstructure:"publish_retry_count"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP       string `mapstructure:"ip"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
