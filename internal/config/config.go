package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the entire application configuration
type Config struct {
	Env       string          `json:"env"`
	Port      int             `json:"port"`
	AppName   string          `json:"app_name"`
	Extractor ExtractorConfig `json:"extractor"`
	MongoDB   MongoDBConfig   `json:"mongodb"`
	Redis     RedisConfig     `json:"redis"`
	RabbitMQ  RabbitMQConfig  `json:"rabbitmq"`
	AWS       AWSConfig       `json:"aws"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Webhook   WebhookConfig   `json:"webhook"`
	Trigger   TriggerConfig   `json:"trigger"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
}

// ExtractorConfig contains the remote batch-extraction service settings
type ExtractorConfig struct {
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	MaxRetries        int    `json:"max_retries"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

// RetryDelay returns the fixed delay between rate-limited attempts.
func (c ExtractorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains the broker settings for the document retry queue
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	RoutingKey    string `json:"routing_key"`
	PrefetchCount int    `json:"prefetch_count"`
}

// AWSConfig contains the S3 credentials for durable document storage
type AWSConfig struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// PipelineConfig contains the ingestion and alerting thresholds
type PipelineConfig struct {
	TotalsTolerance     float64 `json:"totals_tolerance"`
	PriceAlertThreshold float64 `json:"price_alert_threshold"`
	MaxDocumentRetries  int     `json:"max_document_retries"`
	SessionWindowMin    int     `json:"session_window_min"`
	SessionLimit        int     `json:"session_limit"`
}

// SessionWindow returns the merge window for the session grouper.
func (c PipelineConfig) SessionWindow() time.Duration {
	return time.Duration(c.SessionWindowMin) * time.Minute
}

// WebhookConfig contains the push webhook verification settings
type WebhookConfig struct {
	Secret         string `json:"secret"`
	MaxSkewMinutes int    `json:"max_skew_minutes"`
}

// MaxSkew returns the accepted timestamp skew for signed webhook payloads.
func (c WebhookConfig) MaxSkew() time.Duration {
	return time.Duration(c.MaxSkewMinutes) * time.Minute
}

// TriggerConfig contains the bearer token protecting the reconciliation trigger
type TriggerConfig struct {
	Token string `json:"token"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path, overlays
// secrets from the environment and applies defaults
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.overlayEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// overlayEnv lets secrets come from the environment instead of the file.
func (c *Config) overlayEnv() {
	if v := os.Getenv("EXTRACTOR_API_KEY"); v != "" {
		c.Extractor.APIKey = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv("TRIGGER_TOKEN"); v != "" {
		c.Trigger.Token = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY"); v != "" {
		c.AWS.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_KEY"); v != "" {
		c.AWS.SecretKey = v
	}
	if v := os.Getenv("MONGODB_PASSWORD"); v != "" {
		c.MongoDB.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Extractor.MaxRetries == 0 {
		c.Extractor.MaxRetries = 3
	}
	if c.Extractor.RetryDelaySeconds == 0 {
		c.Extractor.RetryDelaySeconds = 5
	}
	if c.Extractor.TimeoutSeconds == 0 {
		c.Extractor.TimeoutSeconds = 30
	}
	if c.Pipeline.TotalsTolerance == 0 {
		c.Pipeline.TotalsTolerance = 0.01
	}
	if c.Pipeline.PriceAlertThreshold == 0 {
		c.Pipeline.PriceAlertThreshold = 0.10
	}
	if c.Pipeline.MaxDocumentRetries == 0 {
		c.Pipeline.MaxDocumentRetries = 3
	}
	if c.Pipeline.SessionWindowMin == 0 {
		c.Pipeline.SessionWindowMin = 5
	}
	if c.Pipeline.SessionLimit == 0 {
		c.Pipeline.SessionLimit = 10
	}
	if c.Webhook.MaxSkewMinutes == 0 {
		c.Webhook.MaxSkewMinutes = 5
	}
}

// Validate fails fast on missing credentials so a misconfigured deployment
// never degrades silently.
func (c *Config) Validate() error {
	if c.Extractor.APIKey == "" {
		return fmt.Errorf("config: extractor api_key is required")
	}
	if c.Extractor.BaseURL == "" {
		return fmt.Errorf("config: extractor base_url is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("config: webhook secret is required")
	}
	if c.Trigger.Token == "" {
		return fmt.Errorf("config: trigger token is required")
	}
	if c.MongoDB.URI == "" {
		return fmt.Errorf("config: mongodb uri is required")
	}
	return nil
}
