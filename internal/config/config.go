package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Broker transports.
const (
	BrokerKafka       = "kafka"
	BrokerSQS         = "sqs"
	BrokerRedisStream = "redis"
)

// Mail transports.
const (
	MailSMTP = "smtp"
	MailSES  = "ses"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the listen host, using all interfaces inside a container.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// BrokerConfig selects and configures the event transport.
type BrokerConfig struct {
	Type                   string      `yaml:"type"`
	Topic                  string      `yaml:"topic"`
	ConsumerGroup          string      `yaml:"consumer_group"`
	DeliveryTimeoutSeconds int         `yaml:"delivery_timeout_seconds"`
	RetryBackoffMillis     int         `yaml:"retry_backoff_millis"`
	Kafka                  KafkaConfig `yaml:"kafka"`
	SQS                    SQSConfig   `yaml:"sqs"`
	Redis                  RedisConfig `yaml:"redis"`
}

func (c BrokerConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

func (c BrokerConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

type KafkaConfig struct {
	Brokers              []string `yaml:"brokers"`
	ClientID             string   `yaml:"client_id"`
	AutoCommitIntervalMs int      `yaml:"auto_commit_interval_ms"`
	SessionTimeoutMs     int      `yaml:"session_timeout_ms"`
}

type SQSConfig struct {
	QueueURL        string `yaml:"queue_url"`
	Region          string `yaml:"region"`
	WaitTimeSeconds int    `yaml:"wait_time_seconds"`
}

type RedisConfig struct {
	URL             string `yaml:"url"`
	BlockMillis     int    `yaml:"block_millis"`
	DedupTTLSeconds int    `yaml:"dedup_ttl_seconds"`
	ConsumerName    string `yaml:"consumer_name"`
}

// MailConfig holds the outgoing mail settings.
type MailConfig struct {
	Transport        string     `yaml:"transport"`
	FromEmail        string     `yaml:"from_email"`
	FromName         string     `yaml:"from_name"`
	ClickRedirectURL string     `yaml:"click_redirect_url"`
	LayoutPath       string     `yaml:"layout_path"`
	SMTP             SMTPConfig `yaml:"smtp"`
	SES              SESConfig  `yaml:"ses"`
}

type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	RequireTLS     bool   `yaml:"require_tls"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SESConfig struct {
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// RateLimitConfig limits tracking requests per client IP.
type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RedisURL          string `yaml:"redis_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on; it defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}

	if c.Broker.Type == "" {
		c.Broker.Type = BrokerKafka
	}
	if c.Broker.Topic == "" {
		c.Broker.Topic = "email-tracking-events"
	}
	if c.Broker.ConsumerGroup == "" {
		c.Broker.ConsumerGroup = "email-tracking-consumer-group"
	}
	if c.Broker.DeliveryTimeoutSeconds == 0 {
		c.Broker.DeliveryTimeoutSeconds = 30
	}
	if c.Broker.RetryBackoffMillis == 0 {
		c.Broker.RetryBackoffMillis = 1000
	}
	if len(c.Broker.Kafka.Brokers) == 0 {
		c.Broker.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Broker.Kafka.ClientID == "" {
		c.Broker.Kafka.ClientID = "mailtrack"
	}
	if c.Broker.Kafka.AutoCommitIntervalMs == 0 {
		c.Broker.Kafka.AutoCommitIntervalMs = 5000
	}
	if c.Broker.Kafka.SessionTimeoutMs == 0 {
		c.Broker.Kafka.SessionTimeoutMs = 10000
	}
	if c.Broker.SQS.Region == "" {
		c.Broker.SQS.Region = "us-east-1"
	}
	if c.Broker.SQS.WaitTimeSeconds == 0 {
		c.Broker.SQS.WaitTimeSeconds = 20
	}
	if c.Broker.Redis.URL == "" {
		c.Broker.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Broker.Redis.BlockMillis == 0 {
		c.Broker.Redis.BlockMillis = 1000
	}
	if c.Broker.Redis.DedupTTLSeconds == 0 {
		c.Broker.Redis.DedupTTLSeconds = 86400
	}
	if c.Broker.Redis.ConsumerName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Broker.Redis.ConsumerName = host
		} else {
			c.Broker.Redis.ConsumerName = "mailtrack-1"
		}
	}

	if c.Mail.Transport == "" {
		c.Mail.Transport = MailSMTP
	}
	if c.Mail.FromName == "" {
		c.Mail.FromName = "Mail Tracker"
	}
	if c.Mail.SMTP.Port == 0 {
		c.Mail.SMTP.Port = 587
	}
	if c.Mail.SMTP.TimeoutSeconds == 0 {
		c.Mail.SMTP.TimeoutSeconds = 30
	}
	if c.Mail.SES.Region == "" {
		c.Mail.SES.Region = "us-east-1"
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is read first when present. A missing config file is not an
// error; defaults plus environment are used instead.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, perr := strconv.Atoi(v); perr == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}

	if v := os.Getenv("BROKER_TYPE"); v != "" {
		cfg.Broker.Type = v
	}
	if v := os.Getenv("TRACKING_TOPIC"); v != "" {
		cfg.Broker.Topic = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Broker.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.Broker.SQS.QueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Broker.SQS.Region = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Broker.Redis.URL = v
		if cfg.RateLimit.RedisURL == "" {
			cfg.RateLimit.RedisURL = v
		}
	}

	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		cfg.Mail.Transport = v
	}
	if v := os.Getenv("MAIL_FROM_EMAIL"); v != "" {
		cfg.Mail.FromEmail = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, perr := strconv.Atoi(v); perr == nil {
			cfg.Mail.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Mail.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.SES.Region = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Broker.Topic == "" {
		result = multierror.Append(result, errors.New("broker.topic is required"))
	}

	switch c.Broker.Type {
	case BrokerKafka:
		if len(c.Broker.Kafka.Brokers) == 0 {
			result = multierror.Append(result, errors.New("broker.kafka.brokers is required"))
		}
		if c.Broker.ConsumerGroup == "" {
			result = multierror.Append(result, errors.New("broker.consumer_group is required"))
		}
	case BrokerSQS:
		if c.Broker.SQS.QueueURL == "" {
			result = multierror.Append(result, errors.New("broker.sqs.queue_url is required"))
		} else if !strings.HasSuffix(c.Broker.SQS.QueueURL, ".fifo") {
			result = multierror.Append(result, errors.New("broker.sqs.queue_url must be a FIFO queue"))
		}
	case BrokerRedisStream:
		if c.Broker.Redis.URL == "" {
			result = multierror.Append(result, errors.New("broker.redis.url is required"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("broker.type %q is not one of kafka, sqs, redis", c.Broker.Type))
	}

	switch c.Mail.Transport {
	case MailSMTP:
		if c.Mail.SMTP.Host == "" {
			result = multierror.Append(result, errors.New("mail.smtp.host is required"))
		}
	case MailSES:
	default:
		result = multierror.Append(result, fmt.Errorf("mail.transport %q is not one of smtp, ses", c.Mail.Transport))
	}
	if c.Mail.FromEmail == "" {
		result = multierror.Append(result, errors.New("mail.from_email is required"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RedisURL == "" {
			result = multierror.Append(result, errors.New("rate_limit.redis_url is required when enabled"))
		}
		if c.RateLimit.RequestsPerMinute <= 0 {
			result = multierror.Append(result, errors.New("rate_limit.requests_per_minute must be positive"))
		}
	}

	return result.ErrorOrNil()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
