package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  base_url: "https://mail.example.com"

broker:
  type: sqs
  topic: "tracking"
  delivery_timeout_seconds: 10
  retry_backoff_millis: 250
  sqs:
    queue_url: "https://sqs.us-east-1.amazonaws.com/123/tracking.fifo"
    wait_time_seconds: 5

mail:
  transport: ses
  from_email: "noreply@example.com"
  ses:
    region: "eu-west-1"

rate_limit:
  enabled: true
  redis_url: "redis://cache:6379/1"
  requests_per_minute: 30

log:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://mail.example.com", cfg.Server.BaseURL)

	assert.Equal(t, BrokerSQS, cfg.Broker.Type)
	assert.Equal(t, "tracking", cfg.Broker.Topic)
	assert.Equal(t, 10*time.Second, cfg.Broker.DeliveryTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.RetryBackoff())
	assert.Equal(t, 5, cfg.Broker.SQS.WaitTimeSeconds)

	assert.Equal(t, MailSES, cfg.Mail.Transport)
	assert.Equal(t, "eu-west-1", cfg.Mail.SES.Region)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Redact())

	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mail:\n  from_email: a@example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, BrokerKafka, cfg.Broker.Type)
	assert.Equal(t, "email-tracking-events", cfg.Broker.Topic)
	assert.Equal(t, "email-tracking-consumer-group", cfg.Broker.ConsumerGroup)
	assert.Equal(t, 30*time.Second, cfg.Broker.DeliveryTimeout())
	assert.Equal(t, time.Second, cfg.Broker.RetryBackoff())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, 5000, cfg.Broker.Kafka.AutoCommitIntervalMs)
	assert.Equal(t, 10000, cfg.Broker.Kafka.SessionTimeoutMs)
	assert.Equal(t, MailSMTP, cfg.Mail.Transport)
	assert.Equal(t, 587, cfg.Mail.SMTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Redact())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
broker:
  topic: "file-topic"
mail:
  smtp:
    host: "file-smtp"
`)
	t.Setenv("TRACKING_TOPIC", "env-topic")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SMTP_HOST", "env-smtp")
	t.Setenv("PORT", "9999")
	t.Setenv("REDIS_URL", "redis://env:6379/0")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "env-topic", cfg.Broker.Topic)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "env-smtp", cfg.Mail.SMTP.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "redis://env:6379/0", cfg.Broker.Redis.URL)
	assert.Equal(t, "redis://env:6379/0", cfg.RateLimit.RedisURL)
}

func TestLoadFromEnv_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BROKER_TYPE", "redis")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BrokerRedisStream, cfg.Broker.Type)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := LoadFromEnv(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	cfg.Broker.Type = "nats"
	cfg.Mail.Transport = "pigeon"
	cfg.RateLimit.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"server.port", "broker.type", "mail.transport", "mail.from_email", "rate_limit.redis_url"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestValidate_SQSRequiresFIFO(t *testing.T) {
	cfg := Default()
	cfg.Broker.Type = BrokerSQS
	cfg.Broker.SQS.QueueURL = "https://sqs.us-east-1.amazonaws.com/123/tracking"
	cfg.Mail.FromEmail = "a@example.com"
	cfg.Mail.SMTP.Host = "smtp.example.com"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIFO")

	cfg.Broker.SQS.QueueURL += ".fifo"
	assert.NoError(t, cfg.Validate())
}
