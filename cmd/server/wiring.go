package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrack/internal/api"
	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/broker/kafka"
	"github.com/ignite/mailtrack/internal/broker/redisstream"
	"github.com/ignite/mailtrack/internal/broker/sqsfifo"
	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/mailing"
)

// newTransport opens the producing and consuming side of the configured
// broker. The sink is closed again if the source cannot be opened.
func newTransport(ctx context.Context, cfg *config.Config) (broker.Sink, broker.Source, error) {
	bc := cfg.Broker
	switch bc.Type {
	case config.BrokerKafka:
		kc := kafka.Config{
			Brokers:            bc.Kafka.Brokers,
			ClientID:           bc.Kafka.ClientID,
			Topic:              bc.Topic,
			Group:              bc.ConsumerGroup,
			DeliveryTimeout:    bc.DeliveryTimeout(),
			AutoCommitInterval: time.Duration(bc.Kafka.AutoCommitIntervalMs) * time.Millisecond,
			SessionTimeout:     time.Duration(bc.Kafka.SessionTimeoutMs) * time.Millisecond,
		}
		producer, err := kafka.NewProducer(kc)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		consumer, err := kafka.NewConsumer(kc)
		if err != nil {
			producer.Close()
			return nil, nil, fmt.Errorf("kafka consumer: %w", err)
		}
		return producer, consumer, nil

	case config.BrokerSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bc.SQS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		return sqsfifo.NewProducer(client, bc.SQS.QueueURL, bc.Topic),
			sqsfifo.NewConsumer(client, bc.SQS.QueueURL, bc.Topic, bc.SQS.WaitTimeSeconds),
			nil

	case config.BrokerRedisStream:
		opts, err := redis.ParseURL(bc.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		// Blocking reads get their own connection pool.
		readOpts := *opts
		producer := redisstream.NewProducer(redis.NewClient(opts), bc.Topic,
			time.Duration(bc.Redis.DedupTTLSeconds)*time.Second)
		consumer, err := redisstream.NewConsumer(ctx, redis.NewClient(&readOpts), redisstream.ConsumerConfig{
			Stream:   bc.Topic,
			Group:    bc.ConsumerGroup,
			Consumer: bc.Redis.ConsumerName,
			Block:    time.Duration(bc.Redis.BlockMillis) * time.Millisecond,
		})
		if err != nil {
			producer.Close()
			return nil, nil, fmt.Errorf("redis stream consumer: %w", err)
		}
		return producer, consumer, nil
	}
	return nil, nil, fmt.Errorf("unknown broker type %q", bc.Type)
}

func newSender(ctx context.Context, mc config.MailConfig) (mailing.Sender, error) {
	switch mc.Transport {
	case config.MailSES:
		client, err := mailing.NewSESClient(ctx, mc.SES.Region, mc.SES.AccessKey, mc.SES.SecretKey)
		if err != nil {
			return nil, err
		}
		return mailing.NewSESSender(client, mc.SES.ConfigurationSet), nil
	case config.MailSMTP:
		return mailing.NewSMTPSender(mailing.SMTPConfig{
			Host:       mc.SMTP.Host,
			Port:       mc.SMTP.Port,
			Username:   mc.SMTP.Username,
			Password:   mc.SMTP.Password,
			RequireTLS: mc.SMTP.RequireTLS,
			Timeout:    mc.SMTP.Timeout(),
		}), nil
	}
	return nil, fmt.Errorf("unknown mail transport %q", mc.Transport)
}

func newRenderer(cfg *config.Config) (*mailing.Renderer, error) {
	var layout string
	if path := cfg.Mail.LayoutPath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read email layout: %w", err)
		}
		layout = string(data)
	}
	return mailing.NewRenderer(cfg.Server.BaseURL, layout)
}

// newRateLimiter returns nil when rate limiting is disabled.
func newRateLimiter(rc config.RateLimitConfig) (*api.RateLimiter, error) {
	if !rc.Enabled {
		return nil, nil
	}
	opts, err := redis.ParseURL(rc.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit redis url: %w", err)
	}
	return api.NewRateLimiter(redis.NewClient(opts), rc.RequestsPerMinute, time.Minute), nil
}
