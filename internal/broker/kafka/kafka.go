// Package kafka implements the broker contract on Apache Kafka using
// franz-go. The producer waits for all in-sync replicas and writes
// idempotently; the consumer joins a group and auto-commits only the
// records the caller has acknowledged.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

var (
	_ broker.Sink   = (*Producer)(nil)
	_ broker.Source = (*Consumer)(nil)
)

// Config holds the connection and delivery settings for one topic.
type Config struct {
	Brokers            []string
	ClientID           string
	Topic              string
	Group              string
	DeliveryTimeout    time.Duration
	AutoCommitInterval time.Duration
	SessionTimeout     time.Duration
}

func (c Config) producerOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.DefaultProduceTopic(c.Topic),
		// Idempotent writes are on by default in franz-go and require acks=all.
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.DeliveryTimeout > 0 {
		opts = append(opts,
			kgo.RecordDeliveryTimeout(c.DeliveryTimeout),
			kgo.ProduceRequestTimeout(c.DeliveryTimeout),
		)
	}
	return opts
}

func (c Config) consumerOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ConsumerGroup(c.Group),
		kgo.ConsumeTopics(c.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.AutoCommitMarks(),
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.AutoCommitInterval > 0 {
		opts = append(opts, kgo.AutoCommitInterval(c.AutoCommitInterval))
	}
	if c.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(c.SessionTimeout))
	}
	return opts
}

// Producer publishes to the configured topic, partitioning by key.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects a producing client.
func NewProducer(cfg Config) (*Producer, error) {
	client, err := kgo.NewClient(cfg.producerOpts()...)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{client: client, topic: cfg.Topic}, nil
}

// Produce writes msg and waits for the broker acknowledgment.
func (p *Producer) Produce(ctx context.Context, msg broker.Message) (broker.Receipt, error) {
	rec := toRecord(msg)
	if rec.Topic == "" {
		rec.Topic = p.topic
	}

	produced, err := p.client.ProduceSync(ctx, rec).First()
	if err != nil {
		return broker.Receipt{}, classify(err)
	}
	return broker.Receipt{
		Topic:     produced.Topic,
		Partition: produced.Partition,
		Offset:    produced.Offset,
		Timestamp: produced.Timestamp,
	}, nil
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

// Consumer reads the topic as a member of the configured group.
type Consumer struct {
	client  *kgo.Client
	pending []*kgo.Record
	last    *kgo.Record
}

// NewConsumer joins the consumer group and subscribes to the topic.
func NewConsumer(cfg Config) (*Consumer, error) {
	client, err := kgo.NewClient(cfg.consumerOpts()...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	logger.Info("kafka consumer subscribed", "topic", cfg.Topic, "group", cfg.Group)
	return &Consumer{client: client}, nil
}

// Poll returns the next record, fetching a new batch when the previous one
// is exhausted. Records are handed out in partition order.
func (c *Consumer) Poll(ctx context.Context) (broker.Message, error) {
	for len(c.pending) == 0 {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return broker.Message{}, broker.Fatal(kgo.ErrClientClosed)
		}
		if err := ctx.Err(); err != nil {
			return broker.Message{}, err
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if fetchErr == nil {
				fetchErr = fmt.Errorf("fetch %s[%d]: %w", topic, partition, err)
			}
		})
		c.pending = fetches.Records()
		if len(c.pending) == 0 && fetchErr != nil {
			return broker.Message{}, classify(fetchErr)
		}
		if fetchErr != nil {
			logger.Warn("kafka fetch returned partial errors", "error", fetchErr)
		}
	}

	rec := c.pending[0]
	c.pending = c.pending[1:]
	c.last = rec
	return toMessage(rec), nil
}

// Ack marks the record so the next auto-commit includes it.
func (c *Consumer) Ack(_ context.Context, msg broker.Message) error {
	rec := c.last
	if rec == nil || rec.Topic != msg.Topic || rec.Partition != msg.Partition || rec.Offset != msg.Offset {
		rec = &kgo.Record{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, LeaderEpoch: -1}
	}
	c.client.MarkCommitRecords(rec)
	return nil
}

// Close commits marked offsets and leaves the group.
func (c *Consumer) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("commit offsets: %w", err))
	}
	c.client.Close()
	return result.ErrorOrNil()
}

// fatalCodes are broker responses no amount of retrying will fix.
var fatalCodes = []error{
	kerr.TopicAuthorizationFailed,
	kerr.GroupAuthorizationFailed,
	kerr.ClusterAuthorizationFailed,
	kerr.SaslAuthenticationFailed,
	kerr.IllegalSaslState,
	kerr.UnsupportedSaslMechanism,
	kerr.InvalidTopicException,
}

func classify(err error) error {
	if errors.Is(err, kgo.ErrClientClosed) {
		return broker.Fatal(err)
	}
	for _, code := range fatalCodes {
		if errors.Is(err, code) {
			return broker.Fatal(err)
		}
	}
	return err
}

func toRecord(msg broker.Message) *kgo.Record {
	rec := &kgo.Record{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return rec
}

func toMessage(rec *kgo.Record) broker.Message {
	msg := broker.Message{
		Topic:     rec.Topic,
		Key:       string(rec.Key),
		Value:     rec.Value,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
