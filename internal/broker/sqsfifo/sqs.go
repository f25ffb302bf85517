// Package sqsfifo implements the broker contract on an Amazon SQS FIFO
// queue. The email id becomes the message group, which keeps events for
// one email in order, and the event id becomes the deduplication id.
package sqsfifo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var (
	_ broker.Sink   = (*Producer)(nil)
	_ broker.Source = (*Consumer)(nil)
)

type queue struct {
	client   API
	queueURL string
	topic    string
}

// Producer sends to one FIFO queue.
type Producer struct {
	queue
}

// NewProducer returns a producer bound to queueURL. topic is reported on
// receipts so callers see the same logical name on every transport.
func NewProducer(client API, queueURL, topic string) *Producer {
	return &Producer{queue{client: client, queueURL: queueURL, topic: topic}}
}

// Consumer receives from one FIFO queue.
type Consumer struct {
	queue
	wait    int32
	pending []types.Message
}

// NewConsumer returns a consumer that long-polls for up to waitSeconds.
func NewConsumer(client API, queueURL, topic string, waitSeconds int) *Consumer {
	if waitSeconds <= 0 || waitSeconds > 20 {
		waitSeconds = 20
	}
	return &Consumer{
		queue: queue{client: client, queueURL: queueURL, topic: topic},
		wait:  int32(waitSeconds),
	}
}

func (p *Producer) Produce(ctx context.Context, msg broker.Message) (broker.Receipt, error) {
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(msg.Value)),
		MessageGroupId:    aws.String(msg.Key),
		MessageAttributes: toAttributes(msg.Headers),
	}
	if id := msg.Headers[broker.HeaderEventID]; id != "" {
		in.MessageDeduplicationId = aws.String(id)
	}

	out, err := p.client.SendMessage(ctx, in)
	if err != nil {
		return broker.Receipt{}, classify(err)
	}
	return broker.Receipt{
		Topic:     p.topic,
		ID:        aws.ToString(out.MessageId),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Close is a no-op; the SQS client holds no per-queue resources.
func (p *Producer) Close() error { return nil }

// Poll long-polls until at least one message is available.
func (c *Consumer) Poll(ctx context.Context) (broker.Message, error) {
	for len(c.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return broker.Message{}, err
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   10,
			WaitTimeSeconds:       c.wait,
			MessageAttributeNames: []string{"All"},
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameMessageGroupId,
				types.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return broker.Message{}, ctx.Err()
			}
			return broker.Message{}, classify(err)
		}
		c.pending = out.Messages
	}

	m := c.pending[0]
	c.pending = c.pending[1:]
	return c.toMessage(m), nil
}

// Ack deletes the message so it is not redelivered after the visibility
// timeout.
func (c *Consumer) Ack(ctx context.Context, msg broker.Message) error {
	if msg.Handle == "" {
		return errors.New("sqs ack: missing receipt handle")
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs ack: %w", classify(err))
	}
	return nil
}

// Close drops buffered messages. Unacknowledged messages return to the
// queue once their visibility timeout lapses.
func (c *Consumer) Close(context.Context) error {
	if n := len(c.pending); n > 0 {
		logger.Info("sqs consumer closing with buffered messages", "count", n)
	}
	c.pending = nil
	return nil
}

func (c *Consumer) toMessage(m types.Message) broker.Message {
	msg := broker.Message{
		Topic:  c.topic,
		Key:    m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
		Value:  []byte(aws.ToString(m.Body)),
		Handle: aws.ToString(m.ReceiptHandle),
	}
	if len(m.MessageAttributes) > 0 {
		msg.Headers = make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			msg.Headers[k] = aws.ToString(v.StringValue)
		}
	}
	if ms, err := strconv.ParseInt(m.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		msg.Timestamp = time.UnixMilli(ms).UTC()
	}
	return msg
}

func toAttributes(headers map[string]string) map[string]types.MessageAttributeValue {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]types.MessageAttributeValue, len(headers))
	for k, v := range headers {
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return attrs
}

var fatalCodes = map[string]bool{
	"AccessDenied":                            true,
	"AccessDeniedException":                   true,
	"InvalidClientTokenId":                    true,
	"UnrecognizedClientException":             true,
	"AWS.SimpleQueueService.NonExistentQueue": true,
}

func classify(err error) error {
	var missing *types.QueueDoesNotExist
	if errors.As(err, &missing) {
		return broker.Fatal(err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && fatalCodes[apiErr.ErrorCode()] {
		return broker.Fatal(err)
	}
	return err
}
