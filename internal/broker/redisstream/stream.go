// Package redisstream implements the broker contract on a Redis stream
// read through a consumer group.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

var (
	_ broker.Sink   = (*Producer)(nil)
	_ broker.Source = (*Consumer)(nil)
)

const (
	fieldKey     = "key"
	fieldValue   = "value"
	headerPrefix = "h:"
)

// Appends an entry unless the dedup key already holds the id of an earlier
// append for the same event.
const appendLuaScript = `
local existing = redis.call("GET", KEYS[2])
if existing then
    return {0, existing}
end

local fields = {"key", ARGV[2], "value", ARGV[3]}
for i = 4, #ARGV do
    fields[#fields + 1] = ARGV[i]
end

local id = redis.call("XADD", KEYS[1], "*", unpack(fields))
redis.call("SET", KEYS[2], id, "PX", tonumber(ARGV[1]))
return {1, id}
`

// Producer appends events to one stream.
type Producer struct {
	client   *redis.Client
	stream   string
	dedupTTL time.Duration
	script   *redis.Script
}

// NewProducer returns a producer for stream. Appends carrying an event id
// are deduplicated for dedupTTL.
func NewProducer(client *redis.Client, stream string, dedupTTL time.Duration) *Producer {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &Producer{
		client:   client,
		stream:   stream,
		dedupTTL: dedupTTL,
		script:   redis.NewScript(appendLuaScript),
	}
}

func (p *Producer) Produce(ctx context.Context, msg broker.Message) (broker.Receipt, error) {
	eventID := msg.Headers[broker.HeaderEventID]
	headers := headerFields(msg.Headers)

	var id string
	if eventID == "" {
		values := append([]interface{}{fieldKey, msg.Key, fieldValue, string(msg.Value)}, headers...)
		added, err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Result()
		if err != nil {
			return broker.Receipt{}, classify(err)
		}
		id = added
	} else {
		args := append([]interface{}{p.dedupTTL.Milliseconds(), msg.Key, string(msg.Value)}, headers...)
		res, err := p.script.Run(ctx, p.client, []string{p.stream, p.dedupKey(eventID)}, args...).Slice()
		if err != nil {
			return broker.Receipt{}, classify(err)
		}
		if len(res) != 2 {
			return broker.Receipt{}, fmt.Errorf("redis append: unexpected reply %v", res)
		}
		id, _ = res[1].(string)
		if n, _ := res[0].(int64); n == 0 {
			logger.Debug("duplicate event suppressed", "event_id", eventID, "entry", id)
		}
	}

	return broker.Receipt{
		Topic:     p.stream,
		ID:        id,
		Timestamp: entryTime(id),
	}, nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}

// dedupKey hash-tags the stream name so the script's two keys share a
// cluster slot.
func (p *Producer) dedupKey(eventID string) string {
	return "{" + p.stream + "}:dedup:" + eventID
}

// ConsumerConfig names the group membership of a Consumer.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Consumer reads one stream as a group member. Entries delivered to this
// member but never acknowledged are redelivered first after a restart.
type Consumer struct {
	client      *redis.Client
	cfg         ConsumerConfig
	pendingDone bool
}

// NewConsumer creates the group (and the stream) if missing.
func NewConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create group %s on %s: %w", cfg.Group, cfg.Stream, classify(err))
	}

	logger.Info("redis stream consumer joined", "stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer)
	return &Consumer{client: client, cfg: cfg}, nil
}

// Poll returns the next entry, blocking in Block-sized rounds until one
// arrives or ctx ends.
func (c *Consumer) Poll(ctx context.Context) (broker.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return broker.Message{}, err
		}

		start := ">"
		if !c.pendingDone {
			start = "0"
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, start},
			Count:    1,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			c.pendingDone = true
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return broker.Message{}, ctx.Err()
			}
			return broker.Message{}, classify(err)
		}

		for _, s := range streams {
			if len(s.Messages) > 0 {
				return c.toMessage(s.Messages[0]), nil
			}
		}
		c.pendingDone = true
	}
}

func (c *Consumer) Ack(ctx context.Context, msg broker.Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.Handle).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", msg.Handle, classify(err))
	}
	return nil
}

func (c *Consumer) Close(context.Context) error {
	return c.client.Close()
}

func (c *Consumer) toMessage(entry redis.XMessage) broker.Message {
	msg := broker.Message{
		Topic:     c.cfg.Stream,
		Handle:    entry.ID,
		Timestamp: entryTime(entry.ID),
	}
	for k, v := range entry.Values {
		s, _ := v.(string)
		switch {
		case k == fieldKey:
			msg.Key = s
		case k == fieldValue:
			msg.Value = []byte(s)
		case strings.HasPrefix(k, headerPrefix):
			if msg.Headers == nil {
				msg.Headers = make(map[string]string)
			}
			msg.Headers[strings.TrimPrefix(k, headerPrefix)] = s
		}
	}
	return msg
}

// headerFields flattens headers into sorted field/value pairs.
func headerFields(headers map[string]string) []interface{} {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, headerPrefix+k, headers[k])
	}
	return out
}

// entryTime extracts the millisecond part of a stream entry id.
func entryTime(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

var fatalPrefixes = []string{"NOAUTH", "WRONGPASS", "NOPERM", "NOGROUP"}

func classify(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return broker.Fatal(err)
	}
	msg := err.Error()
	for _, prefix := range fatalPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return broker.Fatal(err)
		}
	}
	return err
}
