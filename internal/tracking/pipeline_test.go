package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrack/internal/broker/redisstream"
	"github.com/ignite/mailtrack/internal/domain"
)

// TestPipeline_RedisStream runs publisher and consumer against a stream so
// ordering and acknowledgment go through a real transport.
func TestPipeline_RedisStream(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	const stream = "email-tracking-events"
	ctx := context.Background()

	pubClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	producer := redisstream.NewProducer(pubClient, stream, time.Hour)
	defer producer.Close()

	source, err := redisstream.NewConsumer(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), redisstream.ConsumerConfig{
		Stream:   stream,
		Group:    "email-tracking-consumer-group",
		Consumer: "pipeline-test",
		Block:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	repo := newStoreWith(t, "E1")
	consumer := NewConsumer(source, repo, WithRetryBackoff(10*time.Millisecond))
	require.NoError(t, consumer.Start(ctx))

	pub := NewPublisher(producer, stream, time.Second)
	_, err = pub.PublishSent(ctx, "E1", "user@example.com", "Hello")
	require.NoError(t, err)
	_, err = pub.PublishOpened(ctx, "E1", "x", "1.2.3.4")
	require.NoError(t, err)
	_, err = pub.PublishOpened(ctx, "E1", "x", "1.2.3.4")
	require.NoError(t, err)
	_, err = pub.PublishClicked(ctx, "E1", "x", "1.2.3.4", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return consumer.Stats().Applied == 4
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, consumer.Stop())

	rec, err := repo.Get("E1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rec.Status)
	assert.NotNil(t, rec.OpenedAt)

	pending, err := pubClient.XPending(ctx, stream, "email-tracking-consumer-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
