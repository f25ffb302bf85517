package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

const (
	DefaultRetryBackoff = time.Second
	defaultCloseTimeout = 10 * time.Second
)

// ErrConsumerRunning is returned by Start when the loop is already running.
var ErrConsumerRunning = errors.New("tracking consumer already running")

// ConsumerStats counts messages seen by the loop since it started.
type ConsumerStats struct {
	Applied     int64 `json:"applied"`
	Skipped     int64 `json:"skipped"`
	PollRetries int64 `json:"poll_retries"`
}

// Consumer drains a broker source into an EmailStore, one message at a
// time.
type Consumer struct {
	source       broker.Source
	store        EmailStore
	backoff      time.Duration
	closeTimeout time.Duration

	applied atomic.Int64
	skipped atomic.Int64
	retries atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type ConsumerOption func(*Consumer)

// WithRetryBackoff sets the pause after a transient poll error.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithCloseTimeout bounds how long closing the source may take.
func WithCloseTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

func NewConsumer(source broker.Source, store EmailStore, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		source:       source,
		store:        store,
		backoff:      DefaultRetryBackoff,
		closeTimeout: defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled or the source reports a fatal error.
// The source is closed before Run returns. Cancellation returns nil; a
// fatal error is returned as is, so broker.IsFatal holds for it.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("tracking consumer started")

	for {
		msg, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.shutdown(nil)
			}
			if broker.IsFatal(err) {
				logger.Error("tracking consumer stopping on fatal broker error", "error", err)
				return c.shutdown(err)
			}

			c.retries.Add(1)
			logger.Warn("poll failed, retrying", "error", err, "backoff", c.backoff)
			select {
			case <-ctx.Done():
				return c.shutdown(nil)
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(msg)

		// The in-flight message is acknowledged even when ctx was cancelled
		// while it was being applied.
		ackCtx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		err = c.source.Ack(ackCtx, msg)
		cancel()
		if err != nil {
			if broker.IsFatal(err) {
				logger.Error("tracking consumer stopping on fatal ack error", "error", err)
				return c.shutdown(err)
			}
			logger.Warn("ack failed", "key", msg.Key, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(msg broker.Message) Outcome {
	evt, err := Deserialize(msg.Value)
	if err != nil {
		c.skipped.Add(1)
		logger.Warn("skipping undecodable message",
			"key", msg.Key,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return OutcomeUnsupported
	}

	outcome, _ := Apply(c.store, evt)
	if outcome == OutcomeUnsupported {
		c.skipped.Add(1)
	} else {
		c.applied.Add(1)
	}
	logger.Debug("tracking event applied",
		"email_id", evt.EmailID,
		"event_type", evt.EventType,
		"outcome", outcome,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return outcome
}

func (c *Consumer) shutdown(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
	defer cancel()

	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}
	if err := c.source.Close(ctx); err != nil {
		logger.Warn("closing broker source", "error", err)
		result = multierror.Append(result, fmt.Errorf("close source: %w", err))
	}

	logger.Info("tracking consumer stopped",
		"applied", c.applied.Load(),
		"skipped", c.skipped.Load(),
	)
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

// Start runs the loop in a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrConsumerRunning
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		err := c.Run(ctx)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(done)
	}(c.done)
	return nil
}

// Stop cancels the loop and waits for it to close the source.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	<-done
	return c.Err()
}

// Done is closed when a started loop has exited. It is nil before Start.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err is the error the loop exited with.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Applied:     c.applied.Load(),
		Skipped:     c.skipped.Load(),
		PollRetries: c.retries.Load(),
	}
}
