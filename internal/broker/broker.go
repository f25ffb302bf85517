// Package broker defines the transport contract the tracking pipeline runs
// on. Implementations live in the kafka, sqsfifo and redisstream
// subpackages; all of them route by Message.Key so that messages sharing a
// key are delivered in publish order.
package broker

import (
	"context"
	"errors"
	"time"
)

// Header names carried on every tracking message.
const (
	HeaderEventType = "event-type"
	HeaderTimestamp = "timestamp"
	HeaderEventID   = "event-id"
)

// Message is one broker record. Key selects the partition (or message
// group); Handle is an opaque transport token used to acknowledge it.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int32
	Offset    int64
	Handle    string
	Timestamp time.Time
}

// Receipt is the broker's acknowledgment of a produced message.
type Receipt struct {
	Topic     string
	Partition int32
	Offset    int64
	ID        string
	Timestamp time.Time
}

// Sink publishes messages. Produce blocks until the broker acknowledges
// the write or ctx is done.
type Sink interface {
	Produce(ctx context.Context, msg Message) (Receipt, error)
	Close() error
}

// Source consumes messages for one consumer group.
//
// Poll blocks until a message is available or ctx is done. Ack records that
// msg was processed; Close commits whatever progress is pending and ends
// the session.
type Source interface {
	Poll(ctx context.Context) (Message, error)
	Ack(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// ErrFatal marks transport errors that cannot be recovered by retrying.
var ErrFatal = errors.New("fatal broker error")

type fatalError struct{ err error }

func (e *fatalError) Error() string { return "fatal broker error: " + e.err.Error() }
func (e *fatalError) Unwrap() []error { return []error{ErrFatal, e.err} }

// Fatal wraps err so IsFatal reports true for it. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was classified as unrecoverable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
