package tracking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType names a lifecycle transition. Values are lower case.
type EventType string

const (
	EventSent    EventType = "sent"
	EventOpened  EventType = "opened"
	EventClicked EventType = "clicked"
)

// Known reports whether t is one of the event types the consumer handles.
func (t EventType) Known() bool {
	switch t {
	case EventSent, EventOpened, EventClicked:
		return true
	}
	return false
}

// Metadata keys and values attached by the event constructors.
const (
	MetaStatus         = "status"
	MetaTrackingMethod = "tracking_method"
	MetaReadStatus     = "read_status"

	StatusDeliveredToSMTP = "delivered_to_smtp"
	MethodPixel           = "pixel"
	MethodImageClick      = "image_click"
	ReadStatusConfirmed   = "confirmed"
)

// TrackingEvent is one lifecycle occurrence for one email as carried on the
// broker.
type TrackingEvent struct {
	EventID   string            `json:"event_id" validate:"required"`
	EmailID   string            `json:"email_id" validate:"required"`
	EventType EventType         `json:"event_type" validate:"required"`
	ToEmail   string            `json:"to_email,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Timestamp time.Time         `json:"timestamp" validate:"required"`
	UserAgent string            `json:"user_agent,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DeserializationError reports a payload that could not be turned into a
// TrackingEvent.
type DeserializationError struct {
	Reason string
	Err    error
}

func (e *DeserializationError) Error() string {
	if e.Err == nil {
		return "deserialize tracking event: " + e.Reason
	}
	return fmt.Sprintf("deserialize tracking event: %s: %v", e.Reason, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Serialize encodes the event as JSON.
func (e TrackingEvent) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize decodes a JSON payload. Unknown fields are ignored and the
// event type is lower-cased; an unrecognized type is not an error here.
func Deserialize(data []byte) (TrackingEvent, error) {
	var evt TrackingEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return TrackingEvent{}, &DeserializationError{Reason: "malformed payload", Err: err}
	}
	evt.EventType = EventType(strings.ToLower(strings.TrimSpace(string(evt.EventType))))

	if err := validate.Struct(evt); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
			return TrackingEvent{}, &DeserializationError{Reason: "missing " + strings.Join(missing, ", "), Err: err}
		}
		return TrackingEvent{}, &DeserializationError{Reason: "invalid event", Err: err}
	}
	return evt, nil
}

// NewEvent builds an event of any type with a fresh id and the current
// time.
func NewEvent(emailID string, eventType EventType, metadata map[string]string) TrackingEvent {
	return TrackingEvent{
		EventID:   uuid.NewString(),
		EmailID:   emailID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// SentEvent records a handoff to the mail transport.
func SentEvent(emailID, toEmail, subject string) TrackingEvent {
	evt := NewEvent(emailID, EventSent, map[string]string{
		MetaStatus: StatusDeliveredToSMTP,
	})
	evt.ToEmail = toEmail
	evt.Subject = subject
	return evt
}

// OpenedEvent records a pixel fetch as a confirmed read.
func OpenedEvent(emailID, userAgent, ipAddress string) TrackingEvent {
	evt := NewEvent(emailID, EventOpened, map[string]string{
		MetaTrackingMethod: MethodPixel,
		MetaReadStatus:     ReadStatusConfirmed,
	})
	evt.UserAgent = userAgent
	evt.IPAddress = ipAddress
	return evt
}

// ClickedEvent copies metadata, defaulting the tracking method to
// image_click when the caller did not set one.
func ClickedEvent(emailID, userAgent, ipAddress string, metadata map[string]string) TrackingEvent {
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta[MetaTrackingMethod]; !ok {
		meta[MetaTrackingMethod] = MethodImageClick
	}

	evt := NewEvent(emailID, EventClicked, meta)
	evt.UserAgent = userAgent
	evt.IPAddress = ipAddress
	return evt
}
