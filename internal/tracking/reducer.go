package tracking

import (
	"strings"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// EmailStore is the repository surface the reducer needs.
type EmailStore interface {
	Get(emailID string) (domain.EmailRecord, error)
	MarkOpened(emailID string, openedAt time.Time) domain.MarkResult
}

// Outcome describes what applying one event did.
type Outcome int

const (
	OutcomeUnsupported Outcome = iota
	OutcomeSentRecorded
	OutcomeSentUnknown
	OutcomeOpened
	OutcomeAlreadyOpened
	OutcomeOpenedUnknown
	OutcomeClicked
	OutcomeClickedUnknown
)

var outcomeNames = map[Outcome]string{
	OutcomeUnsupported:    "unsupported",
	OutcomeSentRecorded:   "sent_recorded",
	OutcomeSentUnknown:    "sent_unknown",
	OutcomeOpened:         "opened",
	OutcomeAlreadyOpened:  "already_opened",
	OutcomeOpenedUnknown:  "opened_unknown",
	OutcomeClicked:        "clicked",
	OutcomeClickedUnknown: "clicked_unknown",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Apply folds one event into the store. Only an opened event for a record
// still in Sent changes state; everything else is a lookup and a log line.
// The returned record is the state after the event, or the zero value when
// the email is unknown.
func Apply(store EmailStore, evt TrackingEvent) (Outcome, domain.EmailRecord) {
	switch evt.EventType {
	case EventSent:
		return applySent(store, evt)
	case EventOpened:
		return applyOpened(store, evt)
	case EventClicked:
		return applyClicked(store, evt)
	default:
		logger.Warn("unsupported event type dropped",
			"event_type", evt.EventType,
			"email_id", evt.EmailID,
			"event_id", evt.EventID,
		)
		return OutcomeUnsupported, domain.EmailRecord{}
	}
}

func applySent(store EmailStore, evt TrackingEvent) (Outcome, domain.EmailRecord) {
	rec, err := store.Get(evt.EmailID)
	if err != nil {
		logger.Warn("sent event for unknown email", "email_id", evt.EmailID, "to_email", evt.ToEmail)
		return OutcomeSentUnknown, domain.EmailRecord{}
	}
	logger.Info("email sent",
		"email_id", rec.EmailID,
		"to_email", rec.ToEmail,
		"subject", rec.Subject,
		"status", rec.Status,
	)
	return OutcomeSentRecorded, rec
}

func applyOpened(store EmailStore, evt TrackingEvent) (Outcome, domain.EmailRecord) {
	result := store.MarkOpened(evt.EmailID, evt.Timestamp)
	switch result {
	case domain.MarkNotFound:
		logger.Warn("opened event for unknown email", "email_id", evt.EmailID, "ip", evt.IPAddress)
		return OutcomeOpenedUnknown, domain.EmailRecord{}
	case domain.MarkAlreadyApplied:
		rec, _ := store.Get(evt.EmailID)
		logger.Info("email already opened",
			"email_id", evt.EmailID,
			"opened_at", formatTime(rec.OpenedAt),
		)
		return OutcomeAlreadyOpened, rec
	default:
		rec, _ := store.Get(evt.EmailID)
		logger.Info("journey: Sent → Opened",
			"email_id", evt.EmailID,
			"opened_at", formatTime(rec.OpenedAt),
			"ip", evt.IPAddress,
			"device", detectDevice(evt.UserAgent),
		)
		return OutcomeOpened, rec
	}
}

func applyClicked(store EmailStore, evt TrackingEvent) (Outcome, domain.EmailRecord) {
	rec, err := store.Get(evt.EmailID)
	if err != nil {
		logger.Warn("click for unknown email", "email_id", evt.EmailID, "ip", evt.IPAddress)
		return OutcomeClickedUnknown, domain.EmailRecord{}
	}
	logger.Info("email clicked",
		"email_id", rec.EmailID,
		"status", rec.Status,
		"tracking_method", evt.Metadata[MetaTrackingMethod],
		"ip", evt.IPAddress,
		"device", detectDevice(evt.UserAgent),
	)
	return OutcomeClicked, rec
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
