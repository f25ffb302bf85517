package domain

import (
	"math"
	"strings"
	"time"
)

// EmailStatus enumerates the lifecycle states of a sent email.
// Clicks are audit events only and have no status of their own.
type EmailStatus string

const (
	StatusSent EmailStatus = "Sent"
	StatusRead EmailStatus = "Read"
)

// ParseEmailStatus resolves a status name case-insensitively.
func ParseEmailStatus(s string) (EmailStatus, bool) {
	switch {
	case strings.EqualFold(s, string(StatusSent)):
		return StatusSent, true
	case strings.EqualFold(s, string(StatusRead)):
		return StatusRead, true
	default:
		return "", false
	}
}

// EmailRecord is the lifecycle record of one tracked email.
//
// OpenedAt is nil exactly when Status is StatusSent. Once set it is never
// cleared or overwritten.
type EmailRecord struct {
	EmailID   string      `json:"email_id"`
	ToEmail   string      `json:"to_email"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	ImageURL  string      `json:"image_url,omitempty"`
	Status    EmailStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	OpenedAt  *time.Time  `json:"opened_at,omitempty"`
}

// IsRead reports whether the email has been opened.
func (r EmailRecord) IsRead() bool {
	return r.Status == StatusRead
}

// Consistent reports whether Status and OpenedAt agree.
func (r EmailRecord) Consistent() bool {
	return (r.OpenedAt != nil) == (r.Status == StatusRead)
}

// MarkResult tells the caller which branch an opened transition took.
type MarkResult int

const (
	MarkApplied MarkResult = iota
	MarkAlreadyApplied
	MarkNotFound
)

func (m MarkResult) String() string {
	switch m {
	case MarkApplied:
		return "applied"
	case MarkAlreadyApplied:
		return "already_applied"
	case MarkNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Statistics summarizes read/unread counts across all tracked emails.
type Statistics struct {
	Total          int     `json:"total"`
	Read           int     `json:"read"`
	Unread         int     `json:"unread"`
	ReadPercentage float64 `json:"read_percentage"`
}

// NewStatistics builds a summary from raw counts. ReadPercentage is rounded
// to two decimals and is 0 when there are no emails.
func NewStatistics(total, read int) Statistics {
	s := Statistics{Total: total, Read: read, Unread: total - read}
	if total > 0 {
		s.ReadPercentage = math.Round(float64(read)/float64(total)*100*100) / 100
	}
	return s
}
