// Package memory implements the email repository as process-local state.
// Nothing here survives a restart.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/repository"
)

// EmailRepository keeps every tracked email keyed by id.
//
// All access goes through one RWMutex and records are stored and returned
// by value, so a reader never sees Status and OpenedAt out of step.
type EmailRepository struct {
	mu     sync.RWMutex
	emails map[string]domain.EmailRecord
	now    func() time.Time
}

// NewEmailRepository creates an empty repository.
func NewEmailRepository() *EmailRepository {
	return &EmailRepository{
		emails: make(map[string]domain.EmailRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new record. The id must be unused.
func (r *EmailRepository) Create(rec domain.EmailRecord) error {
	if strings.TrimSpace(rec.EmailID) == "" {
		return fmt.Errorf("create: empty email id: %w", repository.ErrInvalidRecord)
	}
	if rec.Status == "" {
		rec.Status = domain.StatusSent
	}
	status, ok := domain.ParseEmailStatus(string(rec.Status))
	if !ok {
		return fmt.Errorf("create %s: unknown status %q: %w", rec.EmailID, rec.Status, repository.ErrInvalidRecord)
	}
	rec.Status = status
	if !rec.Consistent() {
		return fmt.Errorf("create %s: status %s with opened_at=%v: %w",
			rec.EmailID, rec.Status, rec.OpenedAt != nil, repository.ErrInvalidRecord)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.OpenedAt = copyTime(rec.OpenedAt)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.emails[rec.EmailID]; exists {
		return fmt.Errorf("create %s: %w", rec.EmailID, repository.ErrDuplicateKey)
	}
	r.emails[rec.EmailID] = rec

	logger.Debug("email logged", "email_id", rec.EmailID, "to_email", rec.ToEmail)
	return nil
}

// Get returns a copy of the record for emailID.
func (r *EmailRepository) Get(emailID string) (domain.EmailRecord, error) {
	r.mu.RLock()
	rec, ok := r.emails[emailID]
	r.mu.RUnlock()

	if !ok {
		return domain.EmailRecord{}, fmt.Errorf("get %s: %w", emailID, repository.ErrNotFound)
	}
	rec.OpenedAt = copyTime(rec.OpenedAt)
	return rec, nil
}

// MarkOpened moves the email to Read. Only the first call sets OpenedAt;
// later calls report MarkAlreadyApplied and change nothing.
func (r *EmailRepository) MarkOpened(emailID string, openedAt time.Time) domain.MarkResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.emails[emailID]
	if !ok {
		return domain.MarkNotFound
	}
	if rec.Status == domain.StatusRead {
		return domain.MarkAlreadyApplied
	}

	at := openedAt.UTC()
	rec.Status = domain.StatusRead
	rec.OpenedAt = &at
	r.emails[emailID] = rec
	return domain.MarkApplied
}

// ListAll returns every record, newest first.
func (r *EmailRepository) ListAll() []domain.EmailRecord {
	return r.list(func(domain.EmailRecord) bool { return true })
}

// ListByStatus returns the records in the given status, newest first.
func (r *EmailRepository) ListByStatus(status domain.EmailStatus) []domain.EmailRecord {
	return r.list(func(rec domain.EmailRecord) bool { return rec.Status == status })
}

func (r *EmailRepository) list(keep func(domain.EmailRecord) bool) []domain.EmailRecord {
	r.mu.RLock()
	out := make([]domain.EmailRecord, 0, len(r.emails))
	for _, rec := range r.emails {
		if keep(rec) {
			rec.OpenedAt = copyTime(rec.OpenedAt)
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].EmailID < out[j].EmailID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Statistics summarizes the current read/unread split.
func (r *EmailRepository) Statistics() domain.Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	read := 0
	for _, rec := range r.emails {
		if rec.Status == domain.StatusRead {
			read++
		}
	}
	return domain.NewStatistics(len(r.emails), read)
}

// ClearAll drops every record and returns how many were removed.
// Only meant for resets and tests.
func (r *EmailRepository) ClearAll() int {
	r.mu.Lock()
	n := len(r.emails)
	r.emails = make(map[string]domain.EmailRecord)
	r.mu.Unlock()

	logger.Info("all email logs cleared", "removed", n)
	return n
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
