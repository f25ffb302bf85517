package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/mailing"
	"github.com/ignite/mailtrack/internal/pkg/httputil"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/tracking"
)

// MailSender sends one tracked email.
type MailSender interface {
	Send(ctx context.Context, req mailing.SendRequest) (mailing.Sent, error)
}

// EmailLog is the read and reset surface of the email repository.
type EmailLog interface {
	ListAll() []domain.EmailRecord
	ListByStatus(status domain.EmailStatus) []domain.EmailRecord
	Statistics() domain.Statistics
	ClearAll() int
}

// ConsumerStatus reports the background consumer's progress.
type ConsumerStatus interface {
	Stats() tracking.ConsumerStats
	Done() <-chan struct{}
}

type Handlers struct {
	mail     MailSender
	emails   EmailLog
	consumer ConsumerStatus
}

func NewHandlers(mail MailSender, emails EmailLog, consumer ConsumerStatus) *Handlers {
	return &Handlers{mail: mail, emails: emails, consumer: consumer}
}

type sendResponse struct {
	Success     bool   `json:"success"`
	EmailID     string `json:"email_id,omitempty"`
	Message     string `json:"message,omitempty"`
	TrackingURL string `json:"tracking_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SendEmail handles POST /api/mail/send.
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req mailing.SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	sent, err := h.mail.Send(r.Context(), req)
	if err != nil {
		logger.Error("send email failed", "to_email", req.ToEmail, "email_id", sent.EmailID, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, sendResponse{
			Success: false,
			EmailID: sent.EmailID,
			Error:   sendFailureMessage(err),
		})
		return
	}

	httputil.OK(w, sendResponse{
		Success:     true,
		EmailID:     sent.EmailID,
		Message:     "Email sent and tracked",
		TrackingURL: sent.TrackingURL,
	})
}

func sendFailureMessage(err error) string {
	var perr *tracking.PublishError
	switch {
	case errors.As(err, &perr):
		return "email sent but the tracking event could not be published"
	case errors.Is(err, mailing.ErrDeliver):
		return "email delivery failed"
	case errors.Is(err, mailing.ErrRender):
		return "email could not be rendered"
	default:
		return "internal server error"
	}
}

// GetLogs handles GET /api/mail/logs, optionally filtered by ?status=.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs := h.emails.ListAll()
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseEmailStatus(raw)
		if !ok {
			httputil.BadRequest(w, "status must be Sent or Read")
			return
		}
		logs = h.emails.ListByStatus(status)
	}
	if logs == nil {
		logs = []domain.EmailRecord{}
	}

	httputil.OK(w, map[string]any{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}

// GetStats handles GET /api/mail/stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"success": true,
		"stats":   h.emails.Statistics(),
	})
}

// ClearLogs handles DELETE /api/mail/logs.
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	removed := h.emails.ClearAll()
	httputil.OK(w, map[string]any{
		"success": true,
		"removed": removed,
	})
}

// HealthCheck reports liveness and, when wired, the consumer's state.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.consumer != nil {
		running := false
		if done := h.consumer.Done(); done != nil {
			select {
			case <-done:
			default:
				running = true
			}
		}
		resp["consumer"] = map[string]any{
			"running": running,
			"stats":   h.consumer.Stats(),
		}
		if !running {
			resp["status"] = "degraded"
			httputil.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	httputil.OK(w, resp)
}
