package mailing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// EmailCreator stores a newly sent email.
type EmailCreator interface {
	Create(rec domain.EmailRecord) error
}

// SentPublisher announces a sent email on the broker.
type SentPublisher interface {
	PublishSent(ctx context.Context, emailID, toEmail, subject string) (broker.Receipt, error)
}

// SendRequest is the input of Service.Send.
type SendRequest struct {
	ToEmail  string `json:"to_email" validate:"required,email"`
	Subject  string `json:"subject" validate:"required,max=998"`
	Body     string `json:"body" validate:"required"`
	ImageURL string `json:"image_url,omitempty" validate:"omitempty,url"`
}

// Sent describes an email that was transmitted, stored and announced.
type Sent struct {
	EmailID     string
	TrackingURL string
	Transport   SendResult
}

// Stage errors tell the caller how far Send got before failing.
var (
	ErrRender  = errors.New("render failed")
	ErrDeliver = errors.New("delivery failed")
	ErrStore   = errors.New("store failed")
)

// Service sends a tracked email: render, transmit, store the record, then
// publish the sent event.
type Service struct {
	renderer  *Renderer
	sender    Sender
	store     EmailCreator
	publisher SentPublisher
	fromEmail string
	fromName  string
}

func NewService(renderer *Renderer, sender Sender, store EmailCreator, publisher SentPublisher, fromEmail, fromName string) *Service {
	return &Service{
		renderer:  renderer,
		sender:    sender,
		store:     store,
		publisher: publisher,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send returns an error wrapping one of the stage errors, or the
// publisher's error when only the final announcement failed. In that case
// the email has been delivered and stored.
func (s *Service) Send(ctx context.Context, req SendRequest) (Sent, error) {
	emailID := uuid.NewString()

	html, err := s.renderer.Render(emailID, req.Body, req.ImageURL)
	if err != nil {
		return Sent{}, fmt.Errorf("%w: %v", ErrRender, err)
	}

	result, err := s.sender.Send(ctx, Message{
		EmailID:   emailID,
		FromEmail: s.fromEmail,
		FromName:  s.fromName,
		To:        req.ToEmail,
		Subject:   req.Subject,
		HTML:      html,
	})
	if err != nil {
		logger.Error("email delivery failed", "to_email", req.ToEmail, "email_id", emailID, "error", err)
		return Sent{}, fmt.Errorf("%w: %w", ErrDeliver, err)
	}

	err = s.store.Create(domain.EmailRecord{
		EmailID:  emailID,
		ToEmail:  req.ToEmail,
		Subject:  req.Subject,
		Body:     req.Body,
		ImageURL: req.ImageURL,
		Status:   domain.StatusSent,
	})
	if err != nil {
		return Sent{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if _, err := s.publisher.PublishSent(ctx, emailID, req.ToEmail, req.Subject); err != nil {
		return Sent{EmailID: emailID, Transport: result}, err
	}

	logger.Info("email sent and tracked", "to_email", req.ToEmail, "email_id", emailID, "transport", result.Transport)
	return Sent{
		EmailID:     emailID,
		TrackingURL: "/api/mail/track/" + emailID,
		Transport:   result,
	}, nil
}
