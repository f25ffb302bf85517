package mailing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailtrack/internal/broker"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/repository/memory"
)

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) (SendResult, error) {
	if f.err != nil {
		return SendResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return SendResult{MessageID: "m1", Transport: "fake"}, nil
}

type fakeSentPublisher struct {
	calls []string
	err   error
}

func (f *fakeSentPublisher) PublishSent(_ context.Context, emailID, _, _ string) (broker.Receipt, error) {
	f.calls = append(f.calls, emailID)
	return broker.Receipt{}, f.err
}

func newTestService(t *testing.T, sender Sender, pub SentPublisher) (*Service, *memory.EmailRepository) {
	t.Helper()
	r, err := NewRenderer("https://mail.example.com", "")
	require.NoError(t, err)
	repo := memory.NewEmailRepository()
	return NewService(r, sender, repo, pub, "noreply@example.com", "Mail Team"), repo
}

var testRequest = SendRequest{
	ToEmail: "user@example.com",
	Subject: "Welcome",
	Body:    "Hello **there**",
}

func TestService_Send(t *testing.T) {
	sender := &fakeSender{}
	pub := &fakeSentPublisher{}
	svc, repo := newTestService(t, sender, pub)

	sent, err := svc.Send(context.Background(), testRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, sent.EmailID)
	assert.Equal(t, "/api/mail/track/"+sent.EmailID, sent.TrackingURL)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "user@example.com", msg.To)
	assert.Equal(t, "noreply@example.com", msg.FromEmail)
	assert.Contains(t, msg.HTML, "<strong>there</strong>")
	assert.Contains(t, msg.HTML, "/api/mail/track/"+sent.EmailID)

	rec, err := repo.Get(sent.EmailID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, "Hello **there**", rec.Body)

	assert.Equal(t, []string{sent.EmailID}, pub.calls)
}

func TestService_DeliveryFailure(t *testing.T) {
	pub := &fakeSentPublisher{}
	svc, repo := newTestService(t, &fakeSender{err: errors.New("421 try later")}, pub)

	_, err := svc.Send(context.Background(), testRequest)
	assert.ErrorIs(t, err, ErrDeliver)
	assert.Empty(t, repo.ListAll(), "nothing stored when delivery fails")
	assert.Empty(t, pub.calls)
}

func TestService_PublishFailureKeepsRecord(t *testing.T) {
	cause := errors.New("broker unreachable")
	svc, repo := newTestService(t, &fakeSender{}, &fakeSentPublisher{err: cause})

	sent, err := svc.Send(context.Background(), testRequest)
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, sent.EmailID)

	_, getErr := repo.Get(sent.EmailID)
	assert.NoError(t, getErr)
}
