package mailing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME(t *testing.T) {
	msg := Message{
		EmailID:   "e1",
		FromEmail: "noreply@example.com",
		FromName:  "Mail Team",
		To:        "user@example.com",
		Subject:   "Welcome",
		HTML:      "<p>Hello</p>",
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, err := buildMIME(msg, "id-1@smtp.example.com", now)
	require.NoError(t, err)
	s := string(raw)

	assert.Contains(t, s, "From: \"Mail Team\" <noreply@example.com>\r\n")
	assert.Contains(t, s, "To: user@example.com\r\n")
	assert.Contains(t, s, "Subject: Welcome\r\n")
	assert.Contains(t, s, "Message-ID: <id-1@smtp.example.com>\r\n")
	assert.Contains(t, s, "X-Email-ID: e1\r\n")
	assert.Contains(t, s, "Content-Type: text/html; charset=UTF-8\r\n")

	_, body, found := strings.Cut(s, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, body, "<p>Hello</p>")
}

func TestBuildMIME_EncodesNonASCIISubject(t *testing.T) {
	raw, err := buildMIME(Message{FromEmail: "a@example.com", To: "b@example.com", Subject: "Grüße"}, "x", time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n")
}

func TestSMTPSender_RequiresHost(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{}).Send(context.Background(), Message{})
	assert.Error(t, err)
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	s := NewSESSender(api, "tracking")

	res, err := s.Send(context.Background(), Message{
		EmailID:   "e1",
		FromEmail: "noreply@example.com",
		To:        "user@example.com",
		Subject:   "Hi",
		HTML:      "<p>x</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", res.MessageID)
	assert.Equal(t, "ses", res.Transport)

	require.NotNil(t, api.in)
	assert.Equal(t, []string{"user@example.com"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "<p>x</p>", aws.ToString(api.in.Content.Simple.Body.Html.Data))
	assert.Equal(t, "tracking", aws.ToString(api.in.ConfigurationSetName))
	require.Len(t, api.in.EmailTags, 1)
	assert.Equal(t, "e1", aws.ToString(api.in.EmailTags[0].Value))
}

func TestSESSender_Error(t *testing.T) {
	cause := errors.New("MessageRejected")
	_, err := NewSESSender(&fakeSES{err: cause}, "").Send(context.Background(), Message{To: "user@example.com"})
	assert.ErrorIs(t, err, cause)
}
