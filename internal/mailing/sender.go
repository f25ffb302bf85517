package mailing

import (
	"context"
	"net/mail"
	"time"
)

// Message is one rendered email ready for transmission.
type Message struct {
	EmailID   string
	FromEmail string
	FromName  string
	To        string
	Subject   string
	HTML      string
}

// SendResult is what a transport reports for an accepted message.
type SendResult struct {
	MessageID string
	Transport string
	SentAt    time.Time
}

// Sender transmits a rendered message. Implementations return an error
// only when the message was not accepted.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// fromHeader formats the sender, RFC 2047-encoding a non-ASCII name.
func (m Message) fromHeader() string {
	return (&mail.Address{Name: m.FromName, Address: m.FromEmail}).String()
}
