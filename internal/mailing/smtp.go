package mailing

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// SMTPConfig describes a submission server.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	RequireTLS bool
	Timeout    time.Duration
}

// SMTPSender delivers over plain SMTP with opportunistic STARTTLS.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	if s.cfg.Host == "" {
		return SendResult{}, fmt.Errorf("smtp host not configured")
	}

	messageID := uuid.NewString() + "@" + s.cfg.Host
	raw, err := buildMIME(msg, messageID, time.Now())
	if err != nil {
		return SendResult{}, err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.transmit(ctx, addr, msg.FromEmail, msg.To, raw); err != nil {
		return SendResult{}, fmt.Errorf("smtp send: %w", err)
	}

	logger.Info("email handed to smtp", "to_email", msg.To, "email_id", msg.EmailID, "message_id", messageID)
	return SendResult{MessageID: messageID, Transport: "smtp", SentAt: time.Now().UTC()}, nil
}

func (s *SMTPSender) transmit(ctx context.Context, addr, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			if s.cfg.RequireTLS {
				return fmt.Errorf("STARTTLS: %w", err)
			}
			logger.Warn("STARTTLS failed, continuing without TLS", "host", s.cfg.Host, "error", err)
		}
	} else if s.cfg.RequireTLS {
		return fmt.Errorf("STARTTLS not offered by %s", s.cfg.Host)
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

// buildMIME assembles a single-part quoted-printable HTML message.
func buildMIME(msg Message, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.fromHeader())
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	if msg.EmailID != "" {
		fmt.Fprintf(&buf, "X-Email-ID: %s\r\n", msg.EmailID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTML)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
