package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const defaultSMTPTimeout = 20 * time.Second

// EmailMessage is a rendered HTML email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender delivers rendered emails.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// InsecureSkipVerify disables certificate checks on STARTTLS. Some shared relays need it.
	InsecureSkipVerify bool
}

// SMTPSender sends mail through an SMTP relay, upgrading with STARTTLS when offered.
type SMTPSender struct {
	addr     string
	host     string
	username string
	password string
	from     mail.Address
	tls      *tls.Config
	now      func() time.Time
}

// NewSMTPSender validates the relay configuration.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp: host is required")
	}
	from, err := mail.ParseAddress(strings.TrimSpace(cfg.From))
	if err != nil {
		return nil, fmt.Errorf("smtp: invalid from address: %w", err)
	}
	if name := strings.TrimSpace(cfg.FromName); name != "" {
		from.Name = name
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		host:     host,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     *from,
		tls:      &tls.Config{ServerName: host, InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
		now:      time.Now,
	}, nil
}

// SendEmail delivers msg. The context bounds the whole SMTP conversation.
func (s *SMTPSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	to, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return fmt.Errorf("smtp: invalid recipient: %w", err)
	}
	data, err := s.buildMessage(to, msg)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: defaultSMTPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", s.addr, err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = s.now().Add(defaultSMTPTimeout)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp: handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(s.tls); err != nil {
			return fmt.Errorf("smtp: starttls: %w", err)
		}
	}
	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
				return fmt.Errorf("smtp: auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.from.Address); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	if err := client.Rcpt(to.Address); err != nil {
		return fmt.Errorf("smtp: rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end data: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) buildMessage(to *mail.Address, msg EmailMessage) ([]byte, error) {
	var buf bytes.Buffer
	headers := []struct{ key, value string }{
		{"From", s.from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="UTF-8"`},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTML)); err != nil {
		return nil, fmt.Errorf("smtp: encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("smtp: encode body: %w", err)
	}
	return buf.Bytes(), nil
}
