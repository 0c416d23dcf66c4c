// ABOUTME: Mailer contract and the SMTP implementation backed by go-mail
// ABOUTME: Extra headers are given as "Name: value" lines

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer sends one plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string, headers []string) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the default sender, e.g. "Site <noreply@example.com>".
	From string
	// TLS is "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// ErrMailerDisabled is returned when no SMTP host is configured.
var ErrMailerDisabled = errors.New("smtp not configured")

// SMTPMailer delivers mail over SMTP, one connection per message.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, ErrMailerDisabled
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if _, err := tlsPolicy(cfg.TLS); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{cfg: cfg, logger: logger.With("component", "smtp")}, nil
}

func tlsPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, fmt.Errorf("unknown smtp tls policy %q", s)
	}
}

// Send builds and delivers the message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string, headers []string) error {
	msg, err := buildMessage(m.cfg.From, to, subject, body, headers)
	if err != nil {
		return err
	}

	policy, _ := tlsPolicy(m.cfg.TLS)
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	m.logger.Debug("mail delivered", "to", to, "duration", time.Since(start))
	return nil
}

func buildMessage(defaultFrom, to, subject, body string, headers []string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	from := defaultFrom
	var replyTo string
	extra := make(map[string]string)
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch strings.ToLower(name) {
		case "from":
			from = value
		case "reply-to":
			replyTo = value
		case "content-type":
			// Bodies are always text/plain; charset=UTF-8.
		default:
			extra[name] = value
		}
	}

	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if replyTo != "" {
		if err := msg.ReplyTo(replyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to %q: %w", replyTo, err)
		}
	}
	for k, v := range extra {
		msg.SetGenHeader(mail.Header(k), v)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
