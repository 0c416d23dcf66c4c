// ABOUTME: Bypass, test and system alert emails composed for the site's client
// ABOUTME: Every attempt, including rejected ones, is written to the email log

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mrwp-agent/internal/options"
	"github.com/2389/mrwp-agent/internal/secrets"
)

// In-band failure reasons.
const (
	ReasonNoRecipient     = "Client email not configured"
	ReasonInvalidEmail    = "Invalid client email address"
	ReasonNoBypassLink    = "Bypass link not available"
	ReasonSendFailed      = "Failed to send email"
	ReasonNoTestRecipient = "No recipient email address"
	ReasonTestSendFailed  = "Failed to send test email"
)

// Failure is a delivery problem reported to the caller rather than raised.
type Failure struct {
	reason string
	err    error
}

func (f *Failure) Error() string {
	if f.err != nil {
		return f.reason + ": " + f.err.Error()
	}
	return f.reason
}

// Reason is the caller-facing message.
func (f *Failure) Reason() string { return f.reason }

func (f *Failure) Unwrap() error { return f.err }

// LinkSource yields the current bypass link.
type LinkSource interface {
	BypassLink(ctx context.Context) (string, error)
}

// Site identifies the site in outgoing mail.
type Site struct {
	Name string
	URL  string
	// FromAddress is the sender; defaults to "Mr.WordPress Tools <noreply@mrwordpress.com>".
	FromAddress string
	ReplyTo     string
}

const defaultFrom = "Mr.WordPress Tools <noreply@mrwordpress.com>"

// EmailLogEntry records one send attempt.
type EmailLogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BypassEmailState is the successful result of SendBypassEmail.
type BypassEmailState struct {
	EmailSent bool   `json:"email_sent"`
	Recipient string `json:"recipient"`
	SentAt    int64  `json:"sent_at"`
}

// Service composes and sends the agent's emails.
type Service struct {
	repo   *options.Repository
	links  LinkSource
	mailer Mailer
	site   Site
	log    *options.Journal[EmailLogEntry]
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service. mailer may be nil, in which case every send
// fails with a delivery failure.
func NewService(repo *options.Repository, links LinkSource, mailer Mailer, site Site, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if site.FromAddress == "" {
		site.FromAddress = defaultFrom
	}
	return &Service{
		repo:   repo,
		links:  links,
		mailer: mailer,
		site:   site,
		log:    options.NewJournal[EmailLogEntry](repo.Store(), options.EmailLogKey, options.EmailLogMax),
		now:    time.Now,
		logger: logger.With("component", "notify"),
	}
}

// SendBypassEmail mails the bypass link to the configured client. Missing
// preconditions are reported as a *Failure without contacting the mailer.
func (s *Service) SendBypassEmail(ctx context.Context) (BypassEmailState, error) {
	const action = "send_bypass_email"
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return BypassEmailState{}, err
	}

	recipient := strings.TrimSpace(cfg.ClientEmail)
	if recipient == "" {
		return BypassEmailState{}, s.reject(ctx, action, "", ReasonNoRecipient)
	}
	if !secrets.ValidEmail(recipient) {
		return BypassEmailState{}, s.reject(ctx, action, recipient, ReasonInvalidEmail)
	}
	link, err := s.links.BypassLink(ctx)
	if err != nil {
		return BypassEmailState{}, err
	}
	if link == "" {
		return BypassEmailState{}, s.reject(ctx, action, recipient, ReasonNoBypassLink)
	}

	now := s.now()
	subject := fmt.Sprintf("[Mr.WordPress] Maintenance activée – %s", s.site.Name)
	body := fmt.Sprintf(`Bonjour,

Nous venons d'activer un mode maintenance pour intervenir en sécurité sur le site %s.

Accès privé (ne pas partager) : %s

Date/heure : %s
Contact : support@mrwordpress.com

— Mr.WordPress Tools`, s.site.Name, link, now.Format("2006-01-02 15:04:05"))

	if err := s.send(ctx, action, recipient, subject, body); err != nil {
		return BypassEmailState{}, &Failure{reason: ReasonSendFailed, err: err}
	}
	return BypassEmailState{EmailSent: true, Recipient: recipient, SentAt: now.Unix()}, nil
}

// TestEmailResult reports a test send.
type TestEmailResult struct {
	Success   bool   `json:"success"`
	Recipient string `json:"recipient,omitempty"`
	SentAt    int64  `json:"sent_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendTestEmail verifies the mail configuration. An empty to falls back to
// the client email.
func (s *Service) SendTestEmail(ctx context.Context, to string) (TestEmailResult, error) {
	const action = "test_email"
	recipient := strings.TrimSpace(to)
	if recipient == "" {
		cfg, err := s.repo.Load(ctx)
		if err != nil {
			return TestEmailResult{}, err
		}
		recipient = cfg.ClientEmail
	}
	if recipient == "" {
		return TestEmailResult{Error: ReasonNoTestRecipient}, s.reject(ctx, action, "", ReasonNoTestRecipient)
	}
	if !secrets.ValidEmail(recipient) {
		return TestEmailResult{Recipient: recipient, Error: ReasonInvalidEmail}, s.reject(ctx, action, recipient, ReasonInvalidEmail)
	}

	now := s.now()
	body := fmt.Sprintf(`This is a test email from Mr.WordPress Tools.

Site: %s
Time: %s

If you received this email, the email configuration is working correctly.

— Mr.WordPress Tools`, s.site.Name, now.Format("2006-01-02 15:04:05"))

	if err := s.send(ctx, action, recipient, "[Mr.WordPress] Test Email", body); err != nil {
		return TestEmailResult{Recipient: recipient, Error: ReasonTestSendFailed}, &Failure{reason: ReasonTestSendFailed, err: err}
	}
	return TestEmailResult{Success: true, Recipient: recipient, SentAt: now.Unix()}, nil
}

// SendSystemAlert mails alert to the client email. A missing client email is
// not an error; the alert is simply not mailed.
func (s *Service) SendSystemAlert(ctx context.Context, alert Alert) error {
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	if !secrets.ValidEmail(cfg.ClientEmail) {
		return nil
	}

	at := alert.Time
	if at.IsZero() {
		at = s.now()
	}
	subject := fmt.Sprintf("[Mr.WordPress] Alert: %s - %s", alert.Type, s.site.Name)
	var b strings.Builder
	fmt.Fprintf(&b, "Alert on %s\n\nType: %s\nMessage: %s\nTime: %s\n\nSite: %s\n\n— Mr.WordPress Tools",
		s.site.Name, alert.Type, alert.Message, at.Format("2006-01-02 15:04:05"), s.site.URL)
	if len(alert.Data) > 0 {
		b.WriteString("\n\nAdditional Information:\n")
		keys := make([]string, 0, len(alert.Data))
		for k := range alert.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, alert.Data[k])
		}
	}

	return s.send(ctx, "system_alert", cfg.ClientEmail, subject, b.String())
}

// EmailLog returns up to limit entries, newest first.
func (s *Service) EmailLog(ctx context.Context, limit int) ([]EmailLogEntry, error) {
	return s.log.Recent(ctx, limit)
}

var errNoMailer = errors.New("no mailer configured")

func (s *Service) send(ctx context.Context, action, to, subject, body string) error {
	headers := []string{
		"Content-Type: text/plain; charset=UTF-8",
		"From: " + s.site.FromAddress,
	}
	if s.site.ReplyTo != "" {
		headers = append(headers, "Reply-To: "+s.site.ReplyTo)
	}

	err := errNoMailer
	if s.mailer != nil {
		err = s.mailer.Send(ctx, to, subject, body, headers)
	}

	entry := EmailLogEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().Unix(),
		Action:    action,
		Recipient: to,
		Subject:   subject,
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		s.logger.Error("email delivery failed", "action", action, "to", to, "error", err)
	} else {
		s.logger.Info("email sent", "action", action, "to", to)
	}
	s.journal(ctx, entry)
	return err
}

func (s *Service) reject(ctx context.Context, action, to, reason string) error {
	s.logger.Warn("email not sent", "action", action, "reason", reason)
	s.journal(ctx, EmailLogEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().Unix(),
		Action:    action,
		Recipient: to,
		Error:     reason,
	})
	return &Failure{reason: reason}
}

func (s *Service) journal(ctx context.Context, e EmailLogEntry) {
	if err := s.log.Append(ctx, e); err != nil {
		s.logger.Error("writing email log failed", "error", err)
	}
}
