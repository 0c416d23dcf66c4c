// ABOUTME: Tests for the notification service, SMTP message building and the alerter
// ABOUTME: Uses a recording Mailer fake and a fake Matrix sender

package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/mrwp-agent/internal/options"
	"github.com/2389/mrwp-agent/internal/store"
)

type sentMail struct {
	To, Subject, Body string
	Headers           []string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body, Headers: headers})
	return m.err
}

func (m *recordingMailer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type staticLink string

func (l staticLink) BypassLink(context.Context) (string, error) { return string(l), nil }

func newTestService(t *testing.T, clientEmail string, link string, mailer Mailer) (*Service, *options.Repository) {
	t.Helper()
	repo := options.NewRepository(store.NewMemoryStore())
	_, err := repo.Update(context.Background(), func(c *options.AgentConfig) error {
		c.ClientEmail = clientEmail
		return nil
	})
	require.NoError(t, err)
	svc := NewService(repo, staticLink(link), mailer, Site{Name: "Example", URL: "https://example.com", ReplyTo: "support@mrwordpress.com"}, nil)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, repo
}

func failureReason(t *testing.T, err error) string {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %v", err)
	return f.Reason()
}

func TestSendBypassEmail_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		email  string
		link   string
		reason string
	}{
		{"no recipient", "", "https://example.com/?bypass_code=abc", ReasonNoRecipient},
		{"invalid recipient", "not-an-email", "https://example.com/?bypass_code=abc", ReasonInvalidEmail},
		{"no link", "owner@example.com", "", ReasonNoBypassLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &recordingMailer{}
			svc, _ := newTestService(t, tt.email, tt.link, mailer)

			_, err := svc.SendBypassEmail(context.Background())
			assert.Equal(t, tt.reason, failureReason(t, err))
			assert.Zero(t, mailer.calls(), "mailer must not be called")

			log, err := svc.EmailLog(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, log, 1)
			assert.False(t, log[0].Success)
			assert.Equal(t, tt.reason, log[0].Error)
		})
	}
}

func TestSendBypassEmail_Success(t *testing.T) {
	mailer := &recordingMailer{}
	svc, _ := newTestService(t, "owner@example.com", "https://example.com/?bypass_code=abc", mailer)

	st, err := svc.SendBypassEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BypassEmailState{EmailSent: true, Recipient: "owner@example.com", SentAt: 1700000000}, st)

	require.Equal(t, 1, mailer.calls())
	m := mailer.sent[0]
	assert.Equal(t, "owner@example.com", m.To)
	assert.Equal(t, "[Mr.WordPress] Maintenance activée – Example", m.Subject)
	assert.Contains(t, m.Body, "https://example.com/?bypass_code=abc")
	assert.Contains(t, m.Headers, "Reply-To: support@mrwordpress.com")
	assert.Contains(t, m.Headers, "From: "+defaultFrom)

	log, err := svc.EmailLog(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, "send_bypass_email", log[0].Action)
}

func TestSendBypassEmail_TransportFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("connection refused")}
	svc, _ := newTestService(t, "owner@example.com", "https://example.com/?bypass_code=abc", mailer)

	_, err := svc.SendBypassEmail(context.Background())
	assert.Equal(t, ReasonSendFailed, failureReason(t, err))
	assert.Equal(t, 1, mailer.calls())
}

func TestSendBypassEmail_NilMailer(t *testing.T) {
	svc, _ := newTestService(t, "owner@example.com", "https://example.com/?bypass_code=abc", nil)

	_, err := svc.SendBypassEmail(context.Background())
	assert.Equal(t, ReasonSendFailed, failureReason(t, err))
}

func TestSendTestEmail(t *testing.T) {
	mailer := &recordingMailer{}
	svc, _ := newTestService(t, "owner@example.com", "", mailer)

	res, err := svc.SendTestEmail(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "owner@example.com", res.Recipient)

	res, err = svc.SendTestEmail(context.Background(), "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", res.Recipient)
	assert.Equal(t, "[Mr.WordPress] Test Email", mailer.sent[1].Subject)

	_, err = svc.SendTestEmail(context.Background(), "nope")
	assert.Equal(t, ReasonInvalidEmail, failureReason(t, err))
}

func TestSendSystemAlert(t *testing.T) {
	mailer := &recordingMailer{}
	svc, _ := newTestService(t, "owner@example.com", "", mailer)

	err := svc.SendSystemAlert(context.Background(), Alert{
		Type:    "maintenance",
		Message: "Maintenance mode enabled",
		Data:    map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, mailer.calls())
	body := mailer.sent[0].Body
	assert.Contains(t, body, "Type: maintenance")
	assert.Less(t, strings.Index(body, "a: 1"), strings.Index(body, "b: 2"))

	quiet, _ := newTestService(t, "", "", mailer)
	require.NoError(t, quiet.SendSystemAlert(context.Background(), Alert{Type: "x"}))
	assert.Equal(t, 1, mailer.calls(), "no recipient means no mail")
}

func TestEmailLog_Bounded(t *testing.T) {
	svc, _ := newTestService(t, "", "", &recordingMailer{})
	for i := 0; i < options.EmailLogMax+5; i++ {
		_, _ = svc.SendBypassEmail(context.Background())
	}
	log, err := svc.EmailLog(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, log, options.EmailLogMax)
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage(defaultFrom, "owner@example.com", "Hello", "Body text",
		[]string{"Content-Type: text/plain; charset=UTF-8", "Reply-To: support@mrwordpress.com", "X-Mrwp-Site: example", "garbage"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Hello")
	assert.Contains(t, raw, "owner@example.com")
	assert.Contains(t, raw, "support@mrwordpress.com")
	assert.Contains(t, raw, "X-Mrwp-Site: example")

	_, err = buildMessage(defaultFrom, "not an address", "s", "b", nil)
	assert.Error(t, err)
}

func TestNewSMTPMailer(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{}, nil)
	assert.ErrorIs(t, err, ErrMailerDisabled)

	_, err = NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", TLS: "sometimes"}, nil)
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 587, m.cfg.Port)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestAlerter_DeliversToEverySink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	a := NewAlerter([]AlertSink{failing, ok}, 4, nil)
	go a.Run(context.Background())

	assert.True(t, a.Enqueue(Alert{Type: "debug", Message: "Debug mode enabled"}))
	a.Close()

	assert.Len(t, ok.alerts, 1)
	assert.Len(t, failing.alerts, 1)
	assert.False(t, ok.alerts[0].Time.IsZero())
	assert.False(t, a.Enqueue(Alert{Type: "late"}), "closed alerter drops alerts")
	a.Close()
}

func TestAlerter_FullQueueDrops(t *testing.T) {
	a := NewAlerter([]AlertSink{&recordingSink{}}, 1, nil)
	assert.True(t, a.Enqueue(Alert{Type: "one"}))
	assert.False(t, a.Enqueue(Alert{Type: "two"}))

	var nilAlerter *Alerter
	assert.False(t, nilAlerter.Enqueue(Alert{}))
}

type fakeMatrix struct {
	room id.RoomID
	text string
}

func (f *fakeMatrix) SendText(_ context.Context, room id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.room, f.text = room, text
	return &mautrix.RespSendEvent{}, nil
}

func TestMatrixSink(t *testing.T) {
	fm := &fakeMatrix{}
	sink := NewMatrixSinkWithClient(fm, "!ops:example.org", "Example")

	err := sink.Deliver(context.Background(), Alert{Type: "maintenance", Message: "on", Data: map[string]string{"by": "hub"}})
	require.NoError(t, err)
	assert.Equal(t, id.RoomID("!ops:example.org"), fm.room)
	assert.Equal(t, "[Example] maintenance: on\nby: hub", fm.text)
}
