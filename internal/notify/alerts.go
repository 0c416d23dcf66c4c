// ABOUTME: Asynchronous system alerts delivered by one background worker
// ABOUTME: Sinks include the client email and a Matrix room via mautrix

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Alert is one system event worth telling a human about.
type Alert struct {
	Type    string
	Message string
	Data    map[string]string
	Time    time.Time
}

// AlertSink delivers alerts to one destination.
type AlertSink interface {
	Name() string
	Deliver(ctx context.Context, alert Alert) error
}

// Alerter queues alerts and delivers them off the request path.
type Alerter struct {
	queue   chan Alert
	sinks   []AlertSink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewAlerter creates an alerter with a queue of size entries. Call Run to
// start delivery.
func NewAlerter(sinks []AlertSink, size int, logger *slog.Logger) *Alerter {
	if size <= 0 {
		size = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		queue:   make(chan Alert, size),
		sinks:   sinks,
		timeout: 30 * time.Second,
		logger:  logger.With("component", "alerts"),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules alert without blocking. It returns false when the alert
// was dropped.
func (a *Alerter) Enqueue(alert Alert) bool {
	if a == nil {
		return false
	}
	if alert.Time.IsZero() {
		alert.Time = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(a.sinks) == 0 {
		return false
	}
	select {
	case a.queue <- alert:
		return true
	default:
		a.logger.Warn("alert queue full, dropping alert", "type", alert.Type)
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled or Close drains the queue.
func (a *Alerter) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-a.queue:
			if !ok {
				return
			}
			a.deliver(ctx, alert)
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, alert Alert) {
	for _, sink := range a.sinks {
		sctx, cancel := context.WithTimeout(ctx, a.timeout)
		err := sink.Deliver(sctx, alert)
		cancel()
		if err != nil {
			a.logger.Error("alert delivery failed", "sink", sink.Name(), "type", alert.Type, "error", err)
			continue
		}
		a.logger.Debug("alert delivered", "sink", sink.Name(), "type", alert.Type)
	}
}

// Close stops accepting alerts and waits for Run to drain the queue.
// Run must have been started.
func (a *Alerter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

// EmailSink mails alerts to the client email.
type EmailSink struct {
	Service *Service
}

func (EmailSink) Name() string { return "email" }

func (s EmailSink) Deliver(ctx context.Context, alert Alert) error {
	return s.Service.SendSystemAlert(ctx, alert)
}

// MatrixSender is the slice of the Matrix client used by MatrixSink.
type MatrixSender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixSink posts alerts to one Matrix room.
type MatrixSink struct {
	client MatrixSender
	room   id.RoomID
	site   string
}

// NewMatrixSink logs in with an access token and targets room.
func NewMatrixSink(homeserver, userID, accessToken, room, site string) (*MatrixSink, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return NewMatrixSinkWithClient(client, room, site), nil
}

// NewMatrixSinkWithClient uses an existing client.
func NewMatrixSinkWithClient(client MatrixSender, room, site string) *MatrixSink {
	return &MatrixSink{client: client, room: id.RoomID(room), site: site}
}

func (*MatrixSink) Name() string { return "matrix" }

func (s *MatrixSink) Deliver(ctx context.Context, alert Alert) error {
	if _, err := s.client.SendText(ctx, s.room, FormatAlert(s.site, alert)); err != nil {
		return fmt.Errorf("sending to %s: %w", s.room, err)
	}
	return nil
}

// FormatAlert renders alert as a short plain-text message.
func FormatAlert(site string, alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", site, alert.Type, alert.Message)
	keys := make([]string, 0, len(alert.Data))
	for k := range alert.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, alert.Data[k])
	}
	return b.String()
}
