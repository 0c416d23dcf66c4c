// ABOUTME: HMAC-SHA256 signing and verification of control API requests
// ABOUTME: Enforces the replay window and fails closed on an empty secret

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/mrwp-agent/internal/replay"
)

// Header names as sent by the hub.
const (
	HeaderTimestamp = "x-mrwp-timestamp"
	HeaderSignature = "x-mrwp-signature"
)

// ReplayWindow bounds clock skew between hub and agent in both directions.
const ReplayWindow = 300 * time.Second

// Verification errors
var (
	ErrMissingHeaders       = errors.New("missing signature headers")
	ErrTimestampOutOfWindow = errors.New("timestamp outside replay window")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrReplayedSignature    = errors.New("signature already used")
)

// Sign returns the lowercase hex signature of timestamp and body.
// An empty secret yields "", which never matches a presented signature.
func Sign(secret, timestamp string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateHeaders returns the headers a hub attaches to a signed request.
func GenerateHeaders(secret string, body []byte, now time.Time) http.Header {
	ts := strconv.FormatInt(now.Unix(), 10)
	h := make(http.Header)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, Sign(secret, ts, body))
	return h
}

// VerifyWithSecret checks the signature headers in h against body.
func VerifyWithSecret(secret string, h http.Header, body []byte, now time.Time) error {
	ts := lookupHeader(h, HeaderTimestamp)
	sig := lookupHeader(h, HeaderSignature)
	if ts == "" || sig == "" {
		return ErrMissingHeaders
	}

	sent, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparsable timestamp", ErrTimestampOutOfWindow)
	}
	// Bounds are compared directly so extreme timestamps cannot overflow.
	window := int64(ReplayWindow / time.Second)
	if sent < now.Unix()-window || sent > now.Unix()+window {
		return fmt.Errorf("%w: sent %d, now %d", ErrTimestampOutOfWindow, sent, now.Unix())
	}

	expected := Sign(secret, ts, body)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// lookupHeader finds name case-insensitively, then as a CGI variable
// (x-mrwp-timestamp becomes HTTP_X_MRWP_TIMESTAMP).
func lookupHeader(h http.Header, name string) string {
	cgi := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	var fallback string
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		if strings.EqualFold(k, name) {
			return vs[0]
		}
		if fallback == "" && strings.EqualFold(k, cgi) {
			fallback = vs[0]
		}
	}
	return fallback
}

// SecretSource supplies the current site secret.
type SecretSource interface {
	SiteSecret(ctx context.Context) (string, error)
}

// Authenticator verifies signed requests against the stored site secret.
type Authenticator struct {
	secrets SecretSource
	replay  *replay.Cache
	now     func() time.Time
	logger  *slog.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithReplayCache refuses signatures already accepted inside the window.
func WithReplayCache(c *replay.Cache) AuthenticatorOption {
	return func(a *Authenticator) { a.replay = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) { a.now = now }
}

// WithLogger sets the logger used for failure reasons.
func WithLogger(l *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.logger = l }
}

// NewAuthenticator creates an Authenticator reading secrets from src.
func NewAuthenticator(src SecretSource, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		secrets: src,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "auth")
	return a
}

// Verify authenticates one request. Errors other than the package sentinels
// mean the secret could not be read.
func (a *Authenticator) Verify(ctx context.Context, h http.Header, body []byte, now time.Time) error {
	secret, err := a.secrets.SiteSecret(ctx)
	if err != nil {
		return fmt.Errorf("loading site secret: %w", err)
	}
	if err := VerifyWithSecret(secret, h, body, now); err != nil {
		return err
	}
	if a.replay != nil {
		key := lookupHeader(h, HeaderTimestamp) + ":" + lookupHeader(h, HeaderSignature)
		if a.replay.CheckAndMark(key) {
			return ErrReplayedSignature
		}
	}
	return nil
}

// IsAuthFailure reports whether err is a rejection rather than an internal fault.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrMissingHeaders) ||
		errors.Is(err, ErrTimestampOutOfWindow) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrReplayedSignature)
}
