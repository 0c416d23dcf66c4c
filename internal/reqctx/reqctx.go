// ABOUTME: Explicit per-request value object handed to the gate and authenticator
// ABOUTME: Built from an *http.Request; the body is buffered on demand and restored

package reqctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxBodyBytes caps how much of a request body is buffered.
const MaxBodyBytes = 1 << 20

// RequestContext describes one inbound request.
type RequestContext struct {
	Method  string
	URL     *url.URL
	Header  http.Header
	Body    []byte
	Cookies []*http.Cookie
	Now     time.Time
	TLS     bool
	// Admin reports whether the caller is an authenticated host administrator.
	Admin bool

	bodyRead bool
	bodyErr  error
}

// FromHTTP builds a RequestContext from r without touching the body.
func FromHTTP(r *http.Request, now time.Time) *RequestContext {
	return &RequestContext{
		Method:  r.Method,
		URL:     r.URL,
		Header:  r.Header,
		Cookies: r.Cookies(),
		Now:     now,
		TLS:     IsTLS(r),
	}
}

// ErrBodyTooLarge is returned by ReadBody when the body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("request body too large")

// ReadBody buffers r's body into rc.Body and restores it so downstream
// handlers can read it again. A body over MaxBodyBytes is rejected with
// ErrBodyTooLarge and rc.Body stays nil. Subsequent calls are no-ops.
func (rc *RequestContext) ReadBody(r *http.Request) error {
	if rc.bodyRead {
		return rc.bodyErr
	}
	rc.bodyRead = true
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		rc.bodyErr = fmt.Errorf("reading request body: %w", err)
		return rc.bodyErr
	}
	if len(b) > MaxBodyBytes {
		rc.bodyErr = ErrBodyTooLarge
		return rc.bodyErr
	}
	rc.Body = b
	r.Body = struct {
		io.Reader
		io.Closer
	}{bytes.NewReader(b), r.Body}
	return nil
}

// IsTLS reports whether the client connection is HTTPS, trusting
// X-Forwarded-Proto from a fronting proxy.
func IsTLS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

// Cookie returns the named cookie value, or "" when absent.
func (rc *RequestContext) Cookie(name string) string {
	for _, c := range rc.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Query returns the named query parameter, or "" when absent.
func (rc *RequestContext) Query(name string) string {
	if rc.URL == nil {
		return ""
	}
	return rc.URL.Query().Get(name)
}

// Path returns the request path, "/" when empty.
func (rc *RequestContext) Path() string {
	if rc.URL == nil || rc.URL.Path == "" {
		return "/"
	}
	return rc.URL.Path
}

type contextKey struct{}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the RequestContext attached to ctx, or nil.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}
