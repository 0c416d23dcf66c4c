// ABOUTME: Tests for the signature-enforcing HTTP middleware
// ABOUTME: Checks the generic 401 body, body restoration and identity propagation

package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mrwp-agent/internal/reqctx"
)

func newSignedRequest(t *testing.T, secret, body string, signedAt time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/wp-json/mrwp/v1/action", strings.NewReader(body))
	for k, v := range GenerateHeaders(secret, []byte(body), signedAt) {
		req.Header[k] = v
	}
	return req
}

func TestMiddleware_Accepts(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewAuthenticator(staticSecret{secret: testSecret}, WithClock(func() time.Time { return now }))

	var gotBody string
	var gotID *Identity
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotID = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newSignedRequest(t, testSecret, `{"action":"toggle_maintenance"}`, now))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	assert.Equal(t, `{"action":"toggle_maintenance"}`, gotBody)
	require.NotNil(t, gotID)
	assert.Equal(t, MethodSignature, gotID.Method)
	assert.False(t, gotID.IsAdmin())
}

func TestMiddleware_RejectsWithGenericBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewAuthenticator(staticSecret{secret: testSecret}, WithClock(func() time.Time { return now }))

	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"unsigned", httptest.NewRequest(http.MethodPost, "/wp-json/mrwp/v1/status", strings.NewReader(`{}`))},
		{"stale", newSignedRequest(t, testSecret, `{}`, now.Add(-301*time.Second))},
		{"wrong secret", newSignedRequest(t, "nope", `{}`, now)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, "Authentication failed", body["error"])
		})
	}
	assert.False(t, called)
}

func TestMiddleware_SecretUnavailable(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewAuthenticator(staticSecret{err: errors.New("db locked")}, WithClock(func() time.Time { return now }))
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newSignedRequest(t, testSecret, `{}`, now))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db locked")
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewAuthenticator(staticSecret{secret: testSecret}, WithClock(func() time.Time { return now }))
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	body := `{"action":"toggle_debug","pad":"` + strings.Repeat("x", reqctx.MaxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newSignedRequest(t, testSecret, body, now))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Request body too large", resp["error"])
}
