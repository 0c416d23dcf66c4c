// ABOUTME: HTTP middleware enforcing request signatures on control API endpoints
// ABOUTME: Logs the precise failure reason but answers callers with a generic 401

package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/mrwp-agent/internal/reqctx"
)

// writeJSONError writes {"ok":false,"error":msg}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}

// Middleware verifies the signature headers before calling next. The body is
// buffered and restored so next can read it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := reqctx.FromContext(r.Context())
		if rc == nil {
			rc = reqctx.FromHTTP(r, a.now())
			r = r.WithContext(reqctx.WithContext(r.Context(), rc))
		}
		if err := rc.ReadBody(r); err != nil {
			a.logger.Warn("reading request body failed", "path", r.URL.Path, "error", err)
			if errors.Is(err, reqctx.ErrBodyTooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := a.Verify(r.Context(), r.Header, rc.Body, rc.Now); err != nil {
			if !IsAuthFailure(err) {
				a.logger.Error("signature verification unavailable", "path", r.URL.Path, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			a.logger.Warn("request authentication failed",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"reason", err.Error(),
			)
			writeJSONError(w, http.StatusUnauthorized, "Authentication failed")
			return
		}

		ctx := WithIdentity(r.Context(), &Identity{Method: MethodSignature, Subject: "hub"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
