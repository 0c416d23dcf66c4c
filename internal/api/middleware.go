// ABOUTME: Cross-cutting API middleware for CORS, panic recovery and the activity journal
// ABOUTME: The allowed origin is derived from the stored hub URL on every request

package api

import (
	"context"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/mrwp-agent/internal/actions"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, x-mrwp-timestamp, x-mrwp-signature"
)

// LogEntry is one API activity journal record.
type LogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Route     string `json:"route"`
	Action    string `json:"action,omitempty"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Status    int    `json:"status"`
	Result    string `json:"response_status"`
}

// HubOrigin returns scheme://host[:port] of hubURL, or "" when it is unusable.
func HubOrigin(hubURL string) string {
	if hubURL == "" {
		return ""
	}
	u, err := url.Parse(hubURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		cfg, err := h.repo.Load(r.Context())
		switch {
		case err != nil:
			h.logger.Error("loading hub origin failed", "error", err)
		case cfg.HubURL == "":
			hdr.Set("Access-Control-Allow-Origin", "*")
		default:
			if origin := HubOrigin(cfg.HubURL); origin != "" {
				hdr.Set("Access-Control-Allow-Origin", origin)
			}
		}
		hdr.Set("Access-Control-Allow-Methods", corsMethods)
		hdr.Set("Access-Control-Allow-Headers", corsHeaders)
		hdr.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.logger.Error("panic in api handler",
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()),
				)
				if !sw.wrote {
					writeError(sw, http.StatusInternalServerError, actions.InternalErrorMessage)
				}
			}
		}()
		next.ServeHTTP(sw, r)
	})
}

// Journal budget for unsigned calls such as pings and rejected signatures.
// Signed calls are always recorded.
const (
	UnsignedLogRate  = rate.Limit(1)
	UnsignedLogBurst = 20
)

// callInfo lets handlers report details the journal cannot see from outside.
type callInfo struct {
	action string
	signed bool
}

// signed marks the call as authenticated; it runs behind auth.Middleware.
func (h *Handler) signed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if call := callFromContext(r.Context()); call != nil {
			call.signed = true
		}
		next(w, r)
	})
}

type callKey struct{}

func callFromContext(ctx context.Context) *callInfo {
	c, _ := ctx.Value(callKey{}).(*callInfo)
	return c
}

func (h *Handler) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := &callInfo{}
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), callKey{}, call)))

		code := sw.code()
		entry := LogEntry{
			ID:        uuid.New().String(),
			Timestamp: h.now().Unix(),
			Method:    r.Method,
			Route:     r.URL.Path,
			Action:    call.action,
			IP:        ClientIP(r),
			UserAgent: r.UserAgent(),
			Status:    code,
			Result:    "success",
		}
		if code >= http.StatusBadRequest {
			entry.Result = "error"
		}

		h.logger.Info("api call",
			"method", entry.Method,
			"route", entry.Route,
			"action", entry.Action,
			"status", code,
			"ip", entry.IP,
		)
		if !call.signed && !h.unsigned.Allow() {
			h.logger.Debug("unsigned call not journaled, budget exhausted", "route", entry.Route, "ip", entry.IP)
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := h.journal.Append(ctx, entry); err != nil {
			h.logger.Warn("recording api call failed", "route", entry.Route, "error", err)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) code() int {
	if !w.wrote {
		return http.StatusOK
	}
	return w.status
}
