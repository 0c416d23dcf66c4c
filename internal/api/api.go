// ABOUTME: Control API handler: routing, request validation and JSON responses
// ABOUTME: Signed routes go through the HMAC middleware before reaching actions or status

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/mrwp-agent/internal/actions"
	"github.com/2389/mrwp-agent/internal/auth"
	"github.com/2389/mrwp-agent/internal/options"
	"github.com/2389/mrwp-agent/internal/reqctx"
	"github.com/2389/mrwp-agent/internal/status"
)

// DefaultRoot is the API mount point.
const DefaultRoot = "/wp-json/mrwp/v1"

// Validation messages returned with 400.
const (
	msgInvalidJSON   = "Invalid JSON body"
	msgMissingAction = "Missing parameter: action"
	msgInvalidAction = "Invalid parameter: action"
	msgNotFound      = "Not found"
	msgMethod        = "Method not allowed"
)

// Dispatcher runs actions. Implemented by *actions.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string) actions.Result
}

// Reporter supplies ping and status documents. Implemented by *status.Reporter.
type Reporter interface {
	Ping() status.PingInfo
	Status(ctx context.Context) (status.Report, error)
}

// Config holds API options.
type Config struct {
	// Root is the mount point, DefaultRoot when empty.
	Root string
}

// Handler serves the control API.
type Handler struct {
	root       string
	auth       *auth.Authenticator
	dispatcher Dispatcher
	reporter   Reporter
	repo       *options.Repository
	journal    *options.Journal[LogEntry]
	logger     *slog.Logger
	now        func() time.Time
	handler    http.Handler
	// unsigned throttles journal writes for calls that never passed
	// signature checks.
	unsigned *rate.Limiter
}

// New builds the API handler.
func New(cfg Config, authn *auth.Authenticator, d Dispatcher, rep Reporter, repo *options.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	root := strings.TrimRight(cfg.Root, "/")
	if root == "" {
		root = DefaultRoot
	}
	h := &Handler{
		root:       root,
		auth:       authn,
		dispatcher: d,
		reporter:   rep,
		repo:       repo,
		journal:    options.NewJournal[LogEntry](repo.Store(), options.APILogKey, options.APILogMax),
		logger:     logger.With("component", "api"),
		now:        time.Now,
		unsigned:   rate.NewLimiter(UnsignedLogRate, UnsignedLogBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(root+"/ping", h.method(http.MethodGet, h.handlePing))
	mux.Handle(root+"/status", h.method(http.MethodPost, authn.Middleware(h.signed(h.handleStatus)).ServeHTTP))
	mux.Handle(root+"/action", h.method(http.MethodPost, authn.Middleware(h.signed(h.handleAction)).ServeHTTP))
	mux.HandleFunc(root+"/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	})
	h.handler = h.cors(h.record(h.recoverer(mux)))
	return h
}

// Root returns the mount point.
func (h *Handler) Root() string {
	return h.root
}

// Journal exposes the API activity journal.
func (h *Handler) Journal() *options.Journal[LogEntry] {
	return h.journal
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// method rejects requests whose method differs from want.
func (h *Handler) method(want string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != want {
			w.Header().Set("Allow", want+", OPTIONS")
			writeError(w, http.StatusMethodNotAllowed, msgMethod)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reporter.Ping())
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reporter.Status(r.Context())
	if err != nil {
		h.logger.Error("status aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, actions.InternalErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if rc := reqctx.FromContext(r.Context()); rc != nil {
		body = rc.Body
	}

	name, msg := parseAction(body)
	if call := callFromContext(r.Context()); call != nil {
		call.action = name
	}
	if msg != "" {
		h.logger.Warn("rejected action request", "reason", msg)
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res := h.dispatcher.Dispatch(r.Context(), name)
	writeJSON(w, res.HTTPStatus(), res)
}

// parseAction extracts and validates the action field. A non-empty message
// means the request must be rejected with 400.
func parseAction(body []byte) (string, string) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return "", msgInvalidJSON
	}
	raw, ok := fields["action"]
	if !ok || string(raw) == "null" {
		return "", msgMissingAction
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", msgInvalidAction
	}
	if name == "" {
		return "", msgMissingAction
	}
	if !actions.Valid(name) {
		return name, msgInvalidAction
	}
	return name, ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
