// ABOUTME: Maintenance gate deciding whether a page request passes, redirects or is blocked
// ABOUTME: Issues the bypass cookie and owns the toggle and bypass reset operations

package maintenance

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/mrwp-agent/internal/options"
	"github.com/2389/mrwp-agent/internal/reqctx"
	"github.com/2389/mrwp-agent/internal/secrets"
)

// Bypass cookie and query parameter.
const (
	BypassCookieName = "mrwp_bypass"
	BypassParam      = "bypass_code"
	CookieMaxAge     = 86400
	RetryAfter       = "3600"
)

// Defaults for the exempt path prefixes.
const (
	DefaultAdminPrefix = "/wp-admin/"
	DefaultAPIRoot     = "/wp-json/mrwp/v1"
)

// Decision is the outcome of evaluating one request.
type Decision int

const (
	Pass Decision = iota
	Redirect
	Block
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Redirect:
		return "redirect"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome carries what the transport must do for a Redirect.
type Outcome struct {
	Decision Decision
	Location string
	Cookie   *http.Cookie
	// Reason names the rule that decided, for debug logs.
	Reason string
}

// State is the maintenance block reported by toggle and status.
type State struct {
	MaintenanceEnabled bool   `json:"maintenance_enabled"`
	BypassLink         string `json:"bypass_link"`
}

// ResetState is returned by ResetBypass.
type ResetState struct {
	BypassLink string `json:"bypass_link"`
	BypassCode string `json:"bypass_code"`
}

// Config configures a Gate.
type Config struct {
	BaseURL     string
	AdminPrefix string
	APIRoot     string
	Page        PageOptions
	// FailClosed blocks gated requests when the flag cannot be read.
	// Administrators and exempt paths still pass.
	FailClosed bool
}

// Gate evaluates page requests against the stored maintenance flag.
type Gate struct {
	repo        *options.Repository
	secrets     *secrets.Manager
	baseURL     string
	adminPrefix string
	apiRoot     string
	page        []byte
	failClosed  bool
	logger      *slog.Logger
}

// NewGate creates a Gate and renders its page.
func NewGate(repo *options.Repository, mgr *secrets.Manager, cfg Config, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminPrefix == "" {
		cfg.AdminPrefix = DefaultAdminPrefix
	}
	if cfg.APIRoot == "" {
		cfg.APIRoot = DefaultAPIRoot
	}
	if cfg.Page.BaseURL == "" {
		cfg.Page.BaseURL = cfg.BaseURL
	}
	page, err := RenderPage(cfg.Page)
	if err != nil {
		return nil, err
	}
	return &Gate{
		repo:        repo,
		secrets:     mgr,
		baseURL:     cfg.BaseURL,
		adminPrefix: cfg.AdminPrefix,
		apiRoot:     strings.TrimRight(cfg.APIRoot, "/"),
		page:        page,
		failClosed:  cfg.FailClosed,
		logger:      logger.With("component", "maintenance"),
	}, nil
}

// Decide evaluates rc. A store failure is returned alongside a Pass outcome,
// or a Block outcome for gated requests when the gate fails closed.
func (g *Gate) Decide(ctx context.Context, rc *reqctx.RequestContext) (Outcome, error) {
	cfg, err := g.repo.Load(ctx)
	if err != nil {
		if g.failClosed && !rc.Admin && !g.exempt(rc.Path()) {
			return Outcome{Decision: Block, Reason: "store unavailable"}, err
		}
		return Outcome{Decision: Pass, Reason: "store unavailable"}, err
	}

	if !cfg.MaintenanceEnabled {
		return Outcome{Decision: Pass, Reason: "disabled"}, nil
	}
	if rc.Admin {
		return Outcome{Decision: Pass, Reason: "administrator"}, nil
	}
	if g.exempt(rc.Path()) {
		return Outcome{Decision: Pass, Reason: "exempt path"}, nil
	}

	if code := rc.Query(BypassParam); code != "" && codesMatch(cfg.BypassCode, code) {
		return Outcome{
			Decision: Redirect,
			Location: stripParam(rc.URL, BypassParam),
			Cookie:   bypassCookie(code, rc.TLS),
			Reason:   "bypass code",
		}, nil
	}

	if codesMatch(cfg.BypassCode, rc.Cookie(BypassCookieName)) {
		return Outcome{Decision: Pass, Reason: "bypass cookie"}, nil
	}

	return Outcome{Decision: Block, Reason: "maintenance"}, nil
}

func (g *Gate) exempt(path string) bool {
	if strings.HasPrefix(path, g.adminPrefix) || path+"/" == g.adminPrefix {
		return true
	}
	return path == g.apiRoot || strings.HasPrefix(path, g.apiRoot+"/")
}

// codesMatch compares in constant time. An empty stored code matches nothing.
func codesMatch(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func bypassCookie(code string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     BypassCookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// stripParam returns u's path and query without name.
func stripParam(u *url.URL, name string) string {
	q := u.Query()
	q.Del(name)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if enc := q.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

// WritePage sends the blocking response.
func (g *Gate) WritePage(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Retry-After", RetryAfter)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write(g.page)
}

// Toggle flips maintenance_enabled and returns the new state.
func (g *Gate) Toggle(ctx context.Context) (State, error) {
	cfg, err := g.repo.Update(ctx, func(c *options.AgentConfig) error {
		c.MaintenanceEnabled = !c.MaintenanceEnabled
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("toggling maintenance: %w", err)
	}
	g.logger.Info("maintenance toggled", "enabled", cfg.MaintenanceEnabled)
	return State{MaintenanceEnabled: cfg.MaintenanceEnabled, BypassLink: g.LinkFor(cfg.BypassCode)}, nil
}

// ResetBypass replaces the bypass code, revoking every issued cookie and link.
func (g *Gate) ResetBypass(ctx context.Context) (ResetState, error) {
	code, err := g.secrets.RegenerateBypassCode(ctx)
	if err != nil {
		return ResetState{}, fmt.Errorf("resetting bypass code: %w", err)
	}
	return ResetState{BypassLink: g.LinkFor(code), BypassCode: code}, nil
}

// BypassLink returns the link for the stored code, "" when none is provisioned.
func (g *Gate) BypassLink(ctx context.Context) (string, error) {
	code, err := g.secrets.BypassCode(ctx)
	if err != nil {
		return "", err
	}
	return g.LinkFor(code), nil
}

// LinkFor derives the bypass link for code.
func (g *Gate) LinkFor(code string) string {
	if code == "" {
		return ""
	}
	return strings.TrimRight(g.baseURL, "/") + "/?" + BypassParam + "=" + url.QueryEscape(code)
}

// Status reports the current maintenance state.
func (g *Gate) Status(ctx context.Context) (State, error) {
	cfg, err := g.repo.Load(ctx)
	if err != nil {
		return State{}, err
	}
	return State{MaintenanceEnabled: cfg.MaintenanceEnabled, BypassLink: g.LinkFor(cfg.BypassCode)}, nil
}

// Enabled reports whether maintenance mode is on.
func (g *Gate) Enabled(ctx context.Context) (bool, error) {
	cfg, err := g.repo.Load(ctx)
	if err != nil {
		return false, err
	}
	return cfg.MaintenanceEnabled, nil
}
