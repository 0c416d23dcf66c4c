// ABOUTME: HTTP middleware applying the maintenance gate ahead of every other handler
// ABOUTME: Attaches the RequestContext so later handlers reuse it

package maintenance

import (
	"net/http"
	"time"

	"github.com/2389/mrwp-agent/internal/auth"
	"github.com/2389/mrwp-agent/internal/reqctx"
)

// AdminDetector recognizes authenticated host administrators.
type AdminDetector interface {
	FromRequest(r *http.Request) *auth.Identity
}

// Middleware wraps next with the gate. admins may be nil.
func (g *Gate) Middleware(admins AdminDetector, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := reqctx.FromHTTP(r, now())
			ctx := reqctx.WithContext(r.Context(), rc)
			if admins != nil {
				if id := admins.FromRequest(r); id.IsAdmin() {
					rc.Admin = true
					ctx = auth.WithIdentity(ctx, id)
				}
			}
			r = r.WithContext(ctx)

			out, err := g.Decide(ctx, rc)
			if err != nil {
				g.logger.Error("maintenance flag unavailable", "path", r.URL.Path, "decision", out.Decision.String(), "error", err)
			}

			switch out.Decision {
			case Redirect:
				http.SetCookie(w, out.Cookie)
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, out.Location, http.StatusFound)
				g.logger.Info("bypass cookie issued", "remote", r.RemoteAddr)
			case Block:
				g.logger.Debug("request held by maintenance", "path", r.URL.Path)
				g.WritePage(w)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
