// ABOUTME: Generation, retrieval and rotation of the site secret and bypass code
// ABOUTME: Also validates and applies the hub URL and client email settings

package secrets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"net/url"
	"strings"

	"github.com/2389/mrwp-agent/internal/options"
)

// Credential lengths.
const (
	SiteSecretLength = 64
	BypassCodeLength = 24
	// MinSiteSecretLength is the shortest secret accepted from an operator.
	MinSiteSecretLength = 48
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Settings errors
var (
	ErrInvalidHubURL      = errors.New("hub URL must be an absolute http or https URL")
	ErrInvalidClientEmail = errors.New("client email is not a valid address")
)

// RandomString returns n characters drawn uniformly from [A-Za-z0-9].
func RandomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Preview shows the first 8 characters of a secret for display.
func Preview(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return secret + "..."
	}
	return secret[:8] + "..."
}

// ValidEmail reports whether s is a single bare address like user@example.com.
func ValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".")
}

// ValidHubURL reports whether s is an absolute http(s) URL with a host.
func ValidHubURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Manager reads and rotates credentials stored in the agent record.
type Manager struct {
	repo   *options.Repository
	logger *slog.Logger
}

// NewManager returns a Manager over repo.
func NewManager(repo *options.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, logger: logger.With("component", "secrets")}
}

// Provision generates a missing site secret and bypass code. Existing values
// are left untouched, so calling it repeatedly is safe.
func (m *Manager) Provision(ctx context.Context) (options.AgentConfig, error) {
	var generated []string
	cfg, err := m.repo.Update(ctx, func(c *options.AgentConfig) error {
		generated = generated[:0]
		if c.SiteSecret == "" {
			s, err := RandomString(SiteSecretLength)
			if err != nil {
				return err
			}
			c.SiteSecret = s
			generated = append(generated, options.KeySiteSecret)
		}
		if c.BypassCode == "" {
			s, err := RandomString(BypassCodeLength)
			if err != nil {
				return err
			}
			c.BypassCode = s
			generated = append(generated, options.KeyBypassCode)
		}
		return nil
	})
	if err != nil {
		return options.AgentConfig{}, fmt.Errorf("provisioning credentials: %w", err)
	}
	if len(generated) > 0 {
		m.logger.Info("provisioned credentials", "generated", generated)
	}
	return cfg, nil
}

// SiteSecret returns the stored site secret, "" when unset.
func (m *Manager) SiteSecret(ctx context.Context) (string, error) {
	cfg, err := m.repo.Load(ctx)
	if err != nil {
		return "", err
	}
	return cfg.SiteSecret, nil
}

// BypassCode returns the stored bypass code, "" when unset.
func (m *Manager) BypassCode(ctx context.Context) (string, error) {
	cfg, err := m.repo.Load(ctx)
	if err != nil {
		return "", err
	}
	return cfg.BypassCode, nil
}

// RegenerateBypassCode replaces the bypass code, revoking every issued cookie.
func (m *Manager) RegenerateBypassCode(ctx context.Context) (string, error) {
	code, err := RandomString(BypassCodeLength)
	if err != nil {
		return "", err
	}
	if _, err := m.repo.Update(ctx, func(c *options.AgentConfig) error {
		c.BypassCode = code
		return nil
	}); err != nil {
		return "", fmt.Errorf("storing bypass code: %w", err)
	}
	m.logger.Info("bypass code regenerated")
	return code, nil
}

// RotateSiteSecret replaces the site secret. The hub must be given the new value.
func (m *Manager) RotateSiteSecret(ctx context.Context) (string, error) {
	secret, err := RandomString(SiteSecretLength)
	if err != nil {
		return "", err
	}
	if _, err := m.repo.Update(ctx, func(c *options.AgentConfig) error {
		c.SiteSecret = secret
		return nil
	}); err != nil {
		return "", fmt.Errorf("storing site secret: %w", err)
	}
	m.logger.Warn("site secret rotated", "preview", Preview(secret))
	return secret, nil
}

// Deactivate switches maintenance and debug mode off. Credentials are kept.
func (m *Manager) Deactivate(ctx context.Context) error {
	if _, err := m.repo.Update(ctx, func(c *options.AgentConfig) error {
		c.MaintenanceEnabled = false
		c.DebugEnabled = false
		return nil
	}); err != nil {
		return fmt.Errorf("deactivating: %w", err)
	}
	m.logger.Info("agent deactivated")
	return nil
}

// UpdateSettings applies the operator-editable settings. A nil pointer leaves
// the field unchanged; an empty string clears it. Nothing is written unless
// every supplied value is valid.
func (m *Manager) UpdateSettings(ctx context.Context, hubURL, clientEmail *string) (options.AgentConfig, error) {
	if hubURL != nil {
		v := strings.TrimSpace(*hubURL)
		if v != "" && !ValidHubURL(v) {
			return options.AgentConfig{}, ErrInvalidHubURL
		}
		hubURL = &v
	}
	if clientEmail != nil {
		v := strings.TrimSpace(*clientEmail)
		if v != "" && !ValidEmail(v) {
			return options.AgentConfig{}, ErrInvalidClientEmail
		}
		clientEmail = &v
	}

	cfg, err := m.repo.Update(ctx, func(c *options.AgentConfig) error {
		if hubURL != nil {
			c.HubURL = *hubURL
		}
		if clientEmail != nil {
			c.ClientEmail = *clientEmail
		}
		return nil
	})
	if err != nil {
		return options.AgentConfig{}, fmt.Errorf("saving settings: %w", err)
	}
	return cfg, nil
}
