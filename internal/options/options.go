// ABOUTME: Typed view of the agent's persisted option record stored under one namespaced key
// ABOUTME: Decodes leniently to documented defaults and preserves keys it does not own

package options

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/mrwp-agent/internal/store"
)

// Namespace is the ConfigStore key holding the agent record.
const Namespace = "mrwp_agent"

// Record keys.
const (
	KeySiteSecret         = "site_secret"
	KeyBypassCode         = "bypass_code"
	KeyHubURL             = "hub_url"
	KeyClientEmail        = "client_email"
	KeyMaintenanceEnabled = "maintenance_enabled"
	KeyDebugEnabled       = "debug_enabled"
)

// AgentConfig is the agent's persisted configuration.
// The zero value is the documented default for every field.
type AgentConfig struct {
	SiteSecret         string
	BypassCode         string
	HubURL             string
	ClientEmail        string
	MaintenanceEnabled bool
	DebugEnabled       bool
}

// Repository reads and mutates the AgentConfig record in a ConfigStore.
type Repository struct {
	store store.ConfigStore
	key   string
}

// NewRepository returns a Repository over the Namespace key of s.
func NewRepository(s store.ConfigStore) *Repository {
	return &Repository{store: s, key: Namespace}
}

// Store exposes the underlying ConfigStore for journals kept next to the record.
func (r *Repository) Store() store.ConfigStore {
	return r.store
}

// Load returns the current record. A missing record yields defaults.
func (r *Repository) Load(ctx context.Context) (AgentConfig, error) {
	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return AgentConfig{}, nil
	}
	if err != nil {
		return AgentConfig{}, fmt.Errorf("loading agent options: %w", err)
	}
	fields := decodeFields(raw)
	return fromFields(fields), nil
}

// Update applies fn to the current record and persists the result atomically.
// Returning an error from fn leaves the record untouched.
func (r *Repository) Update(ctx context.Context, fn func(*AgentConfig) error) (AgentConfig, error) {
	var out AgentConfig
	err := r.store.Update(ctx, r.key, func(current []byte) ([]byte, error) {
		fields := decodeFields(current)
		cfg := fromFields(fields)
		if err := fn(&cfg); err != nil {
			return nil, err
		}
		if err := toFields(cfg, fields); err != nil {
			return nil, err
		}
		out = cfg
		return json.Marshal(fields)
	})
	if err != nil {
		return AgentConfig{}, err
	}
	return out, nil
}

// decodeFields parses the stored object. Anything that is not a JSON object
// is treated as an empty record.
func decodeFields(raw []byte) map[string]json.RawMessage {
	fields := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields
	}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return make(map[string]json.RawMessage)
	}
	return fields
}

func fromFields(f map[string]json.RawMessage) AgentConfig {
	return AgentConfig{
		SiteSecret:         asString(f[KeySiteSecret]),
		BypassCode:         asString(f[KeyBypassCode]),
		HubURL:             asString(f[KeyHubURL]),
		ClientEmail:        asString(f[KeyClientEmail]),
		MaintenanceEnabled: asBool(f[KeyMaintenanceEnabled]),
		DebugEnabled:       asBool(f[KeyDebugEnabled]),
	}
}

func toFields(c AgentConfig, f map[string]json.RawMessage) error {
	values := map[string]any{
		KeySiteSecret:         c.SiteSecret,
		KeyBypassCode:         c.BypassCode,
		KeyHubURL:             c.HubURL,
		KeyClientEmail:        c.ClientEmail,
		KeyMaintenanceEnabled: c.MaintenanceEnabled,
		KeyDebugEnabled:       c.DebugEnabled,
	}
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		f[k] = b
	}
	return nil
}

func asString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// asBool follows the host's truthiness rules for stored flags.
func asBool(raw json.RawMessage) bool {
	if raw == nil {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "on", "yes":
			return true
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v != 0
		}
	}
	return false
}
