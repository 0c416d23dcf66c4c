// ABOUTME: Liveness identity and full status aggregation for the control API
// ABOUTME: Update counts come from a HostInfo collaborator such as FileHost

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/2389/mrwp-agent/internal/options"
)

// Updates holds pending update counts reported by the host.
type Updates struct {
	Core        int    `json:"core"`
	Plugins     int    `json:"plugins"`
	Themes      int    `json:"themes"`
	HostVersion string `json:"host_version"`
}

// HostInfo supplies host-side facts the agent cannot compute itself.
type HostInfo interface {
	Updates(ctx context.Context) (Updates, error)
}

// FileHost reads Updates from a JSON file. A missing file means nothing is
// pending; a malformed one is an error.
type FileHost struct {
	Path string
}

// Updates implements HostInfo.
func (f FileHost) Updates(context.Context) (Updates, error) {
	if f.Path == "" {
		return Updates{}, nil
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Updates{}, nil
	}
	if err != nil {
		return Updates{}, fmt.Errorf("reading host info: %w", err)
	}
	var u Updates
	if err := json.Unmarshal(data, &u); err != nil {
		return Updates{}, fmt.Errorf("parsing host info %s: %w", f.Path, err)
	}
	if u.Core > 1 {
		u.Core = 1
	}
	return u, nil
}

// Linker derives the bypass link for a code.
type Linker interface {
	LinkFor(code string) string
}

// Site identifies this installation.
type Site struct {
	Name         string
	URL          string
	AgentVersion string
}

// PingInfo answers the liveness check.
type PingInfo struct {
	OK      bool   `json:"ok"`
	Site    string `json:"site"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Report is the full status document.
type Report struct {
	SiteName           string `json:"site_name"`
	HomeURL            string `json:"home_url"`
	HostVersion        string `json:"host_version"`
	RuntimeVersion     string `json:"runtime_version"`
	AgentVersion       string `json:"agent_version"`
	CoreUpdatesCount   int    `json:"core_updates_count"`
	PluginUpdatesCount int    `json:"plugin_updates_count"`
	ThemeUpdatesCount  int    `json:"theme_updates_count"`
	MaintenanceEnabled bool   `json:"maintenance_enabled"`
	DebugEnabled       bool   `json:"debug_enabled"`
	BypassLink         string `json:"bypass_link"`
	LastSyncedAt       int64  `json:"last_synced_at"`
}

// Reporter builds PingInfo and Report values.
type Reporter struct {
	repo  *options.Repository
	links Linker
	host  HostInfo
	site  Site
	now   func() time.Time
}

// NewReporter creates a Reporter. host may be nil.
func NewReporter(repo *options.Repository, links Linker, host HostInfo, site Site) *Reporter {
	if host == nil {
		host = FileHost{}
	}
	return &Reporter{repo: repo, links: links, host: host, site: site, now: time.Now}
}

// Ping returns the static identity.
func (r *Reporter) Ping() PingInfo {
	return PingInfo{OK: true, Site: r.site.URL, Name: r.site.Name, Version: r.site.AgentVersion}
}

// Status aggregates the current state.
func (r *Reporter) Status(ctx context.Context) (Report, error) {
	cfg, err := r.repo.Load(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("loading options: %w", err)
	}
	updates, err := r.host.Updates(ctx)
	if err != nil {
		return Report{}, err
	}

	return Report{
		SiteName:           r.site.Name,
		HomeURL:            r.site.URL,
		HostVersion:        updates.HostVersion,
		RuntimeVersion:     runtime.Version(),
		AgentVersion:       r.site.AgentVersion,
		CoreUpdatesCount:   updates.Core,
		PluginUpdatesCount: updates.Plugins,
		ThemeUpdatesCount:  updates.Themes,
		MaintenanceEnabled: cfg.MaintenanceEnabled,
		DebugEnabled:       cfg.DebugEnabled,
		BypassLink:         r.links.LinkFor(cfg.BypassCode),
		LastSyncedAt:       r.now().Unix(),
	}, nil
}
