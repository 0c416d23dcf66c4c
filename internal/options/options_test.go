// ABOUTME: Tests for the typed option record and bounded journals
// ABOUTME: Covers defaults, lenient decoding, unknown-key preservation, and trimming

package options

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mrwp-agent/internal/store"
)

func TestLoad_MissingRecordYieldsDefaults(t *testing.T) {
	repo := NewRepository(store.NewMemoryStore())

	cfg, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AgentConfig{}, cfg)
}

func TestLoad_LenientDecoding(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, Namespace, []byte(`{
		"site_secret": "abc",
		"bypass_code": 12345,
		"maintenance_enabled": "1",
		"debug_enabled": 0,
		"hub_url": null
	}`)))

	cfg, err := NewRepository(s).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.SiteSecret)
	assert.Equal(t, "12345", cfg.BypassCode)
	assert.True(t, cfg.MaintenanceEnabled)
	assert.False(t, cfg.DebugEnabled)
	assert.Empty(t, cfg.HubURL)
}

func TestLoad_CorruptRecordYieldsDefaults(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, Namespace, []byte(`not json`)))

	cfg, err := NewRepository(s).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, AgentConfig{}, cfg)
}

func TestUpdate_PreservesUnknownKeys(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, Namespace, []byte(`{"theme_color":"#667eea","hub_url":"https://hub.example"}`)))

	repo := NewRepository(s)
	cfg, err := repo.Update(ctx, func(c *AgentConfig) error {
		c.MaintenanceEnabled = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cfg.MaintenanceEnabled)
	assert.Equal(t, "https://hub.example", cfg.HubURL)

	raw, err := s.Get(ctx, Namespace)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "#667eea", fields["theme_color"])
	assert.Equal(t, true, fields["maintenance_enabled"])
}

func TestUpdate_ErrorLeavesRecordUntouched(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	repo := NewRepository(s)

	_, err := repo.Update(ctx, func(c *AgentConfig) error {
		c.DebugEnabled = true
		return nil
	})
	require.NoError(t, err)

	sentinel := errors.New("rejected")
	_, err = repo.Update(ctx, func(c *AgentConfig) error {
		c.DebugEnabled = false
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	cfg, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.DebugEnabled)
}

type entry struct {
	N int `json:"n"`
}

func TestJournal_BoundedAndOrdered(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	j := NewJournal[entry](s, "test_log", 3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Append(ctx, entry{N: i}))
	}

	all, err := j.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entry{{3}, {4}, {5}}, all)

	recent, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []entry{{5}, {4}}, recent)

	require.NoError(t, j.Clear(ctx))
	all, err = j.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJournal_CorruptDataStartsOver(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "test_log", []byte(`{"oops":true}`)))

	j := NewJournal[entry](s, "test_log", 10)
	require.NoError(t, j.Append(ctx, entry{N: 1}))

	all, err := j.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entry{{1}}, all)
}
