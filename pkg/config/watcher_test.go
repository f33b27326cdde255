package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	dir := t.TempDir()
	writeConfigFile(t, dir, `
collector:
  channels:
    - Security
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	return NewProvider(cfg), dir
}

func TestProviderCurrent(t *testing.T) {
	p, _ := newTestProvider(t)

	cfg := p.Current()
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"Security"}, cfg.Collector.Channels)

	// Same snapshot until a reload happens.
	assert.Same(t, cfg, p.Current())
}

func TestProviderReloadSwapsSnapshot(t *testing.T) {
	p, dir := newTestProvider(t)
	before := p.Current()

	writeConfigFile(t, dir, `
collector:
  channels:
    - Security
    - System
`)
	p.reload()

	after := p.Current()
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"Security", "System"}, after.Collector.Channels)
}

func TestProviderReloadKeepsSnapshotOnInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "broken yaml",
			content: "collector:\n  channels: [unclosed",
		},
		{
			name: "fails validation",
			content: `
collector:
  queue_size: 100000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, dir := newTestProvider(t)
			before := p.Current()

			writeConfigFile(t, dir, tt.content)
			p.reload()

			assert.Same(t, before, p.Current())
		})
	}
}

func TestProviderWatchPicksUpFileChanges(t *testing.T) {
	p, dir := newTestProvider(t)
	before := p.Current()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	writeConfigFile(t, dir, `
collector:
  channels:
    - Security
    - Application
`)

	require.Eventually(t, func() bool {
		return p.Current() != before
	}, 5*time.Second, 50*time.Millisecond, "watcher should reload the snapshot")

	assert.Equal(t, []string{"Security", "Application"}, p.Current().Collector.Channels)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
}
