package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func newWatchedConfig(t *testing.T, body string) (string, *Loader, *Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrt.yaml")
	writeConfig(t, path, body, time.Now().Add(-time.Hour))

	loader := NewLoader().WithConfigPath(path).WithEnvPrefix("AGENTRT_WATCH_TEST")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return path, loader, cfg
}

// --- Check ---

func TestWatcher_CheckWithoutChange(t *testing.T) {
	_, loader, cfg := newWatchedConfig(t, "log:\n  level: info\n")
	w := NewWatcher(loader, cfg)

	reloaded, err := w.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
	assert.Same(t, cfg, w.Current())
}

func TestWatcher_CheckReloadsAndNotifies(t *testing.T) {
	path, loader, cfg := newWatchedConfig(t, "log:\n  level: info\n")
	w := NewWatcher(loader, cfg)

	var gotOld, gotNew *Config
	w.OnReload(func(old, updated *Config) {
		gotOld, gotNew = old, updated
	})

	writeConfig(t, path, "log:\n  level: debug\n", time.Now())

	reloaded, err := w.Check()
	require.NoError(t, err)
	require.True(t, reloaded)

	require.NotNil(t, gotNew)
	assert.Same(t, cfg, gotOld)
	assert.Equal(t, "debug", gotNew.Log.Level)
	assert.Equal(t, "debug", w.Current().Log.Level)

	// 同一修改时间不会重复加载
	reloaded, err = w.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	path, loader, cfg := newWatchedConfig(t, "scheduler:\n  max_concurrent: 2\n")
	loader.WithValidator((*Config).Validate)
	w := NewWatcher(loader, cfg)

	called := false
	w.OnReload(func(_, _ *Config) { called = true })

	writeConfig(t, path, "scheduler:\n  max_concurrent: -1\n", time.Now())

	reloaded, err := w.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.max_concurrent must be positive")
	assert.False(t, reloaded)
	assert.False(t, called)
	assert.Equal(t, 2, w.Current().Scheduler.MaxConcurrent)
}

func TestWatcher_MissingFileIsIgnored(t *testing.T) {
	loader := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
	w := NewWatcher(loader, DefaultConfig())

	reloaded, err := w.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

// --- Start / Stop ---

func TestWatcher_PollLoopPicksUpChanges(t *testing.T) {
	path, loader, cfg := newWatchedConfig(t, "log:\n  level: info\n")
	w := NewWatcher(loader, cfg, WithPollInterval(10*time.Millisecond), WithWatcherLogger(zap.NewNop()))

	var (
		mu     sync.Mutex
		levels []string
	)
	w.OnReload(func(_, updated *Config) {
		mu.Lock()
		levels = append(levels, updated.Log.Level)
		mu.Unlock()
	})

	require.NoError(t, w.Start(context.Background()))
	require.Error(t, w.Start(context.Background()), "second start fails")

	writeConfig(t, path, "log:\n  level: warn\n", time.Now())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) == 1 && levels[0] == "warn"
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestWatcher_StartWithoutPath(t *testing.T) {
	w := NewWatcher(NewLoader(), DefaultConfig())
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config path")
}

// --- RestartRequired ---

func TestRestartRequired(t *testing.T) {
	old := DefaultConfig()
	updated := DefaultConfig()
	assert.Empty(t, RestartRequired(old, updated))

	updated.Log.Level = "debug"
	assert.Empty(t, RestartRequired(old, updated), "log level applies live")

	updated.Scheduler.MaxConcurrent = 3
	updated.Agents = []AgentSpec{{ID: "a", Type: "t"}}
	updated.Log.Format = "console"
	assert.Equal(t, []string{"scheduler", "agents", "log.format"}, RestartRequired(old, updated))

	assert.Nil(t, RestartRequired(nil, updated))
}

func TestWatcher_ErrorFromLoaderIsWrapped(t *testing.T) {
	path, loader, cfg := newWatchedConfig(t, "log:\n  level: info\n")
	sentinel := errors.New("rejected")
	loader.WithValidator(func(*Config) error { return sentinel })
	w := NewWatcher(loader, cfg)

	writeConfig(t, path, "log:\n  level: debug\n", time.Now())
	_, err := w.Check()
	assert.ErrorIs(t, err, sentinel)
}
