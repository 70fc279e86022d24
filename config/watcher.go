// 配置文件变更监听器实现。
//
// 以轮询方式检测配置文件修改，重新加载后回调。
package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc 配置重载回调，old 与 updated 均为完整配置
type ReloadFunc func(old, updated *Config)

// Watcher watches a configuration file and reloads it when it changes.
type Watcher struct {
	mu sync.Mutex

	loader       *Loader
	path         string
	pollInterval time.Duration

	current   *Config
	lastMod   time.Time
	callbacks []ReloadFunc

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger *zap.Logger
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file is checked
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher 创建监听器，loader 决定重载时的路径、环境变量前缀与校验器
// current 为当前生效的配置。
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:       loader,
		path:         loader.configPath,
		pollInterval: time.Second,
		current:      current,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", w.path))
	}
	return w
}

// OnReload registers a callback invoked after a successful reload.
func (w *Watcher) OnReload(cb ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the configuration currently in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins polling. ctx 取消或 Stop 时退出。
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.path == "" {
		return fmt.Errorf("no config path to watch")
	}
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	pollCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.pollLoop(pollCtx, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops polling and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("config watcher stopped")
}

func (w *Watcher) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				w.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
			}
		}
	}
}

// Check 检查一次文件修改时间，变化时重新加载并回调
// 返回是否发生了重载。加载或校验失败时保留原配置。
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", w.path, err)
	}

	w.mu.Lock()
	if !info.ModTime().After(w.lastMod) {
		w.mu.Unlock()
		return false, nil
	}
	w.lastMod = info.ModTime()
	w.mu.Unlock()

	updated, err := w.loader.Load()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(old, updated)
	}
	return true, nil
}

// RestartRequired 返回两份配置间发生变化、且只能在重启后生效的配置段
// 日志级别可以在线调整，不在此列。
func RestartRequired(old, updated *Config) []string {
	if old == nil || updated == nil {
		return nil
	}

	sections := []struct {
		name string
		a, b any
	}{
		{"scheduler", old.Scheduler, updated.Scheduler},
		{"mailbox", old.Mailbox, updated.Mailbox},
		{"agent", old.Agent, updated.Agent},
		{"agents", old.Agents, updated.Agents},
		{"server", old.Server, updated.Server},
		{"telemetry", old.Telemetry, updated.Telemetry},
		{"log.format", old.Log.Format, updated.Log.Format},
		{"log.output_paths", old.Log.OutputPaths, updated.Log.OutputPaths},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
