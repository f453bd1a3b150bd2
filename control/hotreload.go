// control/hotreload.go
// Manages hot-reload hooks for config changes.
// TriggerSync re-reads the file and notifies hooks synchronously for test determinism.

package control

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-nat/internal/logger"
)

// Reloader holds the current configuration and re-applies it when the
// config file changes.
type Reloader struct {
	v       *viper.Viper
	current atomic.Pointer[Config]

	mu    sync.Mutex
	hooks []func(*Config)
	watch sync.Once
}

// NewReloader loads the initial configuration from path.
func NewReloader(path string) (*Reloader, error) {
	v := newViper(path)
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	r := &Reloader{v: v}
	r.current.Store(cfg)
	return r, nil
}

// Config returns the active configuration.
func (r *Reloader) Config() *Config { return r.current.Load() }

// RegisterReloadHook adds a listener called with every accepted configuration.
func (r *Reloader) RegisterReloadHook(fn func(*Config)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Watch starts following the config file through fsnotify. Without a
// config file it does nothing.
func (r *Reloader) Watch() {
	if r.v.ConfigFileUsed() == "" {
		return
	}
	r.watch.Do(func() {
		r.v.OnConfigChange(r.onChange)
		r.v.WatchConfig()
	})
}

func (r *Reloader) onChange(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	logger.Info("config file changed", "file", e.Name)
	// viper has already re-read the file
	if err := r.apply(); err != nil {
		logger.Warn("config reload rejected", logger.KeyError, err)
	}
}

// TriggerSync re-reads the config file and invokes all hooks before returning.
func (r *Reloader) TriggerSync() error {
	if _, err := readConfigFile(r.v); err != nil {
		return err
	}
	return r.apply()
}

// apply keeps the previous configuration when the new one is invalid.
func (r *Reloader) apply() error {
	cfg, err := decode(r.v)
	if err != nil {
		return err
	}
	r.current.Store(cfg)

	r.mu.Lock()
	hooks := append(([]func(*Config))(nil), r.hooks...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
	return nil
}
