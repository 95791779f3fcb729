package engine

import (
	"github.com/dshills/luaweave/internal/boot"
	"github.com/dshills/luaweave/internal/config"
	"github.com/dshills/luaweave/internal/logging"
)

// ConfigReloadService watches the engine's configuration file and
// applies the log level when the file changes. It runs as a default
// lifecycle service; hosts may override the role with their own
// implementation.
type ConfigReloadService struct {
	path    string
	log     *logging.Logger
	watcher *config.Watcher
}

var _ boot.Service = (*ConfigReloadService)(nil)

// NewConfigReloadService creates a reload service for the file at path.
// Level changes are applied to log.
func NewConfigReloadService(path string, log *logging.Logger) *ConfigReloadService {
	if log == nil {
		log = logging.Null
	}
	return &ConfigReloadService{path: path, log: log}
}

func (s *ConfigReloadService) Prepare() error {
	return nil
}

// Boot starts the file watcher.
func (s *ConfigReloadService) Boot() error {
	w, err := config.NewWatcher(s.path, s.reload)
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

func (s *ConfigReloadService) OnComplete() error {
	return nil
}

// Shutdown stops the watcher.
func (s *ConfigReloadService) Shutdown() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func (s *ConfigReloadService) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		s.log.Warn("config reload from %s failed: %v", path, err)
		return
	}
	lvl := logging.ParseLevel(cfg.Logging.Level)
	if lvl != s.log.Level() {
		s.log.SetLevel(lvl)
		s.log.Info("log level changed to %s", lvl)
	}
}
