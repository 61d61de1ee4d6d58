package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync/atomic"
)

// Store holds the active configuration and swaps it atomically on reload.
type Store struct {
	path    string
	current atomic.Pointer[Config]
}

// NewStore wraps an already loaded configuration.
func NewStore(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.current.Store(cfg)
	return s
}

// Open loads the file at path. If it does not exist, the defaults are
// written there and used.
func Open(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := Write(path, cfg); err != nil {
			logger.Warn("could not write default configuration", "path", path, "error", err)
		} else {
			logger.Info("wrote default configuration", "path", path)
		}
	} else if err != nil {
		return nil, err
	}
	return NewStore(path, cfg), nil
}

// Path returns the file the store reloads from.
func (s *Store) Path() string {
	return s.path
}

// Current returns the active configuration. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload reads the file again. On any error the active configuration is kept.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return cfg, nil
}
