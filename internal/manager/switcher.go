package manager

import (
	"strings"
	"sync"
)

// Switcher holds the Manager that long-running servers dispatch to and lets
// the base directory be changed while they run.
type Switcher struct {
	mu    sync.RWMutex
	cfg   Config
	m     *Manager
	hooks []func(*Manager)
}

// NewSwitcher opens a Manager for cfg.
func NewSwitcher(cfg Config) (*Switcher, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Switcher{cfg: cfg, m: m}, nil
}

// Current returns the active Manager. Callers should fetch it once per
// request and use that value throughout.
func (s *Switcher) Current() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

// SetBaseDir replaces the active Manager with one rooted at dir. Requests
// already holding the previous Manager finish against the old tree.
func (s *Switcher) SetBaseDir(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, invalidf("Base directory must not be empty")
	}
	cfg := s.cfg
	cfg.BaseDir = dir
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.m = m
	hooks := append([]func(*Manager){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(m)
	}
	return m, nil
}

// OnSwitch registers fn to be called with the new Manager after every
// successful SetBaseDir. Hooks run synchronously on the caller's goroutine.
func (s *Switcher) OnSwitch(fn func(*Manager)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}
