package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view never pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by operators at runtime.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet returns a set with the listed modules paused.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]bool)}
	for _, module := range modules {
		set.Set(module, true)
	}
	return set
}

// Set pauses or resumes a module.
func (s *PauseSet) Set(module string, paused bool) {
	name := strings.ToLower(strings.TrimSpace(module))
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[name] = true
		return
	}
	delete(s.paused, name)
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}
