// Package lifecycle closes long-lived resources in reverse order of acquisition.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources last-in first-out. It is safe for concurrent use
// and closes each resource at most once.
type Manager struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager returns an empty manager that reports close failures to logger.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a resource. Registering after Close closes the resource immediately.
func (m *Manager) Register(name string, closer io.Closer) {
	if closer == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.closeOne(resource{name: name, closer: closer})
		return
	}
	m.resources = append(m.resources, resource{name: name, closer: closer})
	m.mu.Unlock()
}

// RegisterFunc registers fn as a resource.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every resource, newest first, and joins their errors.
func (m *Manager) Close() error {
	m.mu.Lock()
	resources := m.resources
	m.resources = nil
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := m.closeOne(resources[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) closeOne(res resource) error {
	if err := res.closer.Close(); err != nil {
		m.logger.Error().Err(err).Str("resource", res.name).Msg("lifecycle.close_failed")
		return fmt.Errorf("close %s: %w", res.name, err)
	}
	m.logger.Debug().Str("resource", res.name).Msg("lifecycle.closed")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
