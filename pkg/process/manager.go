// Package process provides process management utilities
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/taskmesh/taskmesh/pkg/logger"
)

// Manager handles process lifecycle and signals
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
	}
}

// RegisterShutdownHandler adds a shutdown handler
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start starts the process manager with the given context. The context
// controls the lifetime of the manager.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case <-ctx.Done():
			m.handleShutdown()
		case sig := <-sigChan:
			if m.logger != nil {
				m.logger.Info("Received signal", logger.WithField("signal", sig))
			}
			m.handleShutdown()
		}
	}()
}

// Stop stops the process manager
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning reports whether the manager is active
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Private methods

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.running = false
	m.mu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
