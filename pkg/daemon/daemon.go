// Package daemon provides background daemon functionality
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/taskmesh/taskmesh/internal/engine"
	"github.com/taskmesh/taskmesh/pkg/config"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/process"
	"github.com/taskmesh/taskmesh/pkg/types"
)

var (
	// ErrDaemonAlreadyRunning indicates a live daemon holds the PID file
	ErrDaemonAlreadyRunning = errors.New("daemon is already running")
	// ErrDaemonNotRunning indicates no daemon is running
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// Manager manages the Taskmesh daemon
type Manager struct {
	projectRoot    string
	configPath     string
	pidFile        string
	logFile        string
	stateDir       string
	logger         logger.Logger
	processManager *process.Manager
	taskmesh       *engine.Taskmesh
	mu             sync.RWMutex
}

// Config represents daemon configuration
type Config struct {
	ProjectRoot string
	ConfigPath  string
	LogFile     string
	LogLevel    string
}

// Status describes a running daemon
type Status struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

// NewManager creates a new daemon manager
func NewManager(cfg Config) *Manager {
	stateDir := filepath.Join(cfg.ProjectRoot, ".taskmesh")
	pidFile := filepath.Join(stateDir, "daemon.pid")

	log := logger.CreateLogger(cfg.LogFile, cfg.LogLevel)

	return &Manager{
		projectRoot:    cfg.ProjectRoot,
		configPath:     cfg.ConfigPath,
		pidFile:        pidFile,
		logFile:        cfg.LogFile,
		stateDir:       stateDir,
		logger:         log,
		processManager: process.NewManager(log),
	}
}

// StartWithContext starts the daemon with the given context
func (m *Manager) StartWithContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning() {
		return ErrDaemonAlreadyRunning
	}

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := m.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	cfg, err := m.loadConfig()
	if err != nil {
		m.removePIDFile()
		return fmt.Errorf("failed to load config: %w", err)
	}

	factory := engine.NewDependencyFactory(m.projectRoot, m.logger, cfg)
	deps, err := factory.CreateDefaults()
	if err != nil {
		m.removePIDFile()
		return fmt.Errorf("failed to create dependencies: %w", err)
	}
	deps.ProcessManager = m.processManager

	m.taskmesh = engine.New(cfg, m.projectRoot, m.logger, deps, m.configPath)

	m.processManager.RegisterShutdownHandler(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.StopWithContext(shutdownCtx)
	})

	if err := m.taskmesh.StartWithContext(ctx); err != nil {
		m.removePIDFile()
		return fmt.Errorf("failed to start taskmesh: %w", err)
	}

	m.logger.Info("Daemon started successfully")

	return nil
}

// Start starts the daemon
func (m *Manager) Start() error {
	return m.StartWithContext(context.Background())
}

// Run starts the daemon and blocks until the run completes
func (m *Manager) Run(ctx context.Context) error {
	if err := m.StartWithContext(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	tm := m.taskmesh
	m.mu.RUnlock()

	err := tm.Wait()
	m.mu.Lock()
	m.removePIDFile()
	m.mu.Unlock()
	return err
}

// StopWithContext stops the daemon with the given context for timeout control
func (m *Manager) StopWithContext(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning() {
		return ErrDaemonNotRunning
	}

	m.logger.Info("Stopping daemon...")

	if m.taskmesh != nil {
		if err := m.taskmesh.StopWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("Engine did not stop cleanly", logger.WithField("error", err))
		}
	}

	m.processManager.Stop()
	m.removePIDFile()

	m.logger.Info("Daemon stopped")

	return nil
}

// Stop stops the daemon
func (m *Manager) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.StopWithContext(ctx)
}

// Restart restarts the daemon
func (m *Manager) Restart() error {
	if err := m.Stop(); err != nil {
		if !errors.Is(err, ErrDaemonNotRunning) {
			return err
		}
	}

	time.Sleep(2 * time.Second)

	return m.Start()
}

// Status returns the daemon status
func (m *Manager) Status() (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.isRunning() {
		return &Status{Running: false}, nil
	}

	status := &Status{Running: true}
	if pid, err := m.readPIDFile(); err == nil {
		status.PID = pid
	}
	return status, nil
}

// Engine returns the running engine, or nil before Start
func (m *Manager) Engine() *engine.Taskmesh {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskmesh
}

// IsRunning checks if the daemon is running
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning()
}

// Private methods

func (m *Manager) loadConfig() (*types.TaskmeshConfig, error) {
	mgr := config.NewManager()
	if m.configPath == "" {
		cfg := mgr.GetDefaultConfig()
		return cfg, nil
	}
	return mgr.LoadConfig(m.configPath)
}

func (m *Manager) isRunning() bool {
	pid, err := m.readPIDFile()
	if err != nil {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(m.pidFile, []byte(fmt.Sprintf("%d", pid)), 0644)
}

func (m *Manager) readPIDFile() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}

	return pid, nil
}

func (m *Manager) removePIDFile() {
	os.Remove(m.pidFile)
}
