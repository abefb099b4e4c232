package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	svc "github.com/kardianos/service"
)

// Commands lists the accepted -service values.
var Commands = []string{"install", "uninstall", "start", "stop", "restart", "status", "run"}

// Manager handles service management operations
type Manager struct {
	service svc.Service
	program *Program
}

// NewManager creates a new service manager
func NewManager(prg *Program) (*Manager, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	s, err := svc.New(prg, NewServiceConfig(exePath, buildServiceArgs(prg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return &Manager{service: s, program: prg}, nil
}

// buildServiceArgs pins the current settings into the installed command
// line. Paths are made absolute since the service starts elsewhere.
func buildServiceArgs(prg *Program) []string {
	args := []string{"-service=run"}

	if prg.ConfigPath != "" {
		args = append(args, "-config="+absPath(prg.ConfigPath))
	}
	args = append(args,
		"-download="+absPath(prg.Config.Browser.DownloadDir),
		"-headless="+strconv.FormatBool(prg.Config.Browser.Headless),
		"-auto-update="+strconv.FormatBool(prg.Config.Update.Auto),
	)
	if prg.Config.Update.Interval > 0 {
		args = append(args, "-update-interval="+prg.Config.Update.Interval.String())
	}
	if prg.Config.Logging.Level != "" {
		args = append(args, "-log-level="+prg.Config.Logging.Level)
	}

	return args
}

func absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Install installs the service
func (m *Manager) Install() error {
	return m.service.Install()
}

// Uninstall uninstalls the service
func (m *Manager) Uninstall() error {
	return m.service.Uninstall()
}

// Start starts the service
func (m *Manager) Start() error {
	return m.service.Start()
}

// Stop stops the service
func (m *Manager) Stop() error {
	return m.service.Stop()
}

// Run runs the service (called by SCM)
func (m *Manager) Run() error {
	return m.service.Run()
}

// Status returns the service status
func (m *Manager) Status() (svc.Status, error) {
	return m.service.Status()
}

// RunServiceCommand handles service management commands
func RunServiceCommand(cmd string, prg *Program, logger *slog.Logger) error {
	mgr, err := NewManager(prg)
	if err != nil {
		return err
	}

	switch cmd {
	case "install":
		if err := mgr.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		logger.Info("Service installed successfully", "name", ServiceName)
		logger.Info("To start the service, run: invoice-relay -service start")

	case "uninstall":
		_ = mgr.Stop()
		if err := mgr.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		logger.Info("Service uninstalled successfully")

	case "start":
		if err := mgr.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		logger.Info("Service started successfully")

	case "stop":
		if err := mgr.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		logger.Info("Service stopped successfully")

	case "restart":
		_ = mgr.Stop()
		if err := mgr.Start(); err != nil {
			return fmt.Errorf("failed to restart service: %w", err)
		}
		logger.Info("Service restarted successfully")

	case "status":
		status, err := mgr.Status()
		if err != nil {
			return fmt.Errorf("failed to get service status: %w", err)
		}
		logger.Info("Service status: " + statusText(status))

	case "run":
		return mgr.Run()

	default:
		return fmt.Errorf("unknown service command: %s (valid: install, uninstall, start, stop, restart, status, run)", cmd)
	}

	return nil
}

func statusText(status svc.Status) string {
	switch status {
	case svc.StatusRunning:
		return "Running"
	case svc.StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// NewInteractive wraps prg for a foreground run without installing anything.
func NewInteractive(prg *Program) (svc.Service, error) {
	s, err := svc.New(prg, NewServiceConfig("", nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}
