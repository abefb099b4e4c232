package updater

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Restarter restarts the installed service. kardianos service.Service
// satisfies it.
type Restarter interface {
	Restart() error
}

// RestartDelay lets in-flight requests finish before the restart.
var RestartDelay = 2 * time.Second

// RestartService schedules a restart through the service manager and
// returns immediately. done, if not nil, receives the restart error.
func RestartService(svc Restarter, logger *slog.Logger, done chan<- error) {
	logger.Info("Scheduling service restart...")
	go func() {
		time.Sleep(RestartDelay)
		err := svc.Restart()
		if err != nil {
			logger.Error("Failed to restart service", "error", err)
		}
		if done != nil {
			done <- err
		}
	}()
}

// RestartSelf starts a fresh copy of the current process with the same
// arguments and exits (for non-service mode).
func RestartSelf(logger *slog.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	logger.Info("Restarting application...")

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to restart: %w", err)
	}

	os.Exit(0)
	return nil
}
