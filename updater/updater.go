// Package updater replaces the running binary with the latest GitHub
// release.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// Updater handles checking for and applying updates
type Updater struct {
	config *Config
	logger *slog.Logger
}

func New(config *Config, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		config: config,
		logger: logger.With("component", "updater"),
	}
}

func (u *Updater) newSelfUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	return updater, nil
}

// CheckForUpdate reports the latest release and whether it is newer than
// the running version.
func (u *Updater) CheckForUpdate(ctx context.Context) (*selfupdate.Release, bool, error) {
	u.logger.Debug("Checking for updates", "current", u.config.CurrentVersion)

	updater, err := u.newSelfUpdater()
	if err != nil {
		return nil, false, err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(u.config.slug()))
	if err != nil {
		return nil, false, fmt.Errorf("failed to detect latest version: %w", err)
	}
	if !found {
		u.logger.Info("No release found", "os", runtime.GOOS, "arch", runtime.GOARCH)
		return nil, false, nil
	}

	if latest.LessOrEqual(u.config.normalizedVersion()) {
		u.logger.Debug("Current version is up to date", "current", u.config.CurrentVersion)
		return latest, false, nil
	}

	u.logger.Info("New version available", "latest", latest.Version(), "current", u.config.CurrentVersion)
	return latest, true, nil
}

// Update downloads release and replaces the running executable.
func (u *Updater) Update(ctx context.Context, release *selfupdate.Release) error {
	u.logger.Info("Downloading update", "version", release.Version())

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	updater, err := u.newSelfUpdater()
	if err != nil {
		return err
	}
	if err := updater.UpdateTo(ctx, release, exe); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	u.logger.Info("Successfully updated", "version", release.Version())
	return nil
}

// CheckAndUpdate applies the latest release if it is newer.
func (u *Updater) CheckAndUpdate(ctx context.Context) (bool, error) {
	release, needsUpdate, err := u.CheckForUpdate(ctx)
	if err != nil || !needsUpdate {
		return false, err
	}
	if err := u.Update(ctx, release); err != nil {
		return false, err
	}
	return true, nil
}

// StartPeriodicCheck checks every CheckInterval after StartupDelay and calls
// onUpdated once an update has been applied.
func (u *Updater) StartPeriodicCheck(ctx context.Context, onUpdated func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				u.logger.Error("Periodic update check panic recovered", "panic", r)
			}
		}()

		select {
		case <-time.After(StartupDelay):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(u.config.CheckInterval)
		defer ticker.Stop()

		for {
			updated, err := u.CheckAndUpdate(ctx)
			if err != nil {
				u.logger.Error("Update check failed", "error", err)
			} else if updated && onUpdated != nil {
				onUpdated()
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				u.logger.Debug("Periodic update check stopped")
				return
			}
		}
	}()
}
