package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kardianos/service"

	"github.com/invoice-relay/config"
	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/updater"
)

// Program implements service.Interface: it serves the control surfaces
// until the service manager stops it.
type Program struct {
	Config  *config.Config
	Version string
	// ConfigPath is passed back to the service on install.
	ConfigPath string
	// Logger is used until the App's logger exists.
	Logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	svc     service.Service
	app     *App
	updater *updater.Updater
}

// Start is called when the service starts
func (p *Program) Start(s service.Service) error {
	p.svc = s
	if p.Logger == nil {
		p.Logger = logging.New(logging.Options{})
	}

	if svcLogger, err := s.Logger(nil); err == nil {
		_ = svcLogger.Info("Service starting...")
	}

	if !service.Interactive() {
		// a service's working directory is not the install directory
		p.Config.Browser.DownloadDir = resolveDir(p.Config.Browser.DownloadDir)
		p.Config.Database.Path = resolveDir(p.Config.Database.Path)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop is called when the service stops
func (p *Program) Stop(s service.Service) error {
	p.cancel()
	p.wg.Wait()
	p.Logger.Info("Control surfaces stopped")
	if p.app != nil {
		if err := p.app.Close(); err != nil {
			p.Logger.Error("Failed to close app", "error", err)
		}
	}
	p.Logger.Info("Service stopped")
	return nil
}

func (p *Program) run() {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("run() panic recovered", "panic", r)
		}
	}()

	opts := AppOptions{LogFile: p.Config.Logging.File}
	if opts.LogFile == "" && !service.Interactive() {
		if path, err := logging.DefaultFile(); err == nil {
			opts.LogFile = path
		}
	}

	app, err := NewApp(p.ctx, p.Config, opts)
	if err != nil {
		p.Logger.Error("Failed to start", "error", err)
		return
	}
	p.app = app
	p.Logger = app.Logger
	p.Logger.Info("Service started", "version", p.Version, "http", p.Config.Control.HTTPAddr, "grpc_port", p.Config.Control.GRPCPort)

	if p.Config.Update.Auto {
		p.startAutoUpdate()
	}

	if err := app.Serve(p.ctx); err != nil {
		p.Logger.Error("Control server stopped", "error", err)
	}
}

// startAutoUpdate checks once at startup and then periodically. An applied
// update restarts the service, or the process when running interactively.
func (p *Program) startAutoUpdate() {
	cfg := updater.DefaultConfig(p.Version)
	if p.Config.Update.Interval > 0 {
		cfg.CheckInterval = p.Config.Update.Interval
	}
	p.updater = updater.New(cfg, p.Logger)

	restart := func() {
		if p.app != nil && p.app.Coordinator.Running() {
			p.Logger.Info("Update applied, restart waits for the current run")
			p.app.Coordinator.Wait()
		}
		if service.Interactive() || p.svc == nil {
			if err := updater.RestartSelf(p.Logger); err != nil {
				p.Logger.Error("Failed to restart", "error", err)
			}
			return
		}
		updater.RestartService(p.svc, p.Logger, nil)
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Logger.Error("Auto-update startup check panic recovered", "panic", r)
			}
		}()
		updated, err := p.updater.CheckAndUpdate(p.ctx)
		if err != nil {
			p.Logger.Error("Startup update check failed", "error", err)
			p.updater.StartPeriodicCheck(p.ctx, restart)
			return
		}
		if updated {
			restart()
			return
		}
		p.updater.StartPeriodicCheck(p.ctx, restart)
	}()
}

