package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/invoice-relay/butler"
	"github.com/invoice-relay/config"
	"github.com/invoice-relay/ingest"
	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/scrapers"
	"github.com/invoice-relay/server"
	"github.com/invoice-relay/store"
)

// App is the wired pipeline with its store and control surfaces.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Logger      *slog.Logger
	Broadcaster *logging.Broadcaster
	Coordinator *ingest.Coordinator

	logFile io.Closer
}

type AppOptions struct {
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
	// LogFile is appended to in addition to Stdout when set.
	LogFile string
}

// NewApp opens the database and wires every component from cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Store: st, Broadcaster: logging.NewBroadcaster()}

	logOpts := logging.Options{
		Level:   level,
		Output:  opts.Stdout,
		Sink:    st.Logs,
		OnEntry: app.Broadcaster.Publish,
	}
	if opts.LogFile != "" {
		f, err := logging.OpenFile(opts.LogFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		app.logFile = f
		logOpts.Extra = []io.Writer{f}
	}
	app.Logger = logging.New(logOpts)

	scraper := scrapers.NewPortalScraper(scraperConfig(cfg), app.Logger)
	watcher := ingest.NewWatcher(cfg.Browser.DownloadDir, cfg.Download.PollInterval, app.Logger)
	uploader := butler.New(butler.Options{
		URL:     cfg.Accounting.URL,
		Timeout: cfg.Accounting.Timeout,
		Logger:  app.Logger,
	})
	processor := ingest.NewProcessor(st.History, watcher, ingest.NewRouter(uploader, app.Logger), cfg.Download.Timeout, app.Logger)
	app.Coordinator = ingest.NewCoordinator(st.Accounts, scraper.Open, processor, watcher, app.Logger)

	return app, nil
}

func scraperConfig(cfg *config.Config) *scrapers.ScraperConfig {
	return &scrapers.ScraperConfig{
		LoginURL:       cfg.Portal.LoginURL,
		InvoicesURL:    cfg.Portal.InvoicesURL,
		LoginMarker:    cfg.Portal.LoginMarker,
		DownloadPath:   cfg.Browser.DownloadDir,
		Headless:       cfg.Browser.Headless,
		ChromePath:     cfg.Browser.ChromePath,
		PageTimeout:    cfg.Browser.PageTimeout,
		ElementTimeout: cfg.Browser.ElementTimeout,
		ContextTimeout: cfg.Browser.ContextTimeout,
		SettleDelay:    cfg.Browser.SettleDelay,
	}
}

// RunOnce performs a single run in the foreground.
func (a *App) RunOnce(ctx context.Context) (int, error) {
	return a.Coordinator.Run(ctx)
}

// Serve runs the dashboard and the gRPC control service until ctx is done
// or one of them fails. Background runs are waited for before returning.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lis, err := net.Listen("tcp", ":"+a.Config.Control.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", a.Config.Control.GRPCPort, err)
	}

	httpSrv := server.NewHTTPServer(ctx, a.Coordinator, a.Store.Accounts, a.Store.Logs, a.Broadcaster, a.Logger)
	grpcSrv := server.NewGRPCServer(ctx, a.Coordinator, a.Store.Logs, a.Logger)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	serve := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}()
	}
	serve(func() error { return server.RunHTTPServer(ctx, a.Config.Control.HTTPAddr, httpSrv, a.Logger) })
	serve(func() error { return server.RunGRPCServer(ctx, lis, grpcSrv, a.Logger) })

	wg.Wait()
	a.Coordinator.Wait()
	return errors.Join(errs...)
}

func (a *App) Close() error {
	err := a.Store.Close()
	if a.logFile != nil {
		err = errors.Join(err, a.logFile.Close())
	}
	return err
}

// resolveDir makes a relative directory relative to the executable, since
// a service's working directory is not the install directory.
func resolveDir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	exePath, err := os.Executable()
	if err != nil {
		return dir
	}
	return filepath.Join(filepath.Dir(exePath), dir)
}
