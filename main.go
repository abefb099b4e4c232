package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/invoice-relay/config"
	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/server"
	"github.com/invoice-relay/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	once := flag.Bool("once", false, "Run all accounts once and exit")
	serviceCmd := flag.String("service", "", "Service command: "+strings.Join(service.Commands, ", "))
	ctlCmd := flag.String("ctl", "", "Control a running instance over gRPC: health, status, run, logs, clear-logs")
	ctlAddr := flag.String("ctl-addr", "", "gRPC address for -ctl (default localhost:<control.grpc_port>)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	headless := flag.Bool("headless", true, "Run Chrome headless")
	downloadPath := flag.String("download", "", "Download directory")
	autoUpdate := flag.Bool("auto-update", false, "Check GitHub releases and self-update")
	updateInterval := flag.Duration("update-interval", time.Hour, "Interval between update checks")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(server.Version)
		return
	}

	logger := logging.New(logging.Options{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "headless":
			cfg.Browser.Headless = *headless
		case "download":
			cfg.Browser.DownloadDir = *downloadPath
		case "auto-update":
			cfg.Update.Auto = *autoUpdate
		case "update-interval":
			cfg.Update.Interval = *updateInterval
		}
	})

	switch {
	case *ctlCmd != "":
		addr := *ctlAddr
		if addr == "" {
			addr = "localhost:" + cfg.Control.GRPCPort
		}
		if err := runCtl(addr, *ctlCmd); err != nil {
			logger.Error("Control command failed", "command", *ctlCmd, "error", err)
			os.Exit(1)
		}

	case *serviceCmd != "":
		prg := &service.Program{
			Config:     cfg,
			Version:    server.Version,
			ConfigPath: *configPath,
			Logger:     logger,
		}
		if err := service.RunServiceCommand(*serviceCmd, prg, logger); err != nil {
			logger.Error("Service command failed", "command", *serviceCmd, "error", err)
			os.Exit(1)
		}

	case *once:
		if err := runOnce(cfg); err != nil {
			logger.Error("Run failed", "error", err)
			os.Exit(1)
		}

	default:
		if err := serve(cfg, logger); err != nil {
			logger.Error("Server stopped", "error", err)
			os.Exit(1)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOnce(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	app, err := service.NewApp(ctx, cfg, service.AppOptions{LogFile: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.RunOnce(ctx)
	app.Logger.Info("Run finished", "processed", n)
	return err
}

// serve runs the dashboard in the foreground through the same Program the
// service manager uses.
func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext()
	defer stop()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	prg := &service.Program{Config: cfg, Version: server.Version, Logger: logger}
	s, err := service.NewInteractive(prg)
	if err != nil {
		return err
	}
	if err := prg.Start(s); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("Shutting down...")
	return prg.Stop(s)
}

func runCtl(addr, cmd string) error {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer cc.Close()

	client := server.NewControlClient(cc)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd {
	case "health":
		res, err := client.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("healthy=%v version=%s\n", res.GetFields()["healthy"].GetBoolValue(), res.GetFields()["version"].GetStringValue())

	case "status":
		running, err := client.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("running=%v\n", running)

	case "run":
		res, err := client.StartRun(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.GetFields()["status"].GetStringValue(), res.GetFields()["message"].GetStringValue())

	case "logs":
		entries, err := client.RecentLogs(ctx, 0)
		if err != nil {
			return err
		}
		// oldest first, like a terminal log
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
		}

	case "clear-logs":
		if err := client.ClearLogs(ctx); err != nil {
			return err
		}
		fmt.Println("logs cleared")

	default:
		return fmt.Errorf("unknown control command: %s", cmd)
	}
	return nil
}
