// Package config loads invoice-relay settings from a YAML file, a sibling
// <name>.local.yaml override and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLoginURL    = "https://www.mareon.com/login"
	DefaultInvoicesURL = "https://www.mareon.com/portal/rechnungen"
	DefaultUploadURL   = "https://api.buchhaltungsbutler.de/v1/documents"
)

// Config is the top-level configuration.
type Config struct {
	Portal     PortalConfig     `yaml:"portal"`
	Browser    BrowserConfig    `yaml:"browser"`
	Download   DownloadConfig   `yaml:"download"`
	Accounting AccountingConfig `yaml:"accounting"`
	Database   DatabaseConfig   `yaml:"database"`
	Control    ControlConfig    `yaml:"control"`
	Logging    LoggingConfig    `yaml:"logging"`
	Update     UpdateConfig     `yaml:"update"`
}

// PortalConfig locates the invoice portal pages.
type PortalConfig struct {
	LoginURL    string `yaml:"login_url"`
	InvoicesURL string `yaml:"invoices_url"`
	// LoginMarker is matched case-insensitively against the URL after
	// submitting credentials. A URL still containing it means the login failed.
	LoginMarker string `yaml:"login_marker"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	DownloadDir    string        `yaml:"download_dir"`
	ChromePath     string        `yaml:"chrome_path"`
	PageTimeout    time.Duration `yaml:"page_timeout"`
	ElementTimeout time.Duration `yaml:"element_timeout"`
	ContextTimeout time.Duration `yaml:"context_timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

// DownloadConfig controls download completion polling.
type DownloadConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// AccountingConfig points at the remote document upload endpoint.
type AccountingConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ControlConfig configures the HTTP dashboard and the gRPC control service.
type ControlConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCPort string `yaml:"grpc_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type UpdateConfig struct {
	Auto     bool          `yaml:"auto"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Portal: PortalConfig{
			LoginURL:    DefaultLoginURL,
			InvoicesURL: DefaultInvoicesURL,
			LoginMarker: "login",
		},
		Browser: BrowserConfig{
			Headless:       true,
			DownloadDir:    "downloads",
			PageTimeout:    30 * time.Second,
			ElementTimeout: 10 * time.Second,
			ContextTimeout: 5 * time.Second,
			SettleDelay:    2 * time.Second,
		},
		Download: DownloadConfig{
			Timeout:      30 * time.Second,
			PollInterval: 1 * time.Second,
		},
		Accounting: AccountingConfig{
			URL:     DefaultUploadURL,
			Timeout: 60 * time.Second,
		},
		Database: DatabaseConfig{Path: filepath.Join("data", "app.db")},
		Control: ControlConfig{
			HTTPAddr: ":8080",
			GRPCPort: "50051",
		},
		Logging: LoggingConfig{Level: "info"},
		Update:  UpdateConfig{Interval: time.Hour},
	}
}

// Load reads path over the defaults, then merges <name>.local.<ext> on top
// of it when present. A missing path is not an error: the defaults are used.
// CHROME_BIN overrides browser.chrome_path.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}

		local := localPath(path)
		data, err = os.ReadFile(local)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", local, err)
		}
		if len(data) > 0 {
			var override Config
			if err := yaml.Unmarshal(data, &override); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", local, err)
			}
			// zero values in the override never clear a value
			if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config %s: %w", local, err)
			}
		}
	}

	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		cfg.Browser.ChromePath = bin
	}

	return cfg, nil
}

func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Portal.LoginURL == "":
		return errors.New("portal.login_url is required")
	case c.Portal.InvoicesURL == "":
		return errors.New("portal.invoices_url is required")
	case c.Portal.LoginMarker == "":
		return errors.New("portal.login_marker is required")
	case c.Browser.DownloadDir == "":
		return errors.New("browser.download_dir is required")
	case c.Accounting.URL == "":
		return errors.New("accounting.url is required")
	case c.Database.Path == "":
		return errors.New("database.path is required")
	}

	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"browser.page_timeout", c.Browser.PageTimeout},
		{"browser.element_timeout", c.Browser.ElementTimeout},
		{"browser.context_timeout", c.Browser.ContextTimeout},
		{"download.timeout", c.Download.Timeout},
		{"download.poll_interval", c.Download.PollInterval},
		{"accounting.timeout", c.Accounting.Timeout},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.name, t.value)
		}
	}
	if c.Browser.SettleDelay < 0 {
		return fmt.Errorf("browser.settle_delay must not be negative, got %s", c.Browser.SettleDelay)
	}
	return nil
}
