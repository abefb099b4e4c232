package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultLoginURL, cfg.Portal.LoginURL)
	assert.Equal(t, DefaultInvoicesURL, cfg.Portal.InvoicesURL)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 10*time.Second, cfg.Browser.ElementTimeout)
	assert.Equal(t, 5*time.Second, cfg.Browser.ContextTimeout)
	assert.Equal(t, 30*time.Second, cfg.Download.Timeout)
	assert.Equal(t, time.Second, cfg.Download.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Accounting.Timeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CHROME_BIN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndLocalOverride(t *testing.T) {
	t.Setenv("CHROME_BIN", "")
	dir := t.TempDir()

	base := `
browser:
  headless: false
  download_dir: /var/lib/relay/downloads
download:
  timeout: 45s
control:
  http_addr: 127.0.0.1:9000
`
	local := `
download:
  poll_interval: 250ms
database:
  path: /tmp/relay.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.yaml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.local.yaml"), []byte(local), 0o644))

	cfg, err := Load(filepath.Join(dir, "relay.yaml"))
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/var/lib/relay/downloads", cfg.Browser.DownloadDir)
	assert.Equal(t, 45*time.Second, cfg.Download.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.PollInterval)
	assert.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:9000", cfg.Control.HTTPAddr)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultUploadURL, cfg.Accounting.URL)
	assert.Equal(t, 10*time.Second, cfg.Browser.ElementTimeout)
}

func TestLoadChromeBinFromEnv(t *testing.T) {
	t.Setenv("CHROME_BIN", "/usr/bin/chromium")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ChromePath)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty login url":     func(c *Config) { c.Portal.LoginURL = "" },
		"empty marker":        func(c *Config) { c.Portal.LoginMarker = "" },
		"zero download wait":  func(c *Config) { c.Download.Timeout = 0 },
		"negative poll":       func(c *Config) { c.Download.PollInterval = -time.Second },
		"negative settle":     func(c *Config) { c.Browser.SettleDelay = -1 },
		"empty database path": func(c *Config) { c.Database.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Browser.SettleDelay = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsFirstInvalidTimeout(t *testing.T) {
	cfg := Default()
	cfg.Accounting.Timeout = 0
	cfg.Download.PollInterval = 0
	cfg.Browser.ElementTimeout = 0

	for range 20 {
		assert.EqualError(t, cfg.Validate(), "browser.element_timeout must be positive, got 0s")
	}
}
