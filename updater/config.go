package updater

import "time"

const (
	RepoOwner = "invoice-relay"
	RepoName  = "invoice-relay"

	DefaultCheckInterval = 1 * time.Hour

	// StartupDelay lets the service settle before the first periodic check.
	StartupDelay = 30 * time.Second
)

// Config holds the updater configuration
type Config struct {
	Owner          string
	Repo           string
	CheckInterval  time.Duration
	CurrentVersion string
}

// DefaultConfig returns a default configuration
func DefaultConfig(version string) *Config {
	return &Config{
		Owner:          RepoOwner,
		Repo:           RepoName,
		CheckInterval:  DefaultCheckInterval,
		CurrentVersion: version,
	}
}

func (c *Config) slug() string {
	return c.Owner + "/" + c.Repo
}

// normalizedVersion prefixes the current version with "v" for comparison.
func (c *Config) normalizedVersion() string {
	v := c.CurrentVersion
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	return v
}
