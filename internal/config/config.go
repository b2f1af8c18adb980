// Package config handles configuration for the goterm backend: defaults,
// JSON overlay, command-line flags and environment secrets.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the goterm backend.
//
// Fields:
//   - DataDir: directory holding the profile database, known_hosts, the
//     encrypted keyring fallback and the bridge token.
//   - BridgeAddr / BridgeSecret / BridgeTokenValidity: gRPC bridge endpoint
//     and HS256 token settings. An empty secret is replaced by a random one
//     at startup.
//   - KeyringBackend: auto, system or file. KeyringPassword unlocks the file
//     backend; when empty a generated key file in DataDir is used.
//   - HostKeyTimeout bounds how long a connect waits on a host-key decision.
//   - AllowMultipleSessions permits several live sessions per profile.
//   - MaxConcurrentTransfers / TransferRetention: worker slots and the number
//     of finished transfer tasks kept for listing.
type Config struct {
	DataDir                string
	BridgeAddr             string
	BridgeSecret           string
	BridgeTokenValidity    time.Duration
	LogLevel               string
	LogFormat              string
	KeyringBackend         string
	KeyringPassword        string
	HostKeyTimeout         time.Duration
	ConnectTimeout         time.Duration
	KeepAliveInterval      time.Duration
	AllowMultipleSessions  bool
	MaxConcurrentTransfers int
	TransferRetention      int
	StatsInterval          time.Duration
	MySQLPingTimeout       time.Duration
}

// LoadDefaults populates Config with local desktop defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = defaultDataDir()
	c.BridgeAddr = "127.0.0.1:50061"
	c.BridgeSecret = ""
	c.BridgeTokenValidity = 24 * time.Hour
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.KeyringBackend = "auto"
	c.KeyringPassword = ""
	c.HostKeyTimeout = 2 * time.Minute
	c.ConnectTimeout = 10 * time.Second
	c.KeepAliveInterval = 30 * time.Second
	c.AllowMultipleSessions = false
	c.MaxConcurrentTransfers = 2
	c.TransferRetention = 100
	c.StatsInterval = 2 * time.Second
	c.MySQLPingTimeout = 6 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, command-line flags and finally secrets from
// the environment.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	parseEnv(cfg)
	return cfg
}

func (c *Config) DatabasePath() string    { return filepath.Join(c.DataDir, "goterm.db") }
func (c *Config) KnownHostsPath() string  { return filepath.Join(c.DataDir, "known_hosts") }
func (c *Config) KeyringFilePath() string { return filepath.Join(c.DataDir, "keyring.json") }
func (c *Config) KeyringKeyPath() string  { return filepath.Join(c.DataDir, "keyring.key") }
func (c *Config) TokenPath() string       { return filepath.Join(c.DataDir, "bridge.token") }

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".goterm"
	}
	return filepath.Join(home, ".goterm")
}
