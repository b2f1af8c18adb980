package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50061", c.BridgeAddr)
	assert.Equal(t, 24*time.Hour, c.BridgeTokenValidity)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.Equal(t, "auto", c.KeyringBackend)
	assert.Equal(t, 2*time.Minute, c.HostKeyTimeout)
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
	assert.Equal(t, 30*time.Second, c.KeepAliveInterval)
	assert.False(t, c.AllowMultipleSessions)
	assert.Equal(t, 2, c.MaxConcurrentTransfers)
	assert.Equal(t, 100, c.TransferRetention)
	assert.Equal(t, 2*time.Second, c.StatsInterval)
	assert.Equal(t, 6*time.Second, c.MySQLPingTimeout)
	assert.Equal(t, ".goterm", filepath.Base(c.DataDir))
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}
	t.Setenv("GOTERM_KEYRING_PASSWORD", "")
	t.Setenv("GOTERM_BRIDGE_SECRET", "")

	c := LoadConfig()
	require.NotNil(t, c, "LoadConfig must not return nil")

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *c)
}

func TestPaths(t *testing.T) {
	c := Config{DataDir: "/data"}

	assert.Equal(t, filepath.Join("/data", "goterm.db"), c.DatabasePath())
	assert.Equal(t, filepath.Join("/data", "known_hosts"), c.KnownHostsPath())
	assert.Equal(t, filepath.Join("/data", "keyring.json"), c.KeyringFilePath())
	assert.Equal(t, filepath.Join("/data", "keyring.key"), c.KeyringKeyPath())
	assert.Equal(t, filepath.Join("/data", "bridge.token"), c.TokenPath())
}

func TestParseEnv_OverridesSecrets(t *testing.T) {
	t.Setenv("GOTERM_KEYRING_PASSWORD", "kp")
	t.Setenv("GOTERM_BRIDGE_SECRET", "bs")

	c := &Config{BridgeSecret: "from-flags"}
	parseEnv(c)

	assert.Equal(t, "kp", c.KeyringPassword)
	assert.Equal(t, "bs", c.BridgeSecret)
}
