package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/goterm/internal/flagx"
	"github.com/dmitrijs2005/goterm/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// "30s" strings and integer nanoseconds. Only keys present in the file
// override the current values.
type JsonConfig struct {
	DataDir                string          `json:"data_dir"`
	BridgeAddr             string          `json:"bridge_addr"`
	BridgeSecret           string          `json:"bridge_secret"`
	BridgeTokenValidity    *timex.Duration `json:"bridge_token_validity"`
	LogLevel               string          `json:"log_level"`
	LogFormat              string          `json:"log_format"`
	KeyringBackend         string          `json:"keyring_backend"`
	HostKeyTimeout         *timex.Duration `json:"host_key_timeout"`
	ConnectTimeout         *timex.Duration `json:"connect_timeout"`
	KeepAliveInterval      *timex.Duration `json:"keepalive_interval"`
	AllowMultipleSessions  *bool           `json:"allow_multiple_sessions"`
	MaxConcurrentTransfers *int            `json:"max_concurrent_transfers"`
	TransferRetention      *int            `json:"transfer_retention"`
	StatsInterval          *timex.Duration `json:"stats_interval"`
	MySQLPingTimeout       *timex.Duration `json:"mysql_ping_timeout"`
}

// parseJson overlays config with the file named by -c/-config, if any.
// An unreadable or malformed file panics: the process cannot start with a
// config the user asked for but we could not apply.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.DataDir, c.DataDir)
	setString(&config.BridgeAddr, c.BridgeAddr)
	setString(&config.BridgeSecret, c.BridgeSecret)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.KeyringBackend, c.KeyringBackend)

	setDuration(&config.BridgeTokenValidity, c.BridgeTokenValidity)
	setDuration(&config.HostKeyTimeout, c.HostKeyTimeout)
	setDuration(&config.ConnectTimeout, c.ConnectTimeout)
	setDuration(&config.KeepAliveInterval, c.KeepAliveInterval)
	setDuration(&config.StatsInterval, c.StatsInterval)
	setDuration(&config.MySQLPingTimeout, c.MySQLPingTimeout)

	if c.AllowMultipleSessions != nil {
		config.AllowMultipleSessions = *c.AllowMultipleSessions
	}
	if c.MaxConcurrentTransfers != nil {
		config.MaxConcurrentTransfers = *c.MaxConcurrentTransfers
	}
	if c.TransferRetention != nil {
		config.TransferRetention = *c.TransferRetention
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
