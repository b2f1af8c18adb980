package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-d", "/tmp/goterm", "-a", "127.0.0.1:9090", "-s", "secret", "-t", "60",
				"-l", "debug", "-f", "json", "-k", "file", "-m", "-w", "3", "-r", "20",
			},
			expected: &Config{
				DataDir:                "/tmp/goterm",
				BridgeAddr:             "127.0.0.1:9090",
				BridgeSecret:           "secret",
				BridgeTokenValidity:    time.Hour,
				LogLevel:               "debug",
				LogFormat:              "json",
				KeyringBackend:         "file",
				AllowMultipleSessions:  true,
				MaxConcurrentTransfers: 3,
				TransferRetention:      20,
			},
		},
		{
			name:        "bad int",
			args:        []string{"cmd", "-w", "many"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origArgs := os.Args
			t.Cleanup(func() { os.Args = origArgs })
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(tt.expected, config))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
