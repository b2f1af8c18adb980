package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/goterm/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory
//	-a string   bridge listen address (e.g., "127.0.0.1:50061")
//	-s string   bridge token secret
//	-t int      bridge token validity, minutes
//	-l string   log level (debug, info, warn, error)
//	-f string   log format (text, json)
//	-k string   keyring backend (auto, system, file)
//	-m bool     allow multiple sessions per profile
//	-w int      concurrent transfer workers
//	-r int      finished transfer tasks kept for listing
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		[]string{"-d", "-a", "-s", "-t", "-l", "-f", "-k", "-m", "-w", "-r"},
		"-m")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.BridgeAddr, "a", config.BridgeAddr, "bridge listen address")
	fs.StringVar(&config.BridgeSecret, "s", config.BridgeSecret, "bridge token secret")
	tokenValidity := fs.Int("t", int(config.BridgeTokenValidity.Minutes()), "bridge token validity (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.StringVar(&config.KeyringBackend, "k", config.KeyringBackend, "keyring backend: auto, system or file")
	fs.BoolVar(&config.AllowMultipleSessions, "m", config.AllowMultipleSessions, "allow multiple sessions per profile")
	fs.IntVar(&config.MaxConcurrentTransfers, "w", config.MaxConcurrentTransfers, "concurrent transfer workers")
	fs.IntVar(&config.TransferRetention, "r", config.TransferRetention, "finished transfer tasks kept")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.BridgeTokenValidity = time.Duration(*tokenValidity) * time.Minute
}

// parseEnv reads secrets that should not appear in process listings.
func parseEnv(config *Config) {
	config.KeyringPassword = flagx.Env("GOTERM_KEYRING_PASSWORD", config.KeyringPassword)
	config.BridgeSecret = flagx.Env("GOTERM_BRIDGE_SECRET", config.BridgeSecret)
}
