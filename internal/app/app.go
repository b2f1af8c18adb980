// Package app wires the backend components together and runs the bridge
// until the process is asked to stop.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/goterm/internal/auth"
	"github.com/dmitrijs2005/goterm/internal/bridge"
	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/config"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/files"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/mysql"
	"github.com/dmitrijs2005/goterm/internal/repositories/repomanager"
	"github.com/dmitrijs2005/goterm/internal/services"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/storage"
	"github.com/dmitrijs2005/goterm/internal/terminal"
	"github.com/dmitrijs2005/goterm/internal/transfer"
)

// bridgeClientID is the subject of the token written for local front ends.
const bridgeClientID = "local"

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	events   *bridge.Hub
	services bridge.Services
	secret   []byte
}

// NewApp opens storage and the credential backend and builds every
// component. Session close listeners are registered so that dropping a
// session fails its transfers, closes its terminals and SFTP client and
// marks tunnelled MySQL connections as errored.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	secret := c.BridgeSecret
	if secret == "" {
		s, err := common.MakeRandHexString(32)
		if err != nil {
			return nil, fmt.Errorf("bridge secret: %w", err)
		}
		secret = s
	}

	db, err := storage.Open(ctx, c.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	backend, err := newCredentialBackend(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keyring init error: %w", err)
	}
	logger.Info(ctx, "credential backend ready", "backend", backend.Name())

	events := bridge.NewHub(0, logger)
	rm := repomanager.NewSQLiteRepositoryManager()

	sshCreds := credentials.NewStore(backend, credentials.NamespaceSSH, logger)
	mysqlCreds := credentials.NewStore(backend, credentials.NamespaceMySQL, logger)

	profiles := services.NewProfileService(db, rm, sshCreds, logger)
	mysqlProfiles := services.NewMySQLProfileService(db, rm, mysqlCreds, nil, logger)

	prompter := hostkey.NewPrompter(c.HostKeyTimeout, events, logger)
	verifier := hostkey.NewVerifier(c.KnownHostsPath(), prompter, logger)

	sessions := session.NewManager(profiles, sshCreds, verifier, session.Options{
		ConnectTimeout:    c.ConnectTimeout,
		HandshakeTimeout:  c.ConnectTimeout + c.HostKeyTimeout,
		KeepAliveInterval: c.KeepAliveInterval,
		AllowMultiple:     c.AllowMultipleSessions,
	}, events, logger)

	terminals := terminal.NewHub(sessions, events, logger)
	sftp := files.NewService(sessions, logger)
	transfers := transfer.NewQueue(sessions, transfer.SFTPRemotes{Provider: sftp}, transfer.Options{
		Workers:   c.MaxConcurrentTransfers,
		Retention: c.TransferRetention,
	}, events, logger)

	dbs := mysql.NewManager(mysqlProfiles, mysqlCreds, sessions, mysql.Options{PingTimeout: c.MySQLPingTimeout}, logger)
	mysqlProfiles.SetDisconnecter(dbs)

	// transfers first: a running task must fail with the close reason
	// before its SFTP client goes away underneath it
	sessions.OnClose(transfers.FailSession)
	sessions.OnClose(terminals.CloseSession)
	sessions.OnClose(sftp.CloseSession)
	sessions.OnClose(dbs.SessionClosed)

	return &App{
		config: c,
		logger: logger,
		db:     db,
		events: events,
		services: bridge.Services{
			Profiles:         profiles,
			MySQLProfiles:    mysqlProfiles,
			Sessions:         sessions,
			Terminals:        terminals,
			Files:            sftp,
			Transfers:        transfers,
			HostKeys:         prompter,
			Credentials:      sshCreds,
			MySQLCredentials: mysqlCreds,
			MySQL:            dbs,
			Stats:            metrics.NewCollector(metrics.HostSampler{}, c.StatsInterval, events, logger),
		},
		secret: []byte(secret),
	}, nil
}

func newCredentialBackend(ctx context.Context, c *config.Config, logger logging.Logger) (credentials.Backend, error) {
	password := c.KeyringPassword
	if password == "" && c.KeyringBackend != "system" {
		pw, err := credentials.LoadOrCreatePassword(c.KeyringKeyPath())
		if err != nil {
			return nil, err
		}
		password = pw
	}
	return credentials.NewBackend(ctx, credentials.Options{
		Kind:     c.KeyringBackend,
		FilePath: c.KeyringFilePath(),
		Password: password,
	}, logger)
}

// Services exposes the wired components.
func (app *App) Services() bridge.Services {
	return app.services
}

// Events is the hub every component emits into.
func (app *App) Events() *bridge.Hub {
	return app.events
}

// IssueToken signs a bridge token for a local front end.
func (app *App) IssueToken() (string, error) {
	return auth.GenerateToken(bridgeClientID, app.secret, app.config.BridgeTokenValidity)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startBridge(ctx context.Context, cancelFunc context.CancelFunc) {
	s := bridge.NewServer(app.config.BridgeAddr, app.services, app.events, app.secret, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run writes the bridge token, serves the bridge and samples system stats
// until ctx is cancelled or a termination signal arrives, then releases
// every component.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	token, err := app.IssueToken()
	if err != nil {
		return err
	}
	if err := auth.WriteTokenFile(app.config.TokenPath(), token); err != nil {
		return fmt.Errorf("write bridge token: %w", err)
	}

	app.logger.Info(ctx, "Starting app...", "data_dir", app.config.DataDir)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startBridge(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.services.Stats.Run(ctx)
	}()

	wg.Wait()

	app.Close(context.Background())
	return nil
}

// Close tears components down in dependency order: front-facing work
// first, transports last.
func (app *App) Close(ctx context.Context) {
	app.logger.Info(ctx, "Stopping app...")

	app.services.Transfers.Close()
	app.services.Terminals.CloseAll()
	app.services.MySQL.Close()
	app.services.Files.Close()
	app.services.Sessions.Close(ctx)
	app.events.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "failed to close database", "error", err)
	}
	if err := os.Remove(app.config.TokenPath()); err != nil && !os.IsNotExist(err) {
		app.logger.Warn(ctx, "failed to remove bridge token", "error", err)
	}
}
