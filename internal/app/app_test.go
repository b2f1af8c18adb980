package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dmitrijs2005/goterm/internal/auth"
	"github.com/dmitrijs2005/goterm/internal/config"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.DataDir = t.TempDir()
	c.BridgeAddr = "127.0.0.1:0"
	c.BridgeSecret = "app-test-secret"
	c.KeyringBackend = "file"
	c.HostKeyTimeout = 5 * time.Second
	c.StatsInterval = time.Hour
	return c
}

func TestNewApp_GeneratesKeyringKeyAndSecret(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	c.BridgeSecret = ""

	app, err := NewApp(ctx, c, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	assert.Len(t, app.secret, 64)
	_, err = os.Stat(c.KeyringKeyPath())
	assert.NoError(t, err)
	_, err = os.Stat(c.DatabasePath())
	assert.NoError(t, err)
}

func TestNewApp_RejectsUnknownKeyringBackend(t *testing.T) {
	c := testConfig(t)
	c.KeyringBackend = "vault"

	_, err := NewApp(context.Background(), c, logging.Nop())
	assert.Error(t, err)
}

func TestApp_RunWritesTokenAndStops(t *testing.T) {
	c := testConfig(t)
	app, err := NewApp(context.Background(), c, logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(c.TokenPath())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	token, err := auth.ReadTokenFile(c.TokenPath())
	require.NoError(t, err)
	id, err := auth.GetClientIDFromToken(token, []byte(c.BridgeSecret))
	require.NoError(t, err)
	assert.Equal(t, bridgeClientID, id)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = os.Stat(c.TokenPath())
	assert.True(t, os.IsNotExist(err))
}

func TestApp_SessionCloseCascade(t *testing.T) {
	ctx := context.Background()
	srv := sshtest.Start(t)

	app, err := NewApp(ctx, testConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })
	svc := app.Services()

	p, err := svc.Profiles.Save(ctx, models.Profile{
		Host: srv.Host(), Port: srv.Port(), Username: sshtest.User,
		AuthType: models.AuthPassword, UseKeyring: true, KnownHostsPolicy: models.PolicyInsecureIgnore,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Credentials.SetPassword(ctx, p.ID, sshtest.Password))

	sid, err := svc.Sessions.Connect(ctx, p.ID)
	require.NoError(t, err)

	tid, err := svc.Terminals.Open(ctx, sid, 80, 24)
	require.NoError(t, err)

	_, err = svc.Files.List(sid, "/")
	require.NoError(t, err)

	require.NoError(t, svc.Sessions.Disconnect(ctx, sid))

	st, err := svc.Sessions.Status(sid)
	require.NoError(t, err)
	assert.Equal(t, session.StateDisconnected, st.State)

	terms := svc.Terminals.List()
	require.Len(t, terms, 1)
	assert.False(t, terms[0].Open)
	assert.Error(t, svc.Terminals.Write(tid, []byte("ls\n")))

	_, err = svc.Files.List(sid, "/")
	assert.Error(t, err)

	_, err = svc.Transfers.Download(ctx, sid, "/x", t.TempDir()+"/x")
	assert.Error(t, err)
}

func TestApp_ProfileDeleteRemovesCredentials(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })
	svc := app.Services()

	p, err := svc.Profiles.Save(ctx, models.Profile{Host: "10.0.0.5", Username: "root", AuthType: models.AuthPassword, UseKeyring: true})
	require.NoError(t, err)
	require.NoError(t, svc.Credentials.SetPassword(ctx, p.ID, "pw"))

	require.NoError(t, svc.Profiles.Delete(ctx, p.ID))

	st, err := svc.Credentials.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, st.PasswordSet)

	status := svc.MySQL.Status("unknown")
	assert.Equal(t, "disconnected", string(status.State))
}
