package bridge

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/goterm/internal/auth"
	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/repositories/repomanager"
	"github.com/dmitrijs2005/goterm/internal/services"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/storage"
	"github.com/dmitrijs2005/goterm/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var testSecret = []byte("bridge-test-secret")

type fixedSampler struct{}

func (fixedSampler) Sample(context.Context) (metrics.Stats, error) {
	return metrics.Stats{Timestamp: 42, CPU: metrics.CPUStats{Total: 5, PerCore: []float64{5}}}, nil
}

type harness struct {
	hub      *Hub
	svc      Services
	lis      *bufconn.Listener
	prompter *hostkey.Prompter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := logging.Nop()

	db, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)

	backend, err := credentials.NewFileBackend(filepath.Join(t.TempDir(), "keyring.json"), "pw")
	require.NoError(t, err)
	sshCreds := credentials.NewStore(backend, credentials.NamespaceSSH, l)
	mysqlCreds := credentials.NewStore(backend, credentials.NamespaceMySQL, l)

	hub := NewHub(16, l)
	rm := repomanager.NewSQLiteRepositoryManager()
	profiles := services.NewProfileService(db, rm, sshCreds, l)
	prompter := hostkey.NewPrompter(time.Minute, hub, l)
	verifier := hostkey.NewVerifier(filepath.Join(t.TempDir(), "known_hosts"), prompter, l)
	sessions := session.NewManager(profiles, sshCreds, verifier, session.Options{}, hub, l)
	queue := transfer.NewQueue(sessions, transfer.SFTPRemotes{}, transfer.Options{}, hub, l)

	svc := Services{
		Profiles:         profiles,
		MySQLProfiles:    services.NewMySQLProfileService(db, rm, mysqlCreds, nil, l),
		Sessions:         sessions,
		Transfers:        queue,
		HostKeys:         prompter,
		Credentials:      sshCreds,
		MySQLCredentials: mysqlCreds,
		Stats:            metrics.NewCollector(fixedSampler{}, time.Hour, hub, l),
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer("bufnet", svc, hub, testSecret, l)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.Serve(ctx, lis)
	}()

	t.Cleanup(func() {
		cancel()
		<-served
		queue.Close()
		sessions.Close(context.Background())
		_ = db.Close()
	})

	return &harness{hub: hub, svc: svc, lis: lis, prompter: prompter}
}

func (h *harness) client(t *testing.T, token string) *Client {
	t.Helper()
	c, err := NewClient("passthrough:///bufnet", token, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return h.lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) authed(t *testing.T) *Client {
	t.Helper()
	tok, err := auth.GenerateToken("test", testSecret, time.Hour)
	require.NoError(t, err)
	return h.client(t, tok)
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBridge_PingWithoutToken(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.client(t, "").Ping(callCtx(t)))
}

func TestBridge_RejectsMissingOrBadToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.client(t, "").ProfilesList(callCtx(t))
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.ErrorIs(t, err, common.ErrAuthFailed)

	bad, err := auth.GenerateToken("test", []byte("other"), time.Hour)
	require.NoError(t, err)
	_, err = h.client(t, bad).SessionList(callCtx(t))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	stream, err := h.client(t, "").Events(callCtx(t))
	if err == nil {
		_, err = stream.Recv()
	}
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestBridge_ProfilesRoundTrip(t *testing.T) {
	h := newHarness(t)
	c := h.authed(t)
	ctx := callCtx(t)

	saved, err := c.ProfilesSave(ctx, models.Profile{Host: "10.0.0.5", Username: "root", AuthType: models.AuthPassword, UseKeyring: true})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 22, saved.Port)

	list, err := c.ProfilesList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, saved, list[0])

	require.NoError(t, c.CredentialsSetPassword(ctx, saved.ID, "secret"))
	st, err := c.CredentialsStatus(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, st.PasswordSet)
	assert.False(t, st.PassphraseSet)

	require.NoError(t, c.ProfilesDelete(ctx, saved.ID))
	st, err = c.CredentialsStatus(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, st.PasswordSet)

	err = c.ProfilesDelete(ctx, saved.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBridge_ErrorKindsSurviveTheWire(t *testing.T) {
	h := newHarness(t)
	c := h.authed(t)
	ctx := callCtx(t)

	_, err := c.ProfilesSave(ctx, models.Profile{Username: "root"})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.SessionStatus(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = c.SessionConnect(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = c.TransferCancel(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = c.HostKeyRespond(ctx, "nope", true)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = c.MySQLProfilesSave(ctx, models.MySQLProfile{})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestBridge_ListsAreNeverNil(t *testing.T) {
	h := newHarness(t)
	c := h.authed(t)
	ctx := callCtx(t)

	sessions, err := c.SessionList(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)

	tasks, err := c.TransferListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	n, err := c.TransferPrune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := c.HostKeyPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBridge_SystemStats(t *testing.T) {
	h := newHarness(t)
	st, err := h.authed(t).SystemStats(callCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Timestamp)
	assert.Equal(t, []float64{5}, st.CPU.PerCore)
}

func TestBridge_EventsReplayPendingHostKeyAndRespond(t *testing.T) {
	h := newHarness(t)
	c := h.authed(t)
	ctx := callCtx(t)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	decided := make(chan bool, 1)
	go func() {
		allow, _ := h.prompter.Ask(context.Background(), "s1", "example:22", key)
		decided <- allow
	}()
	require.Eventually(t, func() bool { return len(h.prompter.Pending()) == 1 }, 5*time.Second, 10*time.Millisecond)

	stream, err := c.Events(ctx, common.EventHostKeyPrompt)
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, common.EventHostKeyPrompt, ev.Name)

	var ch hostkey.Challenge
	require.NoError(t, ev.Decode(&ch))
	assert.Equal(t, "example:22", ch.Host)
	assert.Equal(t, ssh.FingerprintSHA256(key), ch.Fingerprint)

	require.NoError(t, c.HostKeyRespond(ctx, ch.RequestID, true))
	select {
	case allow := <-decided:
		assert.True(t, allow)
	case <-time.After(5 * time.Second):
		t.Fatal("Ask did not return after respond")
	}
}

func TestBridge_EventsFilterAndForward(t *testing.T) {
	h := newHarness(t)
	c := h.authed(t)
	ctx := callCtx(t)

	stream, err := c.Events(ctx, common.EventSystemStats)
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				h.hub.Emit(common.EventTerminalData, "ignored")
				h.hub.Emit(common.EventSystemStats, metrics.Stats{Timestamp: 7})
			}
		}
	}()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, common.EventSystemStats, ev.Name)

	var st metrics.Stats
	require.NoError(t, ev.Decode(&st))
	assert.Equal(t, int64(7), st.Timestamp)
}

func TestToStatusAndMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		kind error
	}{
		{"not found", common.ErrNotFound, codes.NotFound, common.ErrNotFound},
		{"validation", common.ErrValidation, codes.InvalidArgument, common.ErrValidation},
		{"auth", common.ErrAuthFailed, codes.Unauthenticated, common.ErrAuthFailed},
		{"timeout", common.ErrTimeout, codes.DeadlineExceeded, common.ErrTimeout},
		{"state", common.ErrInvalidState, codes.FailedPrecondition, common.ErrInvalidState},
		{"transport", common.ErrTransport, codes.Unavailable, common.ErrTransport},
		{"plain", errors.New("boom"), codes.Internal, nil},
		{"canceled", context.Canceled, codes.Canceled, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := toStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))

			back := mapError(st)
			assert.Equal(t, tt.err.Error(), back.Error())
			assert.Equal(t, tt.code, status.Code(back))
			if tt.kind != nil {
				assert.ErrorIs(t, back, tt.kind)
			} else {
				assert.Nil(t, common.KindOf(back))
			}
		})
	}

	assert.NoError(t, toStatus(nil))
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(errors.New("dial")), common.ErrTransport)
}
