// Package cli is an interactive front end that drives the backend through
// the bridge.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/goterm/internal/bridge"
	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/credentials"
	"github.com/dmitrijs2005/goterm/internal/files"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/mysql"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/transfer"
)

// Bridge is the part of the bridge client the CLI uses.
type Bridge interface {
	ProfilesList(ctx context.Context) ([]models.Profile, error)
	ProfilesSave(ctx context.Context, p models.Profile) (models.Profile, error)
	ProfilesDelete(ctx context.Context, id string) error

	CredentialsSetPassword(ctx context.Context, profileID, secret string) error
	CredentialsSetPassphrase(ctx context.Context, profileID, secret string) error
	CredentialsDelete(ctx context.Context, profileID string) error
	CredentialsStatus(ctx context.Context, profileID string) (credentials.Status, error)

	SessionConnect(ctx context.Context, profileID string) (string, error)
	SessionDisconnect(ctx context.Context, sessionID string) error
	SessionList(ctx context.Context) ([]session.Status, error)

	TerminalOpen(ctx context.Context, sessionID string, cols, rows int) (string, error)
	TerminalWrite(ctx context.Context, terminalID string, data []byte) error
	TerminalResize(ctx context.Context, terminalID string, cols, rows int) error
	TerminalClose(ctx context.Context, terminalID string) error

	FilesList(ctx context.Context, sessionID, path string) ([]files.Entry, error)
	FilesMkdir(ctx context.Context, sessionID, path string) error
	FilesRemove(ctx context.Context, sessionID, path string, recursive bool) error
	FilesRename(ctx context.Context, sessionID, from, to string) error

	TransferDownload(ctx context.Context, sessionID, remotePath, localPath string) (string, error)
	TransferUpload(ctx context.Context, sessionID, localPath, remotePath string) (string, error)
	TransferCancel(ctx context.Context, taskID string) error
	TransferListTasks(ctx context.Context) ([]transfer.Task, error)
	TransferPrune(ctx context.Context) (int, error)

	HostKeyPending(ctx context.Context) ([]hostkey.Challenge, error)
	HostKeyRespond(ctx context.Context, requestID string, allow bool) error

	MySQLProfilesList(ctx context.Context) ([]models.MySQLProfile, error)
	MySQLProfilesSave(ctx context.Context, p models.MySQLProfile) (models.MySQLProfile, error)
	MySQLProfilesDelete(ctx context.Context, id string) error
	MySQLCredentialsSetPassword(ctx context.Context, profileID, secret string) error
	MySQLConnect(ctx context.Context, profileID string) (mysql.Status, error)
	MySQLDisconnect(ctx context.Context, profileID string) error
	MySQLListDatabases(ctx context.Context, profileID string) ([]string, error)
	MySQLListTables(ctx context.Context, profileID, database string) ([]string, error)
	MySQLTableSchema(ctx context.Context, profileID, database, table string) ([]mysql.Column, error)
	MySQLPreviewTable(ctx context.Context, req bridge.PreviewRequest) (mysql.PreviewResult, error)
	MySQLQuery(ctx context.Context, profileID, database, query string) (mysql.QueryResult, error)

	SystemStats(ctx context.Context) (metrics.Stats, error)
}

type eventStream interface {
	Recv() (bridge.Event, error)
}

type subscribeFunc func(ctx context.Context, names ...string) (eventStream, error)

type App struct {
	bridge    Bridge
	subscribe subscribeFunc
	reader    *bufio.Reader
	out       io.Writer
	stdinFd   int
}

// NewApp builds a CLI over a connected bridge client reading from stdin.
func NewApp(c *bridge.Client) *App {
	return &App{
		bridge: c,
		subscribe: func(ctx context.Context, names ...string) (eventStream, error) {
			return c.Events(ctx, names...)
		},
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		stdinFd: int(os.Stdin.Fd()),
	}
}

// Run prints transfer outcomes in the background and reads commands until
// exit or end of input.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(a.out, "goterm CLI (type 'help' for commands)")
	go a.watchTransfers(ctx)

	runREPL(ctx, a, a.reader, a.out)
}

func (a *App) watchTransfers(ctx context.Context) {
	stream, err := a.subscribe(ctx, common.EventTransferDone, common.EventTransferError, common.EventTransferCancelled)
	if err != nil {
		return
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		var t transfer.Task
		if err := ev.Decode(&t); err != nil {
			continue
		}
		switch ev.Name {
		case common.EventTransferDone:
			fmt.Fprintf(a.out, "\n[transfer %s done: %s]\n", shortID(t.ID), t.RemotePath)
		case common.EventTransferError:
			fmt.Fprintf(a.out, "\n[transfer %s failed: %s]\n", shortID(t.ID), t.Error)
		case common.EventTransferCancelled:
			fmt.Fprintf(a.out, "\n[transfer %s cancelled]\n", shortID(t.ID))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
