package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/terminal"
	"golang.org/x/term"
)

// Test seams for terminal handling.
var (
	makeRaw = term.MakeRaw
	restore = term.Restore
	getSize = term.GetSize
)

// detachKey is Ctrl-].
const detachKey = 0x1d

// connect opens a session and answers host-key prompts raised while it is
// pending.
func (a *App) connect(ctx context.Context, profileID string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := a.subscribe(ctx, common.EventHostKeyPrompt)
	if err != nil {
		return "", err
	}

	answered := make(chan struct{})
	go func() {
		defer close(answered)
		a.answerHostKeys(ctx, stream)
	}()

	id, err := a.bridge.SessionConnect(ctx, profileID)
	cancel()
	<-answered
	return id, err
}

func (a *App) answerHostKeys(ctx context.Context, stream eventStream) {
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		var c hostkey.Challenge
		if err := ev.Decode(&c); err != nil {
			continue
		}
		fmt.Fprintf(a.out, "\nThe authenticity of host %s can't be established.\n%s key fingerprint is %s.\n", c.Host, c.KeyType, c.Fingerprint)
		allow, err := Confirm(a.reader, "Trust this host?", a.out)
		if err != nil {
			allow = false
		}
		if ctx.Err() != nil {
			return
		}
		if err := a.bridge.HostKeyRespond(ctx, c.RequestID, allow); err != nil {
			fmt.Fprintln(a.out, "error:", err)
		}
	}
}

// shell attaches the local terminal to a new remote terminal until the
// remote side exits or the user presses Ctrl-].
func (a *App) shell(ctx context.Context, sessionID string) error {
	cols, rows := 80, 24
	if w, h, err := getSize(a.stdinFd); err == nil {
		cols, rows = w, h
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe first so the remote prompt is not lost
	stream, err := a.subscribe(ctx, common.EventTerminalData, common.EventTerminalExit)
	if err != nil {
		return err
	}

	tid, err := a.bridge.TerminalOpen(ctx, sessionID, cols, rows)
	if err != nil {
		return err
	}
	defer func() { _ = a.bridge.TerminalClose(context.Background(), tid) }()

	if state, err := makeRaw(a.stdinFd); err == nil {
		defer func() { _ = restore(a.stdinFd, state) }()
	}

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		a.pumpOutput(stream, tid)
	}()

	buf := make([]byte, 1024)
	for {
		n, err := a.reader.Read(buf)

		select {
		case <-exited:
			return nil
		default:
		}
		if err != nil {
			return nil
		}

		if w, h, err := getSize(a.stdinFd); err == nil && (w != cols || h != rows) {
			cols, rows = w, h
			_ = a.bridge.TerminalResize(ctx, tid, cols, rows)
		}

		chunk := buf[:n]
		if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
			if i > 0 {
				_ = a.bridge.TerminalWrite(ctx, tid, chunk[:i])
			}
			fmt.Fprint(a.out, "\r\n[detached]\r\n")
			return nil
		}
		if err := a.bridge.TerminalWrite(ctx, tid, chunk); err != nil {
			return err
		}
	}
}

func (a *App) pumpOutput(stream eventStream, terminalID string) {
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		switch ev.Name {
		case common.EventTerminalData:
			var d terminal.DataEvent
			if ev.Decode(&d) == nil && d.TerminalID == terminalID {
				_, _ = a.out.Write(d.Data)
			}
		case common.EventTerminalExit:
			var x terminal.ExitEvent
			if ev.Decode(&x) == nil && x.TerminalID == terminalID {
				fmt.Fprintf(a.out, "\r\n[terminal %s, exit %d, press any key]\r\n", x.Reason, x.ExitCode)
				return
			}
		}
	}
}
