// Package sshtest runs an in-process SSH server for tests: password and
// public-key auth, a pty echo shell and an in-memory SFTP subsystem.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	User     = "tester"
	Password = "secret"
)

type WindowSize struct {
	Cols, Rows uint32
}

type Server struct {
	Addr string

	signer ssh.Signer
	config *ssh.ServerConfig
	fs     sftp.Handlers
	ln     net.Listener

	mu         sync.Mutex
	password   string
	authorized [][]byte
	conns      map[*ssh.ServerConn]struct{}
	sizes      []WindowSize
	wg         sync.WaitGroup
}

// Start listens on a random loopback port and stops the server on test
// cleanup.
func Start(t testing.TB) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:     ln.Addr().String(),
		signer:   signer,
		fs:       sftp.InMemHandler(),
		ln:       ln,
		password: Password,
		conns:    make(map[*ssh.ServerConn]struct{}),
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback:  s.checkPassword,
		PublicKeyCallback: s.checkPublicKey,
	}
	s.config.AddHostKey(signer)

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

func (s *Server) HostKey() ssh.PublicKey { return s.signer.PublicKey() }

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Dial opens a password-authenticated client connection that is closed on
// test cleanup.
func (s *Server) Dial(t testing.TB) *ssh.Client {
	t.Helper()
	c, err := ssh.Dial("tcp", s.Addr, &ssh.ClientConfig{
		User:            User,
		Auth:            []ssh.AuthMethod{ssh.Password(Password)},
		HostKeyCallback: ssh.FixedHostKey(s.HostKey()),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// SetPassword changes the accepted password for new connections.
func (s *Server) SetPassword(pw string) {
	s.mu.Lock()
	s.password = pw
	s.mu.Unlock()
}

// WriteClientKey generates a client key pair, authorises its public half and
// writes the private half as an OpenSSH PEM file in dir. A non-empty
// passphrase encrypts the file.
func (s *Server) WriteClientKey(t testing.TB, dir, passphrase string) string {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "goterm-test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "goterm-test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}

	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write client key: %v", err)
	}

	s.mu.Lock()
	s.authorized = append(s.authorized, sshPub.Marshal())
	s.mu.Unlock()
	return path
}

// WindowSizes returns every pty size seen so far: pty-req and window-change.
func (s *Server) WindowSizes() []WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WindowSize(nil), s.sizes...)
}

// DropConnections closes every live connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*ssh.ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) checkPassword(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.User() == User && string(pass) == s.password {
		return nil, nil
	}
	return nil, fmt.Errorf("password rejected for %q", c.User())
}

func (s *Server) checkPublicKey(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.authorized {
		if c.User() == User && bytes.Equal(k, key.Marshal()) {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("unknown public key for %q", c.User())
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer s.wg.Done()

	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		_ = nc.Close()
		return
	}

	s.mu.Lock()
	s.conns[sconn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sconn)
		s.mu.Unlock()
	}()

	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, creqs)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				s.recordSize(p.Cols, p.Rows)
			}
			_ = req.Reply(true, nil)

		case "window-change":
			var p struct {
				Cols, Rows    uint32
				Width, Height uint32
			}
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				s.recordSize(p.Cols, p.Rows)
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

		case "shell":
			_ = req.Reply(true, nil)
			go echoShell(ch)

		case "subsystem":
			var p struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil || p.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				srv := sftp.NewRequestServer(ch, s.fs)
				_ = srv.Serve()
				_ = srv.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) recordSize(cols, rows uint32) {
	s.mu.Lock()
	s.sizes = append(s.sizes, WindowSize{Cols: cols, Rows: rows})
	s.mu.Unlock()
}

// echoShell writes back whatever it reads. A chunk containing "exit" ends
// the shell with status 0.
func echoShell(ch ssh.Channel) {
	defer ch.Close()

	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
			if bytes.Contains(buf[:n], []byte("exit")) {
				break
			}
		}
		if err != nil {
			return
		}
	}

	status := struct{ Status uint32 }{0}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}
