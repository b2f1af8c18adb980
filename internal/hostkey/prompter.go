// Package hostkey verifies SSH server identities against a known_hosts file
// and runs the interactive challenge protocol for unknown keys.
package hostkey

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"golang.org/x/crypto/ssh"
)

// Challenge is a pending decision about an unrecognised host key.
type Challenge struct {
	RequestID   string    `json:"requestId"`
	SessionID   string    `json:"sessionId"`
	Host        string    `json:"host"`
	KeyType     string    `json:"keyType"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
}

type pending struct {
	Challenge
	decision chan bool
}

// Prompter keeps the table of outstanding challenges. Ask blocks only its
// own caller; concurrent connects wait on independent entries.
type Prompter struct {
	timeout time.Duration
	emitter common.Emitter
	logger  logging.Logger

	mu      sync.Mutex
	pending map[string]*pending
}

func NewPrompter(timeout time.Duration, e common.Emitter, l logging.Logger) *Prompter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Prompter{
		timeout: timeout,
		emitter: e,
		logger:  l.With("module", "hostkey"),
		pending: make(map[string]*pending),
	}
}

// Ask publishes a challenge and waits for Respond, the timeout or ctx,
// whichever comes first. A timeout is reported as AuthFailed and Timeout.
func (p *Prompter) Ask(ctx context.Context, sessionID, host string, key ssh.PublicKey) (bool, error) {
	pc := &pending{
		Challenge: Challenge{
			RequestID:   common.NewID(),
			SessionID:   sessionID,
			Host:        host,
			KeyType:     key.Type(),
			Fingerprint: ssh.FingerprintSHA256(key),
			CreatedAt:   time.Now(),
		},
		decision: make(chan bool, 1),
	}

	p.mu.Lock()
	p.pending[pc.RequestID] = pc
	p.emitter.Emit(common.EventHostKeyPrompt, pc.Challenge)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, pc.RequestID)
		p.mu.Unlock()
	}()

	p.logger.Info(ctx, "host key decision requested", "request_id", pc.RequestID, "host", host, "fingerprint", pc.Fingerprint)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case allow := <-pc.decision:
		return allow, nil
	case <-timer.C:
		return false, fmt.Errorf("%w: %w: no host key decision for %s within %s", common.ErrAuthFailed, common.ErrTimeout, host, p.timeout)
	case <-ctx.Done():
		return false, fmt.Errorf("%w: host key decision for %s: %w", common.ErrAuthFailed, host, ctx.Err())
	}
}

// Respond resolves a pending challenge. Each challenge resolves exactly
// once; a second or unknown requestID yields NotFound.
func (p *Prompter) Respond(requestID string, allow bool) error {
	p.mu.Lock()
	pc, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: host key request %s", common.ErrNotFound, requestID)
	}
	pc.decision <- allow
	return nil
}

// Pending lists outstanding challenges, oldest first.
func (p *Prompter) Pending() []Challenge {
	p.mu.Lock()
	out := make([]Challenge, 0, len(p.pending))
	for _, pc := range p.pending {
		out = append(out, pc.Challenge)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
