// Package models holds the persisted connection profiles shared by the
// repositories, services and bridge.
package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/goterm/internal/common"
)

type AuthType string

const (
	AuthPassword   AuthType = "password"
	AuthPrivateKey AuthType = "privateKey"
	AuthAgent      AuthType = "agent"
)

type KnownHostsPolicy string

const (
	PolicyStrict         KnownHostsPolicy = "strict"
	PolicyAcceptNew      KnownHostsPolicy = "acceptNew"
	PolicyInsecureIgnore KnownHostsPolicy = "insecureIgnore"
)

// Profile is a saved SSH connection. Secrets never live here: with
// UseKeyring set, the password or key passphrase is resolved from the
// credential store by profile id.
type Profile struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Group            string           `json:"group"`
	Host             string           `json:"host"`
	Port             int              `json:"port"`
	Username         string           `json:"username"`
	AuthType         AuthType         `json:"authType"`
	PrivateKeyPath   string           `json:"privateKeyPath"`
	UseKeyring       bool             `json:"useKeyring"`
	KnownHostsPolicy KnownHostsPolicy `json:"knownHostsPolicy"`
}

// Normalize fills defaults for optional fields.
func (p *Profile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)
	p.Username = strings.TrimSpace(p.Username)
	if p.Port == 0 {
		p.Port = 22
	}
	if p.AuthType == "" {
		p.AuthType = AuthPassword
	}
	if p.KnownHostsPolicy == "" {
		p.KnownHostsPolicy = PolicyStrict
	}
	if p.Name == "" {
		p.Name = p.Host
	}
}

func (p *Profile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("%w: host is required", common.ErrValidation)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", common.ErrValidation)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", common.ErrValidation, p.Port)
	}
	switch p.AuthType {
	case AuthPassword:
		if !p.UseKeyring {
			return fmt.Errorf("%w: password auth requires useKeyring", common.ErrValidation)
		}
	case AuthPrivateKey:
		if strings.TrimSpace(p.PrivateKeyPath) == "" {
			return fmt.Errorf("%w: privateKeyPath is required for privateKey auth", common.ErrValidation)
		}
	case AuthAgent:
	default:
		return fmt.Errorf("%w: unknown authType %q", common.ErrValidation, p.AuthType)
	}
	switch p.KnownHostsPolicy {
	case PolicyStrict, PolicyAcceptNew, PolicyInsecureIgnore:
	default:
		return fmt.Errorf("%w: unknown knownHostsPolicy %q", common.ErrValidation, p.KnownHostsPolicy)
	}
	return nil
}

// Address returns host:port for dialing.
func (p *Profile) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
