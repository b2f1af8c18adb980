package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/goterm/internal/common"
)

type ConnectionType string

const (
	ConnectionDirect    ConnectionType = "direct"
	ConnectionSSHTunnel ConnectionType = "sshTunnel"
)

type TLSMode string

const (
	TLSDisabled   TLSMode = "disabled"
	TLSPreferred  TLSMode = "preferred"
	TLSRequired   TLSMode = "required"
	TLSSkipVerify TLSMode = "skipVerify"
)

type TLSOptions struct {
	Mode     TLSMode `json:"mode"`
	CAFile   string  `json:"caFile"`
	CertFile string  `json:"certFile"`
	KeyFile  string  `json:"keyFile"`
}

// MySQLProfile is a saved database connection. Its id space is separate from
// SSH profiles; SSHProfileID references an SSH profile when the connection
// is tunnelled.
type MySQLProfile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	Username       string         `json:"username"`
	Database       string         `json:"database"`
	ConnectionType ConnectionType `json:"connectionType"`
	SSHProfileID   string         `json:"sshProfileId"`
	TLS            TLSOptions     `json:"tls"`
}

func (p *MySQLProfile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)
	p.Username = strings.TrimSpace(p.Username)
	if p.Port == 0 {
		p.Port = 3306
	}
	if p.ConnectionType == "" {
		p.ConnectionType = ConnectionDirect
	}
	if p.TLS.Mode == "" {
		p.TLS.Mode = TLSDisabled
	}
	if p.Name == "" {
		p.Name = p.Host
	}
}

func (p *MySQLProfile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("%w: host is required", common.ErrValidation)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", common.ErrValidation)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", common.ErrValidation, p.Port)
	}
	switch p.ConnectionType {
	case ConnectionDirect:
	case ConnectionSSHTunnel:
		if p.SSHProfileID == "" {
			return fmt.Errorf("%w: sshProfileId is required for sshTunnel", common.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown connectionType %q", common.ErrValidation, p.ConnectionType)
	}
	switch p.TLS.Mode {
	case TLSDisabled, TLSPreferred, TLSRequired, TLSSkipVerify:
	default:
		return fmt.Errorf("%w: unknown tls mode %q", common.ErrValidation, p.TLS.Mode)
	}
	if (p.TLS.CertFile == "") != (p.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls certFile and keyFile must be set together", common.ErrValidation)
	}
	return nil
}

func (p *MySQLProfile) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
