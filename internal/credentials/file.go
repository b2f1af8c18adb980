package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/cryptox"
	"github.com/dmitrijs2005/goterm/internal/filex"
)

// fileFormat is the on-disk layout. Data is the AES-GCM sealed JSON map of
// all secrets; the key is derived from the master password and Salt.
type fileFormat struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// FileBackend keeps secrets in one encrypted file. Every call reads and
// rewrites the whole file; the set is small.
type FileBackend struct {
	path     string
	password []byte

	mu      sync.Mutex
	salt    []byte
	derived []byte
}

func NewFileBackend(path, password string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: keyring file path is required", common.ErrValidation)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: keyring password is required", common.ErrValidation)
	}
	return &FileBackend{path: path, password: []byte(password)}, nil
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Set(service, key, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, salt, err := f.load()
	if err != nil {
		return err
	}
	entries[entryKey(service, key)] = secret
	return f.save(entries, salt)
}

func (f *FileBackend) Get(service, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, _, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := entries[entryKey(service, key)]
	if !ok {
		return "", fmt.Errorf("%w: secret %s", common.ErrNotFound, key)
	}
	return v, nil
}

func (f *FileBackend) Delete(service, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, salt, err := f.load()
	if err != nil {
		return err
	}
	k := entryKey(service, key)
	if _, ok := entries[k]; !ok {
		return fmt.Errorf("%w: secret %s", common.ErrNotFound, key)
	}
	delete(entries, k)
	return f.save(entries, salt)
}

func entryKey(service, key string) string {
	return service + "/" + key
}

func (f *FileBackend) key(salt []byte) []byte {
	if f.derived == nil || !bytes.Equal(f.salt, salt) {
		f.salt = append([]byte(nil), salt...)
		f.derived = cryptox.DeriveMasterKey(f.password, salt)
	}
	return f.derived
}

func (f *FileBackend) load() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, common.GenerateRandByteArray(cryptox.SaltSize), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read keyring file: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return nil, nil, fmt.Errorf("failed to parse keyring file: %w", err)
	}

	plaintext, err := cryptox.Open(f.key(ff.Salt), ff.Data, ff.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot unlock keyring file", common.ErrAuthFailed)
	}
	defer common.WipeByteArray(plaintext)

	entries := map[string]string{}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to decode keyring entries: %w", err)
	}
	return entries, ff.Salt, nil
}

func (f *FileBackend) save(entries map[string]string, salt []byte) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	ct, nonce, err := cryptox.Seal(f.key(salt), plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal keyring: %w", err)
	}

	raw, err := json.Marshal(fileFormat{Version: 1, Salt: salt, Nonce: nonce, Data: ct})
	if err != nil {
		return err
	}

	if err := filex.WritePrivate(f.path, raw); err != nil {
		return fmt.Errorf("failed to write keyring file: %w", err)
	}
	return nil
}
