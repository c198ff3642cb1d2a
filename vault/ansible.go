// SPDX-License-Identifier: Apache-2.0

// Package vault decrypts Ansible Vault payloads by running the ansible-vault
// command.
package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Environment variables consulted by [Ansible].
const (
	EnvVaultID       = "ANSIBLE_VAULT_ID"
	EnvVaultPassword = "ANSIBLE_VAULT_PASSWORD"
)

const (
	defaultCommand   = "ansible-vault"
	defaultCacheSize = 256
)

// ErrDecrypt indicates the decryption command failed.
var ErrDecrypt = errors.New("vault decryption failed")

// DecryptError describes a failed ansible-vault invocation.
type DecryptError struct {
	VaultID string // vault id passed to the command
	Stderr  string // trimmed standard error of the command
	Err     error  // underlying exec error
}

func (e *DecryptError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("vault id %s: %v: %s", e.VaultID, e.Err, e.Stderr)
	}
	return fmt.Sprintf("vault id %s: %v", e.VaultID, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

func (e *DecryptError) Is(target error) bool {
	return target == ErrDecrypt
}

// Options configures an [Ansible] decrypter. The zero value runs
// "ansible-vault" found on PATH with the password taken from the
// environment.
type Options struct {
	// Command is the ansible-vault executable. Defaults to "ansible-vault".
	Command string
	// PasswordFile holds the vault password. When empty, the password is
	// read from ANSIBLE_VAULT_PASSWORD.
	PasswordFile string
	// Lookup reads environment variables. Defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
	// CacheSize bounds the number of remembered plaintexts. Defaults to 256.
	CacheSize int
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
}

// Ansible decrypts vault payloads with the ansible-vault command. Plaintexts
// are cached per vault id and payload. It is safe for concurrent use.
type Ansible struct {
	opts      Options
	cache     *lru.Cache[string, string]
	available func() bool
}

// New returns an Ansible decrypter configured by opts.
func New(opts Options) (*Ansible, error) {
	if opts.Command == "" {
		opts.Command = defaultCommand
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheSize < 0 {
		return nil, fmt.Errorf("invalid cache size %d", opts.CacheSize)
	}
	cache, err := lru.New[string, string](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	a := &Ansible{opts: opts, cache: cache}
	a.available = sync.OnceValue(a.probe)
	return a, nil
}

// Available reports whether the command is on PATH and a password source is
// configured. The answer is computed on the first call and kept. A nil
// receiver is never available.
func (a *Ansible) Available() bool {
	if a == nil || a.available == nil {
		return false
	}
	return a.available()
}

func (a *Ansible) probe() bool {
	if _, err := exec.LookPath(a.opts.Command); err != nil {
		return false
	}
	if a.opts.PasswordFile != "" {
		return true
	}
	pw, ok := a.opts.Lookup(EnvVaultPassword)
	return ok && pw != ""
}

// Decrypt returns the plain text of payload.
func (a *Ansible) Decrypt(payload string) (string, error) {
	key := a.cacheKey(payload)
	if plain, ok := a.cache.Get(key); ok {
		return plain, nil
	}

	passwordFile := a.opts.PasswordFile
	if passwordFile == "" {
		pw, _ := a.opts.Lookup(EnvVaultPassword)
		f, err := writePasswordFile(pw)
		if err != nil {
			return "", err
		}
		defer os.Remove(f)
		passwordFile = f
	}

	plain, err := a.run(a.vaultID(passwordFile), payload)
	if err != nil {
		return "", err
	}
	a.cache.Add(key, plain)
	return plain, nil
}

func (a *Ansible) run(vaultID, payload string) (string, error) {
	ctx := context.Background()
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.opts.Command, "decrypt", "--vault-id", vaultID)
	cmd.Stdin = strings.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &DecryptError{
			VaultID: vaultID,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.String(), nil
}

func (a *Ansible) vaultID(passwordFile string) string {
	if id, ok := a.opts.Lookup(EnvVaultID); ok && id != "" {
		return id + "@" + passwordFile
	}
	return passwordFile
}

// cacheKey identifies the password source without the per-call temporary
// file name.
func (a *Ansible) cacheKey(payload string) string {
	source := a.opts.PasswordFile
	if source == "" {
		source = "$" + EnvVaultPassword
	}
	return a.vaultID(source) + "\x00" + payload
}

func writePasswordFile(password string) (string, error) {
	f, err := os.CreateTemp("", "treemerge-vault-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	// CreateTemp already uses mode 0600.
	if _, err := f.WriteString(password); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
