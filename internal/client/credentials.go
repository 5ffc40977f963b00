package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ainopay/internal/core"
)

// Credentials is the persisted session.
type Credentials struct {
	Token        string       `yaml:"token,omitempty"`
	RefreshToken string       `yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time    `yaml:"expires_at,omitempty"`
	User         *SessionUser `yaml:"user,omitempty"`
}

// SessionUser is the part of the account kept with the session.
type SessionUser struct {
	ID       uuid.UUID `yaml:"id"`
	Email    string    `yaml:"email"`
	FullName string    `yaml:"full_name"`
	Role     core.Role `yaml:"role"`
}

// LoggedIn reports whether an access token is present.
func (c Credentials) LoggedIn() bool { return c.Token != "" }

// FromAuth builds the session of an auth response received at now.
func FromAuth(a AuthResult, now time.Time) Credentials {
	return Credentials{
		Token:        a.Token,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(a.ExpiresIn) * time.Second),
		User: &SessionUser{
			ID:       a.User.ID,
			Email:    a.User.Email,
			FullName: a.User.FullName,
			Role:     a.User.Role,
		},
	}
}

// CredentialStore persists the session between calls.
type CredentialStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// MemoryCredentials keeps the session in process memory.
type MemoryCredentials struct {
	mu    sync.RWMutex
	creds Credentials
}

func (m *MemoryCredentials) Load() (Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds, nil
}

func (m *MemoryCredentials) Save(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c
	return nil
}

func (m *MemoryCredentials) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

// FileCredentials stores the session as YAML, readable only by the owner.
type FileCredentials struct {
	mu   sync.Mutex
	path string
}

func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

// DefaultCredentialsPath is ainopay/credentials.yaml under the user config dir.
func DefaultCredentialsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ainopay", "credentials.yaml"), nil
}

// Load returns empty credentials when the file does not exist.
func (f *FileCredentials) Load() (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	return c, nil
}

// Save writes through a temp file so a crash never leaves half a file.
func (f *FileCredentials) Save(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileCredentials) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
