// Package session issues the anonymous per-client identity. Ids are opaque,
// generated once and persisted by the client; nothing on the server verifies
// them.
package session

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNoSession is returned by a Persistence that holds no id yet.
var ErrNoSession = errors.New("session: no stored id")

// Persistence stores one session id for one client.
type Persistence interface {
	Load() (string, error)
	Save(id string) error
}

// Provider hands out a stable session id for the client behind its Persistence.
type Provider struct {
	store Persistence
	mu    sync.Mutex
	id    string
}

// NewProvider wraps a persistence. A nil persistence yields a fresh id per provider.
func NewProvider(p Persistence) *Provider {
	return &Provider{store: p}
}

// GetOrCreateSessionID returns the persisted id, creating and saving one on first use.
// A persistence failure never fails the call; the fresh id is returned anyway.
func (p *Provider) GetOrCreateSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}
	if p.store != nil {
		if id, err := p.store.Load(); err == nil && strings.TrimSpace(id) != "" {
			p.id = strings.TrimSpace(id)
			return p.id
		} else if err != nil && !errors.Is(err, ErrNoSession) {
			log.Warn().Err(err).Msg("session: failed to load stored id")
		}
	}

	p.id = NewID()
	if p.store != nil {
		if err := p.store.Save(p.id); err != nil {
			log.Warn().Err(err).Msg("session: failed to persist id")
		}
	}
	return p.id
}

// NewID generates a random UUID, falling back to a time+random composite
// when the cryptographic source is unavailable.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fmt.Sprintf("%d-%x", time.Now().UnixMilli(), rand.Uint64())
}

// FileStore persists the id in a single file, creating parent directories.
type FileStore struct {
	Path string
}

// DefaultFilePath is ~/.whispermatch/session, or a path in the temp dir when
// the home directory is unknown.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "whispermatch-session")
	}
	return filepath.Join(home, ".whispermatch", "session")
}

func (f FileStore) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f FileStore) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return os.WriteFile(f.Path, []byte(id+"\n"), 0o600)
}

// MemoryStore keeps the id in memory. Useful in tests and for bots that
// derive ids themselves.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return "", ErrNoSession
	}
	return m.id, nil
}

func (m *MemoryStore) Save(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}
