// Package credential holds the Credential Pair shared by every authenticated
// call: an access token attached to requests and a refresh token used only to
// mint new access tokens.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrNoCredentials = errors.New("no stored credentials")

type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p Pair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (p Pair) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (p *Pair) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// Store is process-wide credential storage. Save is called on login (Init),
// SetAccess on a successful refresh, Clear on logout or unrecoverable
// refresh failure.
type Store interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	SetAccess(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// Init replaces whatever the store holds with a freshly issued pair.
func Init(ctx context.Context, store Store, pair Pair) error {
	if pair.Access == "" || pair.Refresh == "" {
		return errors.New("both access and refresh tokens are required")
	}
	return store.Save(ctx, pair)
}

type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair.Empty() {
		return Pair{}, ErrNoCredentials
	}
	return s.pair, nil
}

func (s *MemoryStore) Save(ctx context.Context, pair Pair) error {
	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair.Empty() {
		return ErrNoCredentials
	}
	s.pair.Access = access
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
	return nil
}
