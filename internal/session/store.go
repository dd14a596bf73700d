package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/bunnychat/internal/api"
)

// UserKey is the kv key the signed-in user is stored under.
const UserKey = "user"

// KV is the key-value storage the Store persists into. *store.DB implements it.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	PutValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// Store persists the signed-in user of a session.
type Store struct {
	kv KV
}

// NewStore creates a Store backed by kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load returns the stored user. ok is false when nobody is signed in.
func (s *Store) Load(ctx context.Context) (u api.User, ok bool, err error) {
	raw, ok, err := s.kv.GetValue(ctx, UserKey)
	if err != nil || !ok {
		return api.User{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return api.User{}, false, fmt.Errorf("decode stored user: %w", err)
	}
	return u, true, nil
}

// Save overwrites the stored user.
func (s *Store) Save(ctx context.Context, u api.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.kv.PutValue(ctx, UserKey, string(raw))
}

// Clear removes the stored user. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.DeleteValue(ctx, UserKey)
}
