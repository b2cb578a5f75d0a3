package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrStateConflict = errors.New("state conflict: document changed while saving")
	ErrMaxRetries    = errors.New("max retries exceeded")
	ErrInvalidParam  = errors.New("invalid parameter")
)

// State scopes.
const (
	ScopeUser         = "user"
	ScopeConversation = "conversation"
)

// Store keeps one document of named JSON values per (scope, id).
type Store interface {
	// Load returns the stored values, or an empty map for an unknown id.
	Load(ctx context.Context, scope, id string) (map[string]json.RawMessage, error)
	// Save merges changes into the stored document; keys not in changes are kept.
	Save(ctx context.Context, scope, id string, changes map[string]json.RawMessage) error
	Close() error
}

func validateKey(scope, id string) error {
	if scope == "" {
		return fmt.Errorf("%w: scope is empty", ErrInvalidParam)
	}
	if id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidParam)
	}
	return nil
}

// Scope is the per-turn view of one state document. Values are read lazily
// and written back only by SaveChanges.
type Scope struct {
	store   Store
	scope   string
	id      string
	loaded  bool
	values  map[string]json.RawMessage
	changed map[string]json.RawMessage
}

func NewScope(store Store, scope, id string) *Scope {
	return &Scope{
		store:   store,
		scope:   scope,
		id:      id,
		changed: make(map[string]json.RawMessage),
	}
}

func (s *Scope) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	values, err := s.store.Load(ctx, s.scope, s.id)
	if err != nil {
		return fmt.Errorf("load %s state %s: %w", s.scope, s.id, err)
	}
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	for k, v := range s.changed {
		values[k] = v
	}
	s.values = values
	s.loaded = true
	return nil
}

// Get decodes key into dst. When the key is absent dst keeps whatever default
// the caller put there and Get reports false.
func (s *Scope) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if err := s.load(ctx); err != nil {
		return false, err
	}
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s state key %q: %w", s.scope, key, err)
	}
	return true, nil
}

func (s *Scope) Set(key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidParam)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s state key %q: %w", s.scope, key, err)
	}
	s.changed[key] = raw
	if s.values != nil {
		s.values[key] = raw
	}
	return nil
}

// SaveChanges writes the keys set since the last save. Nothing is written
// when no key changed.
func (s *Scope) SaveChanges(ctx context.Context) error {
	if len(s.changed) == 0 {
		return nil
	}
	if err := s.store.Save(ctx, s.scope, s.id, s.changed); err != nil {
		return fmt.Errorf("save %s state %s: %w", s.scope, s.id, err)
	}
	s.changed = make(map[string]json.RawMessage)
	return nil
}
