package dao

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps state in process. Used by the console chat and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryStore) Load(_ context.Context, scope, id string) (map[string]json.RawMessage, error) {
	if err := validateKey(scope, id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc := m.docs[scope+":"+id]
	out := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, scope, id string, changes map[string]json.RawMessage) error {
	if err := validateKey(scope, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scope + ":" + id
	doc, ok := m.docs[key]
	if !ok {
		doc = make(map[string]json.RawMessage, len(changes))
		m.docs[key] = doc
	}
	for k, v := range changes {
		doc[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
