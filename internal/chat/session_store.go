package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SessionStore persists conversation state between messages.
type SessionStore interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// SessionBackend is the raw key/value store behind RedisSessionStore.
type SessionBackend interface {
	SaveSession(ctx context.Context, id string, data []byte, ttl time.Duration) error
	LoadSession(ctx context.Context, id string) ([]byte, error)
	DeleteSession(ctx context.Context, id string) error
}

// RedisSessionStore keeps sessions as JSON with a sliding TTL.
type RedisSessionStore struct {
	backend SessionBackend
	ttl     time.Duration
}

func NewRedisSessionStore(backend SessionBackend, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{backend: backend, ttl: ttl}
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.backend.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode chat session: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode chat session: %w", err)
	}
	if err := r.backend.SaveSession(ctx, s.ID, data, r.ttl); err != nil {
		return fmt.Errorf("save chat session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.backend.DeleteSession(ctx, id)
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
