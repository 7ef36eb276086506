package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sealed_chat/internal/model"
	"sealed_chat/internal/protocol/doubleratchet"

	"github.com/redis/go-redis/v9"
)

const DefaultStateTTL = 7 * 24 * time.Hour

type (
	// Session is the persisted per-peer state.
	Session struct {
		State *doubleratchet.RatchetState `json:"state"`

		// Handshake is attached to outgoing messages until the peer answers.
		Handshake *model.X3DHHandshake `json:"handshake,omitempty"`

		// RemoteEK is the ephemeral key of the handshake that created a
		// responder session, so a repeated PreKey message is not re-keyed.
		RemoteEK []byte `json:"remote_ek,omitempty"`
	}

	// StateStore returns (nil, nil) when no session exists.
	StateStore interface {
		Load(ctx context.Context, owner, peer string) (*Session, error)
		Save(ctx context.Context, owner, peer string, s *Session) error
	}

	KeyValue interface {
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
		Get(ctx context.Context, key string) (string, error)
	}

	RedisStateStore struct {
		kv  KeyValue
		ttl time.Duration
	}

	MemoryStateStore struct {
		mu       sync.Mutex
		sessions map[string][]byte
	}
)

func stateKey(owner, peer string) string {
	return fmt.Sprintf("session: %s -> %s", owner, peer)
}

func NewRedisStateStore(kv KeyValue, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{kv: kv, ttl: ttl}
}

func (r *RedisStateStore) Save(ctx context.Context, owner, peer string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, stateKey(owner, peer), data, r.ttl)
}

func (r *RedisStateStore) Load(ctx context.Context, owner, peer string) (*Session, error) {
	v, err := r.kv.Get(ctx, stateKey(owner, peer))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{sessions: make(map[string][]byte)}
}

// Save stores an encoded copy, so later mutation by the caller is not seen.
func (m *MemoryStateStore) Save(_ context.Context, owner, peer string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[stateKey(owner, peer)] = data
	return nil
}

func (m *MemoryStateStore) Load(_ context.Context, owner, peer string) (*Session, error) {
	m.mu.Lock()
	data, ok := m.sessions[stateKey(owner, peer)]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
