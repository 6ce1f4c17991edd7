package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// SessionData is the persisted record of a connected session. It lets a
// restarted backend and other replicas see which wallet is connected where;
// the live WebSocket state itself is not resumable.
type SessionData struct {
	ID        string            `json:"id"`
	WalletID  string            `json:"walletId"`
	DeviceID  string            `json:"deviceId"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the record has passed its TTL
func (d *SessionData) Expired() bool {
	return time.Now().After(d.ExpiresAt)
}

// SessionStore persists session records
type SessionStore interface {
	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*SessionData, error)

	// GetByWallet retrieves the session of a connected wallet
	GetByWallet(ctx context.Context, walletID string) (*SessionData, error)

	// Put stores a new session; an existing ID fails with ErrSessionExists
	Put(ctx context.Context, data *SessionData) error

	// Update replaces an existing session record
	Update(ctx context.Context, data *SessionData) error

	// Delete removes a session and its wallet index entry
	Delete(ctx context.Context, id string) error

	// DeleteByWallet removes the session of a wallet
	DeleteByWallet(ctx context.Context, walletID string) error

	// Cleanup removes expired records
	Cleanup(ctx context.Context) error

	// Close releases store resources
	Close() error
}

// NewSessionStore creates the session store configured for the deployment
func NewSessionStore(cfg config.SessionStoreConfig) (SessionStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemorySessionStore(), nil
	case "redis":
		return NewRedisSessionStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown session store type %q", cfg.Type)
	}
}

// MemorySessionStore is the in-memory store for single-instance
// deployments
type MemorySessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]*SessionData
	walletIndex map[string]string
}

// NewMemorySessionStore creates an empty in-memory store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions:    make(map[string]*SessionData),
		walletIndex: make(map[string]string),
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[id]
	if !ok || data.Expired() {
		return nil, ErrSessionNotFound
	}
	copied := *data
	return &copied, nil
}

func (s *MemorySessionStore) GetByWallet(ctx context.Context, walletID string) (*SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.walletIndex[walletID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	data, ok := s.sessions[id]
	if !ok || data.Expired() {
		return nil, ErrSessionNotFound
	}
	copied := *data
	return &copied, nil
}

func (s *MemorySessionStore) Put(ctx context.Context, data *SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[data.ID]; ok && !existing.Expired() {
		return ErrSessionExists
	}
	copied := *data
	s.sessions[data.ID] = &copied
	s.walletIndex[data.WalletID] = data.ID
	return nil
}

func (s *MemorySessionStore) Update(ctx context.Context, data *SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[data.ID]; !ok {
		return ErrSessionNotFound
	}
	copied := *data
	s.sessions[data.ID] = &copied
	s.walletIndex[data.WalletID] = data.ID
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	if s.walletIndex[data.WalletID] == id {
		delete(s.walletIndex, data.WalletID)
	}
	return nil
}

func (s *MemorySessionStore) DeleteByWallet(ctx context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletIndex[walletID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.walletIndex, walletID)
	return nil
}

func (s *MemorySessionStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, data := range s.sessions {
		if data.Expired() {
			delete(s.sessions, id)
			if s.walletIndex[data.WalletID] == id {
				delete(s.walletIndex, data.WalletID)
			}
		}
	}
	return nil
}

func (s *MemorySessionStore) Close() error {
	return nil
}

// RedisSessionStore persists sessions in Redis for multi-instance
// deployments. Expiry rides on Redis TTLs.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSessionStore connects to Redis and verifies the connection
func NewRedisSessionStore(cfg config.RedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "wallet:"
	}
	return &RedisSessionStore{client: client, keyPrefix: prefix}, nil
}

func (s *RedisSessionStore) sessionKey(id string) string {
	return s.keyPrefix + "session:" + id
}

func (s *RedisSessionStore) walletKey(walletID string) string {
	return s.keyPrefix + "session:wallet:" + walletID
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*SessionData, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if data.Expired() {
		return nil, ErrSessionNotFound
	}
	return &data, nil
}

func (s *RedisSessionStore) GetByWallet(ctx context.Context, walletID string) (*SessionData, error) {
	id, err := s.client.Get(ctx, s.walletKey(walletID)).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet session index: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisSessionStore) Put(ctx context.Context, data *SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(data.ID), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}

	if err := s.client.Set(ctx, s.walletKey(data.WalletID), data.ID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Update(ctx context.Context, data *SessionData) error {
	exists, err := s.client.Exists(ctx, s.sessionKey(data.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(data.ID), raw, ttl)
	pipe.Set(ctx, s.walletKey(data.WalletID), data.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	data, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, s.walletKey(data.WalletID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteByWallet(ctx context.Context, walletID string) error {
	id, err := s.client.Get(ctx, s.walletKey(walletID)).Result()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get wallet session index: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, s.walletKey(walletID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Cleanup is a no-op; Redis evicts expired sessions via key TTLs
func (s *RedisSessionStore) Cleanup(ctx context.Context) error {
	return nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
