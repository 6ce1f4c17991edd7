package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	keys        *KeyStore
	credentials *CredentialStore
	devices     *DeviceStore
	challenges  *ChallengeStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		keys:        &KeyStore{data: make(map[string]*domain.KeyRecord)},
		credentials: &CredentialStore{data: make(map[string]*domain.StoredCredential)},
		devices:     &DeviceStore{data: make(map[string]*domain.Device)},
		challenges:  &ChallengeStore{data: make(map[string]*domain.PairingChallenge)},
	}
}

func (s *Store) Keys() storage.KeyStore               { return s.keys }
func (s *Store) Credentials() storage.CredentialStore { return s.credentials }
func (s *Store) Devices() storage.DeviceStore         { return s.devices }
func (s *Store) Challenges() storage.ChallengeStore   { return s.challenges }
func (s *Store) Close() error                         { return nil }
func (s *Store) Ping(ctx context.Context) error       { return nil }

// KeyStore implements in-memory wallet key material storage
type KeyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.KeyRecord
}

func (s *KeyStore) Create(ctx context.Context, record *domain.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.WalletID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := s.data[record.WalletID]; exists {
		return storage.ErrAlreadyExists
	}

	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	s.data[record.WalletID] = record
	return nil
}

func (s *KeyStore) Get(ctx context.Context, walletID string) (*domain.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.data[walletID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (s *KeyStore) Update(ctx context.Context, record *domain.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[record.WalletID]; !exists {
		return storage.ErrNotFound
	}

	record.UpdatedAt = time.Now()
	s.data[record.WalletID] = record
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[walletID]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, walletID)
	return nil
}

// CredentialStore implements in-memory stored credential storage
type CredentialStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StoredCredential
}

func (s *CredentialStore) Create(ctx context.Context, credential *domain.StoredCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credential.ID == "" || credential.WalletID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := s.data[credential.ID]; exists {
		return storage.ErrAlreadyExists
	}

	credential.CreatedAt = time.Now()
	credential.UpdatedAt = time.Now()
	s.data[credential.ID] = credential
	return nil
}

func (s *CredentialStore) GetByID(ctx context.Context, walletID, id string) (*domain.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credential, exists := s.data[id]
	if !exists || credential.WalletID != walletID {
		return nil, storage.ErrNotFound
	}
	return credential, nil
}

func (s *CredentialStore) GetAllByWallet(ctx context.Context, walletID string) ([]*domain.StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credentials := make([]*domain.StoredCredential, 0)
	for _, credential := range s.data {
		if credential.WalletID == walletID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (s *CredentialStore) Delete(ctx context.Context, walletID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, exists := s.data[id]
	if !exists || credential.WalletID != walletID {
		return storage.ErrNotFound
	}

	delete(s.data, id)
	return nil
}

func (s *CredentialStore) DeleteByWallet(ctx context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, credential := range s.data {
		if credential.WalletID == walletID {
			delete(s.data, id)
		}
	}
	return nil
}

// DeviceStore implements in-memory paired device storage
type DeviceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Device
}

func (s *DeviceStore) Create(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.UUID.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := s.data[device.UUID.ID]; exists {
		return storage.ErrAlreadyExists
	}
	for _, existing := range s.data {
		if existing.WalletID == device.WalletID {
			return storage.ErrAlreadyExists
		}
	}

	device.PairedAt = time.Now()
	device.LastSeenAt = time.Now()
	s.data[device.UUID.ID] = device
	return nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, exists := s.data[id.ID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return device, nil
}

func (s *DeviceStore) GetByWallet(ctx context.Context, walletID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, device := range s.data {
		if device.WalletID == walletID {
			return device, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *DeviceStore) Update(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[device.UUID.ID]; !exists {
		return storage.ErrNotFound
	}

	device.LastSeenAt = time.Now()
	s.data[device.UUID.ID] = device
	return nil
}

func (s *DeviceStore) Delete(ctx context.Context, id domain.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id.ID]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, id.ID)
	return nil
}

// ChallengeStore implements in-memory WebAuthn challenge storage
type ChallengeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PairingChallenge
}

func (s *ChallengeStore) Create(ctx context.Context, challenge *domain.PairingChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if challenge.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := s.data[challenge.ID]; exists {
		return storage.ErrAlreadyExists
	}

	challenge.CreatedAt = time.Now()
	s.data[challenge.ID] = challenge
	return nil
}

func (s *ChallengeStore) GetByID(ctx context.Context, id string) (*domain.PairingChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return challenge, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, id)
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, challenge := range s.data {
		if now.After(challenge.ExpiresAt) {
			delete(s.data, id)
		}
	}
	return nil
}
