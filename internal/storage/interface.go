package storage

import (
	"context"
	"errors"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// KeyStore defines the interface for wallet key material storage
type KeyStore interface {
	// Create creates the key record for a wallet
	Create(ctx context.Context, record *domain.KeyRecord) error

	// Get retrieves the key record for a wallet
	Get(ctx context.Context, walletID string) (*domain.KeyRecord, error)

	// Update updates the key record for a wallet
	Update(ctx context.Context, record *domain.KeyRecord) error

	// Delete deletes the key record for a wallet
	Delete(ctx context.Context, walletID string) error
}

// CredentialStore defines the interface for stored credential operations
type CredentialStore interface {
	// Create creates a new stored credential
	Create(ctx context.Context, credential *domain.StoredCredential) error

	// GetByID retrieves a credential by ID
	GetByID(ctx context.Context, walletID, id string) (*domain.StoredCredential, error)

	// GetAllByWallet retrieves all credentials held by a wallet
	GetAllByWallet(ctx context.Context, walletID string) ([]*domain.StoredCredential, error)

	// Delete deletes a credential
	Delete(ctx context.Context, walletID, id string) error

	// DeleteByWallet deletes all credentials held by a wallet
	DeleteByWallet(ctx context.Context, walletID string) error
}

// DeviceStore defines the interface for paired device storage
type DeviceStore interface {
	// Create creates a new device
	Create(ctx context.Context, device *domain.Device) error

	// GetByID retrieves a device by ID
	GetByID(ctx context.Context, id domain.DeviceID) (*domain.Device, error)

	// GetByWallet retrieves the device paired with a wallet
	GetByWallet(ctx context.Context, walletID string) (*domain.Device, error)

	// Update updates a device
	Update(ctx context.Context, device *domain.Device) error

	// Delete deletes a device
	Delete(ctx context.Context, id domain.DeviceID) error
}

// ChallengeStore defines the interface for WebAuthn challenge storage
type ChallengeStore interface {
	// Create creates a new challenge
	Create(ctx context.Context, challenge *domain.PairingChallenge) error

	// GetByID retrieves a challenge by ID
	GetByID(ctx context.Context, id string) (*domain.PairingChallenge, error)

	// Delete deletes a challenge
	Delete(ctx context.Context, id string) error

	// DeleteExpired deletes all expired challenges
	DeleteExpired(ctx context.Context) error
}

// Store aggregates all storage interfaces
type Store interface {
	Keys() KeyStore
	Credentials() CredentialStore
	Devices() DeviceStore
	Challenges() ChallengeStore

	// Close closes the storage connection
	Close() error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
}
