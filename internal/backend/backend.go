package backend

import (
	"context"
	"fmt"

	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/internal/storage/memory"
	"github.com/tusharbhayani/paradym-wallet/internal/storage/mongodb"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory uses in-memory storage (for testing/development)
	TypeMemory Type = "memory"
	// TypeMongoDB uses MongoDB storage (for production)
	TypeMongoDB Type = "mongodb"
)

// Backend wraps storage stores with a common interface for lifecycle management
type Backend interface {
	// Keys returns the wallet key material store
	Keys() storage.KeyStore
	// Credentials returns the stored credential store
	Credentials() storage.CredentialStore
	// Devices returns the paired device store
	Devices() storage.DeviceStore
	// Challenges returns the challenge store
	Challenges() storage.ChallengeStore
	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
	// Close closes the storage connection
	Close() error
}

// memoryBackend wraps the memory store to implement Backend
type memoryBackend struct {
	store *memory.Store
}

func (b *memoryBackend) Keys() storage.KeyStore               { return b.store.Keys() }
func (b *memoryBackend) Credentials() storage.CredentialStore { return b.store.Credentials() }
func (b *memoryBackend) Devices() storage.DeviceStore         { return b.store.Devices() }
func (b *memoryBackend) Challenges() storage.ChallengeStore   { return b.store.Challenges() }
func (b *memoryBackend) Ping(ctx context.Context) error       { return b.store.Ping(ctx) }
func (b *memoryBackend) Close() error                         { return nil }

// mongoBackend wraps the MongoDB store to implement Backend
type mongoBackend struct {
	store *mongodb.Store
}

func (b *mongoBackend) Keys() storage.KeyStore               { return b.store.Keys() }
func (b *mongoBackend) Credentials() storage.CredentialStore { return b.store.Credentials() }
func (b *mongoBackend) Devices() storage.DeviceStore         { return b.store.Devices() }
func (b *mongoBackend) Challenges() storage.ChallengeStore   { return b.store.Challenges() }
func (b *mongoBackend) Ping(ctx context.Context) error       { return b.store.Ping(ctx) }
func (b *mongoBackend) Close() error                         { return b.store.Close() }

// New creates a storage backend based on the configuration
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	storageType := Type(cfg.Storage.Type)

	switch storageType {
	case TypeMemory, "":
		// Default to memory if not specified
		store := memory.NewStore()
		return &memoryBackend{store: store}, nil

	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		return &mongoBackend{store: store}, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
