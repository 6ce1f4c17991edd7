package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

// Store implements MongoDB storage
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	cfg      *config.MongoDBConfig

	keys        *KeyStore
	credentials *CredentialStore
	devices     *DeviceStore
	challenges  *ChallengeStore
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *config.MongoDBConfig) (*Store, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(time.Duration(cfg.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)

	s := &Store{
		client:   client,
		database: database,
		cfg:      cfg,
	}

	// Initialize sub-stores
	s.keys = &KeyStore{collection: database.Collection("wallet_keys")}
	s.credentials = &CredentialStore{collection: database.Collection("credentials")}
	s.devices = &DeviceStore{collection: database.Collection("devices")}
	s.challenges = &ChallengeStore{collection: database.Collection("challenges")}

	// Create indexes
	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// Credentials collection indexes
	_, err := s.credentials.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "wallet_id", Value: 1}}},
		{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "credential_configuration_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create credential indexes: %w", err)
	}

	// Devices collection indexes
	_, err = s.devices.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "wallet_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create device indexes: %w", err)
	}

	// Challenges collection indexes - with TTL for automatic expiration
	_, err = s.challenges.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create challenge indexes: %w", err)
	}

	return nil
}

func (s *Store) Keys() storage.KeyStore               { return s.keys }
func (s *Store) Credentials() storage.CredentialStore { return s.credentials }
func (s *Store) Devices() storage.DeviceStore         { return s.devices }
func (s *Store) Challenges() storage.ChallengeStore   { return s.challenges }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// KeyStore implements MongoDB wallet key material storage
type KeyStore struct {
	collection *mongo.Collection
}

func (s *KeyStore) Create(ctx context.Context, record *domain.KeyRecord) error {
	if record.WalletID == "" {
		return storage.ErrInvalidInput
	}

	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()

	_, err := s.collection.InsertOne(ctx, record)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create key record: %w", err)
	}
	return nil
}

func (s *KeyStore) Get(ctx context.Context, walletID string) (*domain.KeyRecord, error) {
	var record domain.KeyRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": walletID}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key record: %w", err)
	}
	return &record, nil
}

func (s *KeyStore) Update(ctx context.Context, record *domain.KeyRecord) error {
	record.UpdatedAt = time.Now()
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": record.WalletID}, record)
	if err != nil {
		return fmt.Errorf("failed to update key record: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, walletID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": walletID})
	if err != nil {
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CredentialStore implements MongoDB stored credential storage
type CredentialStore struct {
	collection *mongo.Collection
}

func (s *CredentialStore) Create(ctx context.Context, credential *domain.StoredCredential) error {
	if credential.ID == "" || credential.WalletID == "" {
		return storage.ErrInvalidInput
	}

	credential.CreatedAt = time.Now()
	credential.UpdatedAt = time.Now()

	_, err := s.collection.InsertOne(ctx, credential)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) GetByID(ctx context.Context, walletID, id string) (*domain.StoredCredential, error) {
	var credential domain.StoredCredential
	err := s.collection.FindOne(ctx, bson.M{"_id": id, "wallet_id": walletID}).Decode(&credential)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &credential, nil
}

func (s *CredentialStore) GetAllByWallet(ctx context.Context, walletID string) ([]*domain.StoredCredential, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"wallet_id": walletID})
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer cursor.Close(ctx)

	credentials := make([]*domain.StoredCredential, 0)
	for cursor.Next(ctx) {
		var credential domain.StoredCredential
		if err := cursor.Decode(&credential); err != nil {
			return nil, fmt.Errorf("failed to decode credential: %w", err)
		}
		credentials = append(credentials, &credential)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	return credentials, nil
}

func (s *CredentialStore) Delete(ctx context.Context, walletID, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "wallet_id": walletID})
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) DeleteByWallet(ctx context.Context, walletID string) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{"wallet_id": walletID})
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// DeviceStore implements MongoDB paired device storage
type DeviceStore struct {
	collection *mongo.Collection
}

func (s *DeviceStore) Create(ctx context.Context, device *domain.Device) error {
	if device.UUID.ID == "" {
		return storage.ErrInvalidInput
	}

	device.PairedAt = time.Now()
	device.LastSeenAt = time.Now()

	_, err := s.collection.InsertOne(ctx, device)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id domain.DeviceID) (*domain.Device, error) {
	var device domain.Device
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&device)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (s *DeviceStore) GetByWallet(ctx context.Context, walletID string) (*domain.Device, error) {
	var device domain.Device
	err := s.collection.FindOne(ctx, bson.M{"wallet_id": walletID}).Decode(&device)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (s *DeviceStore) Update(ctx context.Context, device *domain.Device) error {
	device.LastSeenAt = time.Now()
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": device.UUID}, device)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *DeviceStore) Delete(ctx context.Context, id domain.DeviceID) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ChallengeStore implements MongoDB WebAuthn challenge storage
type ChallengeStore struct {
	collection *mongo.Collection
}

func (s *ChallengeStore) Create(ctx context.Context, challenge *domain.PairingChallenge) error {
	if challenge.ID == "" {
		return storage.ErrInvalidInput
	}

	challenge.CreatedAt = time.Now()

	_, err := s.collection.InsertOne(ctx, challenge)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) GetByID(ctx context.Context, id string) (*domain.PairingChallenge, error) {
	var challenge domain.PairingChallenge
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&challenge)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &challenge, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$lt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return nil
}
