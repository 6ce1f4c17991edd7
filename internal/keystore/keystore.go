// Package keystore derives, verifies, and releases wallet keys.
//
// The wallet key is never stored directly. A PIN unlock derives it with
// Argon2id over a stored salt and proves the result against a sealed key
// check. A biometric unlock opens a stored wrapped copy with a secret the
// paired device only releases after platform biometric verification.
package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
)

// MinPINLength is the minimum accepted PIN length
const MinPINLength = 6

// Argon2id parameters for PIN derivation
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// keyCheckPlaintext is the marker sealed under a freshly derived key.
// Opening the seal with a key derived from a wrong PIN fails.
var keyCheckPlaintext = []byte("wallet-key-check")

// wrapInfo labels the HKDF expansion of the device secret
var wrapInfo = []byte("wallet-key-wrap")

// BiometricGate authorizes biometric key release through the paired device.
// Implementations run the platform biometric prompt on the device and hand
// back the wrapping secret it protects.
type BiometricGate interface {
	// Available reports whether the device can perform biometric verification.
	Available(ctx context.Context) bool

	// Enroll asks the device to protect a new wrapping secret and returns it.
	Enroll(ctx context.Context) ([]byte, error)

	// Authorize asks the device to release the wrapping secret after
	// platform biometric verification.
	Authorize(ctx context.Context) ([]byte, error)
}

// Service implements wallet key storage for a single wallet
type Service struct {
	walletID string
	keys     storage.KeyStore
	gate     BiometricGate
	logger   *zap.Logger
}

// NewService creates a keystore service bound to one wallet
func NewService(walletID string, keys storage.KeyStore, gate BiometricGate, logger *zap.Logger) *Service {
	return &Service{
		walletID: walletID,
		keys:     keys,
		gate:     gate,
		logger:   logger.Named("keystore").With(zap.String("wallet_id", walletID)),
	}
}

// ValidatePIN checks a PIN against the policy
func ValidatePIN(pin string) error {
	if len(pin) < MinPINLength {
		return ErrInvalidPIN
	}
	return nil
}

// WalletKeyVersion returns the derivation version configured for the wallet.
// A wallet without a key record reports the current version.
func (s *Service) WalletKeyVersion(ctx context.Context) (domain.KeyVersion, error) {
	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CurrentKeyVersion, nil
		}
		return 0, fmt.Errorf("failed to load key record: %w", err)
	}
	return record.Version, nil
}

// GetSalt returns the stored salt for a key version, or nil when the wallet
// has no salt for it
func (s *Service) GetSalt(ctx context.Context, version domain.KeyVersion) (*domain.Salt, error) {
	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}
	if record.Salt == nil || record.Salt.Version != version {
		return nil, nil
	}
	return record.Salt, nil
}

// CreateAndStoreSalt generates and persists a fresh derivation salt.
// The useBiometrics flag records whether the wallet intends to keep a
// biometric copy of the key.
func (s *Service) CreateAndStoreSalt(ctx context.Context, useBiometrics bool, version domain.KeyVersion) (*domain.Salt, error) {
	value := make([]byte, domain.SaltSize)
	if _, err := rand.Read(value); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	salt := &domain.Salt{
		Version:    version,
		Value:      value,
		Biometrics: useBiometrics,
		CreatedAt:  time.Now(),
	}

	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to load key record: %w", err)
		}
		record = &domain.KeyRecord{
			WalletID: s.walletID,
			Version:  version,
			Salt:     salt,
		}
		if err := s.keys.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to store salt: %w", err)
		}
		s.logger.Debug("Created wallet salt", zap.Int("version", int(version)))
		return salt, nil
	}

	if record.Salt != nil {
		return nil, ErrSaltExists
	}

	record.Version = version
	record.Salt = salt
	if err := s.keys.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}

	s.logger.Debug("Created wallet salt", zap.Int("version", int(version)))
	return salt, nil
}

// WalletKeyFromPIN derives the wallet key from a PIN.
// The first derivation after salt creation seals a key check; later
// derivations must open it, so a wrong PIN returns ErrWrongPIN.
func (s *Service) WalletKeyFromPIN(ctx context.Context, pin string, version domain.KeyVersion) (*domain.WalletKey, error) {
	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}
	if record.Salt == nil || record.Salt.Version != version {
		return nil, ErrNotConfigured
	}

	material := argon2.IDKey([]byte(pin), record.Salt.Value, argonTime, argonMemory, argonThreads, domain.WalletKeySize)
	key := domain.NewWalletKey(version, material)

	if record.KeyCheck == nil {
		nonce, box, err := seal(key.Bytes, keyCheckPlaintext)
		if err != nil {
			key.Zero()
			return nil, fmt.Errorf("failed to seal key check: %w", err)
		}
		record.KeyCheck = &domain.KeyCheck{
			Version:   version,
			Nonce:     nonce,
			Box:       box,
			CreatedAt: time.Now(),
		}
		if err := s.keys.Update(ctx, record); err != nil {
			key.Zero()
			return nil, fmt.Errorf("failed to store key check: %w", err)
		}
		s.logger.Debug("Sealed wallet key check", zap.Int("version", int(version)))
		return key, nil
	}

	if record.KeyCheck.Version != version {
		key.Zero()
		return nil, ErrCorruptRecord
	}

	if _, err := open(key.Bytes, record.KeyCheck.Nonce, record.KeyCheck.Box); err != nil {
		key.Zero()
		return nil, ErrWrongPIN
	}

	return key, nil
}

// WalletKeyFromBiometrics releases the wallet key through the biometric gate.
// A wallet without a wrapped copy returns (nil, nil). A cancellation by the
// user surfaces as a domain.BiometricError with reason user_cancelled.
func (s *Service) WalletKeyFromBiometrics(ctx context.Context, version domain.KeyVersion) (*domain.WalletKey, error) {
	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}
	if record.WrappedKey == nil || record.WrappedKey.Version != version {
		return nil, nil
	}
	if record.Salt == nil {
		return nil, ErrCorruptRecord
	}

	secret, err := s.gate.Authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize biometrics: %w", err)
	}

	kek, err := deriveWrapKey(secret, record.Salt.Value)
	zero(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	material, err := open(kek, record.WrappedKey.Nonce, record.WrappedKey.Box)
	zero(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap wallet key: %w", err)
	}

	s.logger.Debug("Released wallet key via biometrics", zap.Int("version", int(version)))
	return domain.NewWalletKey(version, material), nil
}

// StoreWalletKey wraps the key under a device secret and persists the copy
// for later biometric release
func (s *Service) StoreWalletKey(ctx context.Context, key *domain.WalletKey) error {
	if key == nil || key.IsZero() {
		return fmt.Errorf("%w: refusing to store empty key", ErrCorruptRecord)
	}

	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotConfigured
		}
		return fmt.Errorf("failed to load key record: %w", err)
	}
	if record.Salt == nil {
		return ErrNotConfigured
	}

	secret, err := s.gate.Enroll(ctx)
	if err != nil {
		return fmt.Errorf("failed to enroll biometrics: %w", err)
	}

	kek, err := deriveWrapKey(secret, record.Salt.Value)
	zero(secret)
	if err != nil {
		return fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	nonce, box, err := seal(kek, key.Bytes)
	zero(kek)
	if err != nil {
		return fmt.Errorf("failed to wrap wallet key: %w", err)
	}

	record.WrappedKey = &domain.WrappedKey{
		Version:   key.Version,
		Nonce:     nonce,
		Box:       box,
		CreatedAt: time.Now(),
	}
	record.Salt.Biometrics = true

	if err := s.keys.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to store wrapped key: %w", err)
	}

	s.logger.Debug("Stored biometric wallet key copy", zap.Int("version", int(key.Version)))
	return nil
}

// BiometricsAvailable reports whether the paired device can perform
// biometric verification at all, independent of wallet configuration
func (s *Service) BiometricsAvailable(ctx context.Context) bool {
	return s.gate.Available(ctx)
}

// CanUseBiometrics reports whether the wallet may attempt biometric unlock
func (s *Service) CanUseBiometrics(ctx context.Context) (bool, error) {
	record, err := s.keys.Get(ctx, s.walletID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load key record: %w", err)
	}
	if record.Salt == nil || !record.Salt.Biometrics {
		return false, nil
	}
	return s.gate.Available(ctx), nil
}

// deriveWrapKey expands a device secret into an AES key bound to the salt
func deriveWrapKey(secret, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, wrapInfo)
	kek := make([]byte, 32)
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, err
	}
	return kek, nil
}

func seal(key, plaintext []byte) (nonce, box []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, box []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, box, nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
