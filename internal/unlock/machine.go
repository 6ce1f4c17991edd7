// Package unlock implements the secure unlock state machine guarding the
// wallet key.
//
// The machine is the single source of truth for wallet-key availability. It
// owns the only live copy of the key, mediates PIN and biometric unlock
// against the keystore, and clears the material on every transition away
// from an acquired state. Operations called in the wrong state fail with an
// *InvalidStateError; that is a caller bug, not a runtime condition.
package unlock

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// BiometricAttemptBudget is the number of failed non-cancellation biometric
// attempts allowed before biometric unlock is disabled for the session
const BiometricAttemptBudget = 3

// Kind identifies the current unlock state
type Kind string

const (
	KindInitializing  Kind = "initializing"
	KindNotConfigured Kind = "not_configured"
	KindLocked        Kind = "locked"
	KindKeyAcquired   Kind = "key_acquired"
	KindUnlocked      Kind = "unlocked"
)

// In-flight operation markers. At most one store-touching operation runs at
// a time; a second call during that window fails the state precondition.
const (
	opInitialize       = "initialize"
	opSetup            = "setup"
	opUnlockPin        = "unlock_pin"
	opUnlockBiometrics = "unlock_biometrics"
	opConfirm          = "confirm"
)

// Store is the wallet key storage contract the machine drives.
// *keystore.Service implements it.
type Store interface {
	// WalletKeyVersion returns the derivation version configured for the wallet.
	WalletKeyVersion(ctx context.Context) (domain.KeyVersion, error)

	// GetSalt returns the stored salt for a version, or nil when absent.
	GetSalt(ctx context.Context, version domain.KeyVersion) (*domain.Salt, error)

	// CreateAndStoreSalt generates and persists a fresh derivation salt.
	CreateAndStoreSalt(ctx context.Context, useBiometrics bool, version domain.KeyVersion) (*domain.Salt, error)

	// WalletKeyFromPIN derives the wallet key from a PIN.
	WalletKeyFromPIN(ctx context.Context, pin string, version domain.KeyVersion) (*domain.WalletKey, error)

	// WalletKeyFromBiometrics releases the wallet key through the biometric
	// gate. A wallet without a stored biometric copy returns (nil, nil).
	WalletKeyFromBiometrics(ctx context.Context, version domain.KeyVersion) (*domain.WalletKey, error)

	// StoreWalletKey persists a biometric copy of the key.
	StoreWalletKey(ctx context.Context, key *domain.WalletKey) error

	// BiometricsAvailable reports whether the device can perform biometric
	// verification.
	BiometricsAvailable(ctx context.Context) bool
}

// State is a point-in-time snapshot of the machine. Fields beyond Kind are
// meaningful only for the states that carry them.
type State[T any] struct {
	Kind             Kind
	CanUseBiometrics bool
	CanTryBiometrics bool
	IsUnlocking      bool
	AttemptCount     int
	UnlockMethod     domain.UnlockMethod
	Context          T
}

// ValidOptions controls SetWalletKeyValid
type ValidOptions struct {
	// EnableBiometrics stores a biometric copy of the key. Ignored when the
	// device reported no biometric capability at initialization.
	EnableBiometrics bool
}

// Machine is the secure unlock state machine. T is the caller-supplied
// context carried by the Unlocked state. One instance exists per session;
// all methods are safe for concurrent use, but only one store-touching
// operation may be in flight at a time. Reinitialize may run concurrently
// with such an operation: the operation then abandons its transition
// instead of applying it over the reset state.
type Machine[T any] struct {
	store  Store
	logger *zap.Logger

	mu               sync.Mutex
	kind             Kind
	pending          string
	gen              uint64
	version          domain.KeyVersion
	canUseBiometrics bool
	canTryBiometrics bool
	attemptCount     int
	key              *domain.WalletKey
	method           domain.UnlockMethod
	context          T
}

// NewMachine creates a machine in the Initializing state
func NewMachine[T any](store Store, logger *zap.Logger) *Machine[T] {
	return &Machine[T]{
		store:  store,
		logger: logger.Named("unlock"),
		kind:   KindInitializing,
	}
}

// State returns a snapshot of the current state
func (m *Machine[T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State[T]{
		Kind:             m.kind,
		CanUseBiometrics: m.canUseBiometrics,
		CanTryBiometrics: m.canTryBiometrics,
		IsUnlocking:      m.pending == opUnlockPin || m.pending == opUnlockBiometrics,
		AttemptCount:     m.attemptCount,
		UnlockMethod:     m.method,
		Context:          m.context,
	}
}

// WalletKey returns the held wallet key. Valid only in KeyAcquired and
// Unlocked; the machine retains ownership and zeroes the material on the
// next transition to Locked or on Reinitialize.
func (m *Machine[T]) WalletKey() (*domain.WalletKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind != KindKeyAcquired && m.kind != KindUnlocked {
		return nil, &InvalidStateError{Op: "WalletKey", State: m.kind}
	}
	return m.key, nil
}

// Initialize runs salt and capability detection. Valid only in Initializing
// and only once at a time; the detected salt decides Locked vs NotConfigured.
func (m *Machine[T]) Initialize(ctx context.Context) error {
	_, gen, err := m.begin(opInitialize, KindInitializing)
	if err != nil {
		return err
	}

	version, err := m.store.WalletKeyVersion(ctx)
	if err != nil {
		m.finish(opInitialize)
		return fmt.Errorf("failed to detect key version: %w", err)
	}
	salt, err := m.store.GetSalt(ctx, version)
	if err != nil {
		m.finish(opInitialize)
		return fmt.Errorf("failed to detect salt: %w", err)
	}
	available := m.store.BiometricsAvailable(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.resume(opInitialize, gen, KindInitializing); err != nil {
		return err
	}
	m.version = version
	m.canUseBiometrics = available
	m.canTryBiometrics = available
	if salt != nil {
		m.kind = KindLocked
	} else {
		m.kind = KindNotConfigured
	}
	m.logger.Debug("Initialized unlock state",
		zap.String("state", string(m.kind)),
		zap.Bool("biometrics", available))
	return nil
}

// Setup configures a fresh wallet from a PIN. Valid only in NotConfigured;
// on success the machine holds the derived key in KeyAcquired. A failed salt
// creation or derivation leaves the state unchanged.
func (m *Machine[T]) Setup(ctx context.Context, pin string) (*domain.WalletKey, error) {
	version, gen, err := m.begin(opSetup, KindNotConfigured)
	if err != nil {
		return nil, err
	}

	if _, err := m.store.CreateAndStoreSalt(ctx, false, version); err != nil {
		m.finish(opSetup)
		return nil, fmt.Errorf("failed to set up wallet: %w", err)
	}
	key, err := m.store.WalletKeyFromPIN(ctx, pin, version)
	if err != nil {
		m.finish(opSetup)
		return nil, fmt.Errorf("failed to set up wallet: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.resume(opSetup, gen, KindNotConfigured); err != nil {
		key.Zero()
		return nil, err
	}
	m.key = key
	m.method = domain.UnlockMethodPin
	m.kind = KindKeyAcquired
	m.logger.Info("Wallet configured", zap.Int("version", int(m.version)))
	return key, nil
}

// UnlockWithPIN unlocks the wallet with a PIN. Valid only in Locked while no
// other unlock is in flight. On failure the state stays Locked and the store
// error propagates.
func (m *Machine[T]) UnlockWithPIN(ctx context.Context, pin string) (*domain.WalletKey, error) {
	version, gen, err := m.begin(opUnlockPin, KindLocked)
	if err != nil {
		return nil, err
	}

	key, err := m.store.WalletKeyFromPIN(ctx, pin, version)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rerr := m.resume(opUnlockPin, gen, KindLocked); rerr != nil {
		key.Zero()
		return nil, rerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unlock with pin: %w", err)
	}
	m.key = key
	m.method = domain.UnlockMethodPin
	m.kind = KindKeyAcquired
	return key, nil
}

// TryUnlockWithBiometrics attempts a biometric unlock. Valid only in Locked
// while no other unlock is in flight. Returns (nil, nil) both when biometric
// attempts are not currently allowed and when the attempt failed without
// being fatal; callers inspect State().CanTryBiometrics to tell the cases
// apart. A user cancellation disables biometric unlock for the session, as
// does exceeding the attempt budget.
func (m *Machine[T]) TryUnlockWithBiometrics(ctx context.Context) (*domain.WalletKey, error) {
	m.mu.Lock()
	if err := m.checkLocked(opUnlockBiometrics); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !m.canTryBiometrics {
		m.mu.Unlock()
		return nil, nil
	}
	m.attemptCount++
	m.pending = opUnlockBiometrics
	version := m.version
	gen := m.gen
	m.mu.Unlock()

	key, err := m.store.WalletKeyFromBiometrics(ctx, version)

	m.mu.Lock()
	defer m.mu.Unlock()
	if rerr := m.resume(opUnlockBiometrics, gen, KindLocked); rerr != nil {
		key.Zero()
		return nil, rerr
	}

	if err != nil || key == nil {
		// A missing biometric copy counts like any other failed attempt.
		if domain.IsBiometricCancellation(err) {
			m.canTryBiometrics = false
			m.logger.Info("Biometric unlock cancelled, disabling for session")
		} else if m.attemptCount > BiometricAttemptBudget {
			m.canTryBiometrics = false
			m.logger.Info("Biometric attempt budget exhausted, disabling for session",
				zap.Int("attempts", m.attemptCount))
		}
		if err != nil {
			m.logger.Debug("Biometric unlock failed", zap.Error(err))
		}
		return nil, nil
	}

	m.key = key
	m.method = domain.UnlockMethodBiometrics
	m.kind = KindKeyAcquired
	return key, nil
}

// SetWalletKeyValid confirms the acquired key is usable and transitions to
// Unlocked carrying the caller context. With EnableBiometrics set and device
// capability present, a biometric copy of the key is persisted; this is the
// only path that writes the key to durable storage. A persistence failure
// leaves the machine in KeyAcquired.
func (m *Machine[T]) SetWalletKeyValid(ctx context.Context, context T, opts ValidOptions) error {
	m.mu.Lock()
	if m.kind != KindKeyAcquired || m.pending != "" {
		defer m.mu.Unlock()
		return &InvalidStateError{Op: "SetWalletKeyValid", State: m.kind, InProgress: m.pending != ""}
	}
	persist := opts.EnableBiometrics && m.canUseBiometrics
	key := m.key.Clone()
	gen := m.gen
	m.pending = opConfirm
	m.mu.Unlock()

	if persist {
		if err := m.store.StoreWalletKey(ctx, key); err != nil {
			key.Zero()
			m.finish(opConfirm)
			return fmt.Errorf("failed to store biometric key copy: %w", err)
		}
	}
	key.Zero()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.resume(opConfirm, gen, KindKeyAcquired); err != nil {
		return err
	}
	m.context = context
	m.kind = KindUnlocked
	m.logger.Info("Wallet unlocked", zap.String("method", string(m.method)))
	return nil
}

// SetWalletKeyInvalid rejects the acquired key and returns to Locked. A key
// acquired via biometrics additionally disables biometric unlock for the
// session, since the stored copy evidently does not open the wallet.
func (m *Machine[T]) SetWalletKeyInvalid() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind != KindKeyAcquired {
		return &InvalidStateError{Op: "SetWalletKeyInvalid", State: m.kind}
	}
	if m.method == domain.UnlockMethodBiometrics {
		m.canTryBiometrics = false
	}
	m.clearSecrets()
	m.kind = KindLocked
	m.logger.Info("Acquired wallet key rejected")
	return nil
}

// Lock clears the key and context and returns to Locked. Valid only in
// Unlocked.
func (m *Machine[T]) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind != KindUnlocked {
		return &InvalidStateError{Op: "Lock", State: m.kind}
	}
	m.clearSecrets()
	m.kind = KindLocked
	m.logger.Info("Wallet locked")
	return nil
}

// Reinitialize clears all in-memory secret material and counters and
// returns to Initializing. Valid in any state and idempotent; detection
// re-runs on the next Initialize call.
func (m *Machine[T]) Reinitialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearSecrets()
	m.pending = ""
	m.gen++
	m.canUseBiometrics = false
	m.canTryBiometrics = false
	m.attemptCount = 0
	m.version = 0
	m.kind = KindInitializing
}

// begin asserts the precondition state, marks op in flight, and returns the
// key version and generation the operation should carry through its store
// call
func (m *Machine[T]) begin(op string, want Kind) (domain.KeyVersion, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind != want || m.pending != "" {
		return 0, 0, &InvalidStateError{Op: op, State: m.kind, InProgress: m.pending != ""}
	}
	m.pending = op
	return m.version, m.gen, nil
}

// resume clears op's in-flight marker after a store call and re-asserts the
// state the operation began from. A Reinitialize during the unlocked window
// bumps the generation; the caller must then abandon its transition rather
// than apply it to the reset machine. Callers hold mu.
func (m *Machine[T]) resume(op string, gen uint64, want Kind) error {
	if m.pending == op {
		m.pending = ""
	}
	if m.gen != gen || m.kind != want {
		return &InvalidStateError{Op: op, State: m.kind}
	}
	return nil
}

// checkLocked asserts Locked with no unlock in flight; callers hold mu
func (m *Machine[T]) checkLocked(op string) error {
	if m.kind != KindLocked || m.pending != "" {
		return &InvalidStateError{Op: op, State: m.kind, InProgress: m.pending != ""}
	}
	return nil
}

// finish clears op's in-flight marker without a transition; used on failure.
// A marker already cleared by Reinitialize, and possibly re-taken by a newer
// operation, is left alone.
func (m *Machine[T]) finish(op string) {
	m.mu.Lock()
	if m.pending == op {
		m.pending = ""
	}
	m.mu.Unlock()
}

// clearSecrets zeroes the key and context in place; callers hold mu
func (m *Machine[T]) clearSecrets() {
	m.key.Zero()
	m.key = nil
	m.method = ""
	var zero T
	m.context = zero
}
