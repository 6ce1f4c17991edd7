package unlock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// fakeStore is a Store with scriptable salt presence and unlock outcomes
type fakeStore struct {
	salt       *domain.Salt
	biometrics bool

	pin        string
	bioKey     []byte
	bioErr     error
	storeErr   error
	storeCalls int
}

func (s *fakeStore) WalletKeyVersion(ctx context.Context) (domain.KeyVersion, error) {
	return domain.CurrentKeyVersion, nil
}

func (s *fakeStore) GetSalt(ctx context.Context, version domain.KeyVersion) (*domain.Salt, error) {
	return s.salt, nil
}

func (s *fakeStore) CreateAndStoreSalt(ctx context.Context, useBiometrics bool, version domain.KeyVersion) (*domain.Salt, error) {
	s.salt = &domain.Salt{Version: version, Value: make([]byte, domain.SaltSize), Biometrics: useBiometrics}
	return s.salt, nil
}

func (s *fakeStore) WalletKeyFromPIN(ctx context.Context, pin string, version domain.KeyVersion) (*domain.WalletKey, error) {
	if s.pin != "" && pin != s.pin {
		return nil, errors.New("wrong pin")
	}
	s.pin = pin
	material := make([]byte, domain.WalletKeySize)
	copy(material, pin)
	return domain.NewWalletKey(version, material), nil
}

func (s *fakeStore) WalletKeyFromBiometrics(ctx context.Context, version domain.KeyVersion) (*domain.WalletKey, error) {
	if s.bioErr != nil {
		return nil, s.bioErr
	}
	if s.bioKey == nil {
		return nil, nil
	}
	return domain.NewWalletKey(version, append([]byte(nil), s.bioKey...)), nil
}

func (s *fakeStore) StoreWalletKey(ctx context.Context, key *domain.WalletKey) error {
	s.storeCalls++
	if s.storeErr != nil {
		return s.storeErr
	}
	s.bioKey = append([]byte(nil), key.Bytes...)
	return nil
}

func (s *fakeStore) BiometricsAvailable(ctx context.Context) bool {
	return s.biometrics
}

func newLocked(t *testing.T, store *fakeStore) *Machine[string] {
	t.Helper()
	if store.salt == nil {
		store.salt = &domain.Salt{Version: domain.CurrentKeyVersion, Value: make([]byte, domain.SaltSize)}
	}
	m := NewMachine[string](store, zap.NewNop())
	require.NoError(t, m.Initialize(t.Context()))
	require.Equal(t, KindLocked, m.State().Kind)
	return m
}

func TestMachine_Initialize(t *testing.T) {
	ctx := t.Context()

	t.Run("no salt goes to NotConfigured", func(t *testing.T) {
		m := NewMachine[string](&fakeStore{}, zap.NewNop())
		require.NoError(t, m.Initialize(ctx))
		assert.Equal(t, KindNotConfigured, m.State().Kind)
	})

	t.Run("salt goes to Locked", func(t *testing.T) {
		store := &fakeStore{salt: &domain.Salt{Version: domain.CurrentKeyVersion}, biometrics: true}
		m := NewMachine[string](store, zap.NewNop())
		require.NoError(t, m.Initialize(ctx))
		state := m.State()
		assert.Equal(t, KindLocked, state.Kind)
		assert.True(t, state.CanUseBiometrics)
		assert.True(t, state.CanTryBiometrics)
	})

	t.Run("second initialize is a contract violation", func(t *testing.T) {
		m := NewMachine[string](&fakeStore{}, zap.NewNop())
		require.NoError(t, m.Initialize(ctx))
		err := m.Initialize(ctx)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestMachine_Setup(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{}
	m := NewMachine[string](store, zap.NewNop())
	require.NoError(t, m.Initialize(ctx))

	key, err := m.Setup(ctx, "123456")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.False(t, key.IsZero(), "setup must yield a non-empty wallet key")

	state := m.State()
	assert.Equal(t, KindKeyAcquired, state.Kind)
	assert.Equal(t, domain.UnlockMethodPin, state.UnlockMethod)
}

func TestMachine_Setup_WrongState(t *testing.T) {
	m := newLocked(t, &fakeStore{})

	_, err := m.Setup(t.Context(), "123456")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, KindLocked, ise.State)
}

func TestMachine_UnlockWithPIN(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{pin: "123456"}
	m := newLocked(t, store)

	key, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, KindKeyAcquired, m.State().Kind)
}

func TestMachine_UnlockWithPIN_Wrong(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{pin: "123456"}
	m := newLocked(t, store)

	key, err := m.UnlockWithPIN(ctx, "654321")
	require.Error(t, err)
	assert.Nil(t, key)

	state := m.State()
	assert.Equal(t, KindLocked, state.Kind, "failed unlock stays Locked")
	assert.False(t, state.IsUnlocking, "is_unlocking resets after failure")

	// The machine remains usable with the right PIN
	_, err = m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)
}

func TestMachine_TryUnlockWithBiometrics(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true, bioKey: []byte("0123456789abcdef0123456789abcdef")}
	m := newLocked(t, store)

	key, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	require.NotNil(t, key)

	state := m.State()
	assert.Equal(t, KindKeyAcquired, state.Kind)
	assert.Equal(t, domain.UnlockMethodBiometrics, state.UnlockMethod)
	assert.Equal(t, 1, state.AttemptCount)
}

func TestMachine_TryUnlockWithBiometrics_NotAllowed(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: false}
	m := newLocked(t, store)

	key, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, key, "skip returns (nil, nil)")
	assert.Equal(t, 0, m.State().AttemptCount, "skipped attempt is not counted")
}

func TestMachine_TryUnlockWithBiometrics_Cancelled(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true}
	store.bioErr = &domain.BiometricError{Op: "authorize", Reason: domain.BiometricUserCancelled}
	m := newLocked(t, store)

	key, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, key)

	state := m.State()
	assert.Equal(t, KindLocked, state.Kind)
	assert.False(t, state.CanTryBiometrics, "a single cancellation disables biometrics")
	assert.Equal(t, 1, state.AttemptCount)
}

func TestMachine_TryUnlockWithBiometrics_AttemptBudget(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true}
	store.bioErr = &domain.BiometricError{Op: "authorize", Reason: domain.BiometricFailed}
	m := newLocked(t, store)

	for i := 1; i <= BiometricAttemptBudget; i++ {
		key, err := m.TryUnlockWithBiometrics(ctx)
		require.NoError(t, err)
		assert.Nil(t, key)
		assert.True(t, m.State().CanTryBiometrics, "attempt %d stays within budget", i)
	}

	// Fourth failure exceeds the budget
	key, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, key)
	state := m.State()
	assert.False(t, state.CanTryBiometrics)
	assert.Equal(t, 4, state.AttemptCount)

	// Disabled biometrics now short-circuit without prompting
	key, err = m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, key)
	assert.Equal(t, 4, m.State().AttemptCount)
}

func TestMachine_TryUnlockWithBiometrics_AbsentCopyCounts(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true} // no bioKey stored
	m := newLocked(t, store)

	key, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, key)

	state := m.State()
	assert.Equal(t, 1, state.AttemptCount, "absent copy counts against the budget")
	assert.True(t, state.CanTryBiometrics)
}

func TestMachine_SetWalletKeyValid(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true}
	m := newLocked(t, store)

	_, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	err = m.SetWalletKeyValid(ctx, "session-ctx", ValidOptions{EnableBiometrics: true})
	require.NoError(t, err)

	state := m.State()
	assert.Equal(t, KindUnlocked, state.Kind)
	assert.Equal(t, "session-ctx", state.Context)
	assert.Equal(t, 1, store.storeCalls, "biometric copy persisted once")
}

func TestMachine_SetWalletKeyValid_NoCapability(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: false}
	m := newLocked(t, store)

	_, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	err = m.SetWalletKeyValid(ctx, "ctx", ValidOptions{EnableBiometrics: true})
	require.NoError(t, err)
	assert.Equal(t, 0, store.storeCalls, "no capability means no persistence")
}

func TestMachine_SetWalletKeyValid_NoEnable(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true}
	m := newLocked(t, store)

	_, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	err = m.SetWalletKeyValid(ctx, "ctx", ValidOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, store.storeCalls)
}

func TestMachine_SetWalletKeyValid_PersistFailure(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true, storeErr: errors.New("device offline")}
	m := newLocked(t, store)

	_, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	err = m.SetWalletKeyValid(ctx, "ctx", ValidOptions{EnableBiometrics: true})
	require.Error(t, err)
	assert.Equal(t, KindKeyAcquired, m.State().Kind, "no transition on persistence failure")

	// Retry without persistence succeeds
	require.NoError(t, m.SetWalletKeyValid(ctx, "ctx", ValidOptions{}))
	assert.Equal(t, KindUnlocked, m.State().Kind)
}

func TestMachine_SetWalletKeyInvalid(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{}
	m := newLocked(t, store)

	key, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	require.NoError(t, m.SetWalletKeyInvalid())
	assert.Equal(t, KindLocked, m.State().Kind)
	assert.True(t, key.IsZero(), "rejected key is cleared in place")

	_, err = m.WalletKey()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMachine_SetWalletKeyInvalid_Biometrics(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true, bioKey: []byte("0123456789abcdef0123456789abcdef")}
	m := newLocked(t, store)

	_, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	require.Equal(t, KindKeyAcquired, m.State().Kind)

	require.NoError(t, m.SetWalletKeyInvalid())
	state := m.State()
	assert.Equal(t, KindLocked, state.Kind)
	assert.False(t, state.CanTryBiometrics,
		"rejecting a biometrically acquired key revokes biometric unlock")
}

func TestMachine_Lock(t *testing.T) {
	ctx := t.Context()
	m := newLocked(t, &fakeStore{})

	key, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, m.SetWalletKeyValid(ctx, "ctx", ValidOptions{}))

	require.NoError(t, m.Lock())
	state := m.State()
	assert.Equal(t, KindLocked, state.Kind)
	assert.Empty(t, state.Context, "context cleared on lock")
	assert.True(t, key.IsZero(), "key cleared on lock")
}

func TestMachine_Lock_WrongState(t *testing.T) {
	m := newLocked(t, &fakeStore{})
	assert.ErrorIs(t, m.Lock(), ErrInvalidState)
}

func TestMachine_Reinitialize(t *testing.T) {
	ctx := t.Context()
	store := &fakeStore{biometrics: true}
	store.bioErr = &domain.BiometricError{Op: "authorize", Reason: domain.BiometricUserCancelled}
	m := newLocked(t, store)

	// Burn the biometric session permission, then unlock and confirm
	_, err := m.TryUnlockWithBiometrics(ctx)
	require.NoError(t, err)
	require.False(t, m.State().CanTryBiometrics)

	key, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)
	require.NoError(t, m.SetWalletKeyValid(ctx, "ctx", ValidOptions{}))

	m.Reinitialize()
	state := m.State()
	assert.Equal(t, KindInitializing, state.Kind)
	assert.Equal(t, 0, state.AttemptCount)
	assert.False(t, state.CanTryBiometrics)
	assert.Empty(t, state.Context)
	assert.True(t, key.IsZero(), "reinitialize clears secrets")

	// Idempotent under repetition
	m.Reinitialize()
	assert.Equal(t, KindInitializing, m.State().Kind)

	// Detection re-runs and restores the biometric permission
	require.NoError(t, m.Initialize(ctx))
	state = m.State()
	assert.Equal(t, KindLocked, state.Kind)
	assert.True(t, state.CanTryBiometrics)
}

// blockingStore gates a store call so a test can interleave machine
// operations inside the window where the mutex is dropped for I/O.
type blockingStore struct {
	*fakeStore
	gatePIN bool
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore(inner *fakeStore, gatePIN bool) *blockingStore {
	return &blockingStore{
		fakeStore: inner,
		gatePIN:   gatePIN,
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (s *blockingStore) gate() {
	s.entered <- struct{}{}
	<-s.release
}

func (s *blockingStore) StoreWalletKey(ctx context.Context, key *domain.WalletKey) error {
	if !s.gatePIN {
		s.gate()
	}
	return s.fakeStore.StoreWalletKey(ctx, key)
}

func (s *blockingStore) WalletKeyFromPIN(ctx context.Context, pin string, version domain.KeyVersion) (*domain.WalletKey, error) {
	if s.gatePIN {
		s.gate()
	}
	return s.fakeStore.WalletKeyFromPIN(ctx, pin, version)
}

func TestMachine_ReinitializeDuringKeyConfirm(t *testing.T) {
	ctx := t.Context()
	inner := &fakeStore{biometrics: true}
	inner.salt = &domain.Salt{Version: domain.CurrentKeyVersion, Value: make([]byte, domain.SaltSize)}
	store := newBlockingStore(inner, false)
	m := NewMachine[string](store, zap.NewNop())
	require.NoError(t, m.Initialize(ctx))

	_, err := m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- m.SetWalletKeyValid(ctx, "session-ctx", ValidOptions{EnableBiometrics: true})
	}()
	<-store.entered

	// Session teardown resets the machine while the biometric copy is still
	// being persisted. The confirm must not land on top of the reset state.
	m.Reinitialize()
	close(store.release)

	assert.ErrorIs(t, <-done, ErrInvalidState)

	state := m.State()
	assert.Equal(t, KindInitializing, state.Kind)
	assert.Empty(t, state.Context)
	_, err = m.WalletKey()
	assert.ErrorIs(t, err, ErrInvalidState, "no key may survive the reset")
}

func TestMachine_ReinitializeDuringUnlock(t *testing.T) {
	ctx := t.Context()
	inner := &fakeStore{pin: "123456"}
	inner.salt = &domain.Salt{Version: domain.CurrentKeyVersion, Value: make([]byte, domain.SaltSize)}
	store := newBlockingStore(inner, true)
	m := NewMachine[string](store, zap.NewNop())
	require.NoError(t, m.Initialize(ctx))

	type result struct {
		key *domain.WalletKey
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := m.UnlockWithPIN(ctx, "123456")
		done <- result{key, err}
	}()
	<-store.entered

	m.Reinitialize()
	close(store.release)

	res := <-done
	assert.ErrorIs(t, res.err, ErrInvalidState)
	assert.Nil(t, res.key)

	state := m.State()
	assert.Equal(t, KindInitializing, state.Kind)
	assert.False(t, state.IsUnlocking)
	_, err := m.WalletKey()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMachine_ContractViolations(t *testing.T) {
	ctx := t.Context()
	m := newLocked(t, &fakeStore{})

	// Locked: only unlock operations are valid
	assert.ErrorIs(t, m.SetWalletKeyValid(ctx, "", ValidOptions{}), ErrInvalidState)
	assert.ErrorIs(t, m.SetWalletKeyInvalid(), ErrInvalidState)
	assert.ErrorIs(t, m.Lock(), ErrInvalidState)
	_, err := m.WalletKey()
	assert.ErrorIs(t, err, ErrInvalidState)

	// KeyAcquired: unlocks become invalid
	_, err = m.UnlockWithPIN(ctx, "123456")
	require.NoError(t, err)
	_, err = m.UnlockWithPIN(ctx, "123456")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = m.TryUnlockWithBiometrics(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = m.Setup(ctx, "123456")
	assert.ErrorIs(t, err, ErrInvalidState)

	key, err := m.WalletKey()
	require.NoError(t, err)
	assert.NotNil(t, key)
}
