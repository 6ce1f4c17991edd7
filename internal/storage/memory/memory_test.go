package memory

import (
	"testing"
	"time"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
)

func TestNewStore(t *testing.T) {
	store := NewStore()

	if store == nil {
		t.Fatal("NewStore() returned nil")
	}

	if store.keys == nil {
		t.Error("NewStore() keys store not initialized")
	}

	if store.credentials == nil {
		t.Error("NewStore() credentials store not initialized")
	}

	if store.devices == nil {
		t.Error("NewStore() devices store not initialized")
	}

	if store.challenges == nil {
		t.Error("NewStore() challenges store not initialized")
	}
}

func TestStore_Close(t *testing.T) {
	store := NewStore()
	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestStore_Ping(t *testing.T) {
	ctx := t.Context()
	store := NewStore()

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// Key Store Tests

func TestKeyStore_Create(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	keys := store.Keys()

	record := &domain.KeyRecord{
		WalletID: "wallet-1",
		Version:  domain.CurrentKeyVersion,
		Salt: &domain.Salt{
			Version: domain.CurrentKeyVersion,
			Value:   []byte("0123456789abcdef0123456789abcdef"),
		},
	}

	err := keys.Create(ctx, record)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	retrieved, err := keys.Get(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if retrieved.Version != domain.CurrentKeyVersion {
		t.Error("Retrieved record version doesn't match")
	}

	if retrieved.Salt == nil {
		t.Error("Retrieved record should keep its salt")
	}
}

func TestKeyStore_Create_Duplicate(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	keys := store.Keys()

	record := &domain.KeyRecord{WalletID: "wallet-1", Version: 1}
	if err := keys.Create(ctx, record); err != nil {
		t.Fatalf("First Create() error = %v", err)
	}

	err := keys.Create(ctx, &domain.KeyRecord{WalletID: "wallet-1", Version: 1})
	if err != storage.ErrAlreadyExists {
		t.Errorf("Create() with duplicate wallet should return ErrAlreadyExists, got %v", err)
	}
}

func TestKeyStore_Create_EmptyWalletID(t *testing.T) {
	ctx := t.Context()
	store := NewStore()

	err := store.Keys().Create(ctx, &domain.KeyRecord{})
	if err != storage.ErrInvalidInput {
		t.Errorf("Create() without wallet ID should return ErrInvalidInput, got %v", err)
	}
}

func TestKeyStore_Get_NotFound(t *testing.T) {
	ctx := t.Context()
	store := NewStore()

	_, err := store.Keys().Get(ctx, "nonexistent")
	if err != storage.ErrNotFound {
		t.Errorf("Get() for nonexistent wallet should return ErrNotFound, got %v", err)
	}
}

func TestKeyStore_Update(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	keys := store.Keys()

	record := &domain.KeyRecord{WalletID: "wallet-1", Version: 1}
	if err := keys.Create(ctx, record); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	record.WrappedKey = &domain.WrappedKey{Version: 1, Nonce: []byte("n"), Box: []byte("b")}
	if err := keys.Update(ctx, record); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	retrieved, err := keys.Get(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if retrieved.WrappedKey == nil {
		t.Error("Update() should persist the wrapped key")
	}
}

func TestKeyStore_Update_NotFound(t *testing.T) {
	ctx := t.Context()
	store := NewStore()

	err := store.Keys().Update(ctx, &domain.KeyRecord{WalletID: "nonexistent"})
	if err != storage.ErrNotFound {
		t.Errorf("Update() for nonexistent wallet should return ErrNotFound, got %v", err)
	}
}

func TestKeyStore_Delete(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	keys := store.Keys()

	if err := keys.Create(ctx, &domain.KeyRecord{WalletID: "wallet-1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := keys.Delete(ctx, "wallet-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := keys.Get(ctx, "wallet-1")
	if err != storage.ErrNotFound {
		t.Errorf("Get() after Delete() should return ErrNotFound, got %v", err)
	}
}

// Credential Store Tests

func TestCredentialStore_CreateAndList(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	credentials := store.Credentials()

	cred := &domain.StoredCredential{
		ID:       "cred-1",
		WalletID: "wallet-1",
		Format:   domain.FormatSDJWTVC,
	}

	if err := credentials.Create(ctx, cred); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	other := &domain.StoredCredential{
		ID:       "cred-2",
		WalletID: "wallet-2",
		Format:   domain.FormatMSOMdoc,
	}
	if err := credentials.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list, err := credentials.GetAllByWallet(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("GetAllByWallet() error = %v", err)
	}

	if len(list) != 1 {
		t.Fatalf("GetAllByWallet() returned %d credentials, want 1", len(list))
	}

	if list[0].ID != "cred-1" {
		t.Errorf("GetAllByWallet() returned credential %q, want %q", list[0].ID, "cred-1")
	}
}

func TestCredentialStore_GetByID_WrongWallet(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	credentials := store.Credentials()

	cred := &domain.StoredCredential{ID: "cred-1", WalletID: "wallet-1"}
	if err := credentials.Create(ctx, cred); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := credentials.GetByID(ctx, "wallet-2", "cred-1")
	if err != storage.ErrNotFound {
		t.Errorf("GetByID() across wallets should return ErrNotFound, got %v", err)
	}
}

func TestCredentialStore_DeleteByWallet(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	credentials := store.Credentials()

	for _, id := range []string{"cred-1", "cred-2"} {
		cred := &domain.StoredCredential{ID: id, WalletID: "wallet-1"}
		if err := credentials.Create(ctx, cred); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if err := credentials.DeleteByWallet(ctx, "wallet-1"); err != nil {
		t.Fatalf("DeleteByWallet() error = %v", err)
	}

	list, err := credentials.GetAllByWallet(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("GetAllByWallet() error = %v", err)
	}

	if len(list) != 0 {
		t.Errorf("GetAllByWallet() after DeleteByWallet() returned %d credentials, want 0", len(list))
	}
}

// Device Store Tests

func TestDeviceStore_Create(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	devices := store.Devices()

	device := &domain.Device{
		UUID:     domain.NewDeviceID(),
		WalletID: "wallet-1",
		Name:     "Pixel 9",
		Platform: "android",
	}

	if err := devices.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	retrieved, err := devices.GetByID(ctx, device.UUID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if retrieved.Name != "Pixel 9" {
		t.Error("Retrieved device name doesn't match")
	}
}

func TestDeviceStore_Create_WalletAlreadyPaired(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	devices := store.Devices()

	first := &domain.Device{UUID: domain.NewDeviceID(), WalletID: "wallet-1"}
	if err := devices.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := &domain.Device{UUID: domain.NewDeviceID(), WalletID: "wallet-1"}
	err := devices.Create(ctx, second)
	if err != storage.ErrAlreadyExists {
		t.Errorf("Create() for an already paired wallet should return ErrAlreadyExists, got %v", err)
	}
}

func TestDeviceStore_GetByWallet(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	devices := store.Devices()

	device := &domain.Device{UUID: domain.NewDeviceID(), WalletID: "wallet-1"}
	if err := devices.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	retrieved, err := devices.GetByWallet(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("GetByWallet() error = %v", err)
	}

	if retrieved.UUID.ID != device.UUID.ID {
		t.Error("GetByWallet() returned the wrong device")
	}

	_, err = devices.GetByWallet(ctx, "wallet-2")
	if err != storage.ErrNotFound {
		t.Errorf("GetByWallet() for unpaired wallet should return ErrNotFound, got %v", err)
	}
}

// Challenge Store Tests

func TestChallengeStore_CreateAndGet(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	challenges := store.Challenges()

	challenge := &domain.PairingChallenge{
		ID:        "challenge-1",
		DeviceID:  "device-1",
		Challenge: "random",
		Action:    "pair",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}

	if err := challenges.Create(ctx, challenge); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	retrieved, err := challenges.GetByID(ctx, "challenge-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if retrieved.Action != "pair" {
		t.Error("Retrieved challenge action doesn't match")
	}
}

func TestChallengeStore_DeleteExpired(t *testing.T) {
	ctx := t.Context()
	store := NewStore()
	challenges := store.Challenges()

	expired := &domain.PairingChallenge{
		ID:        "expired",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	fresh := &domain.PairingChallenge{
		ID:        "fresh",
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}

	if err := challenges.Create(ctx, expired); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := challenges.Create(ctx, fresh); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := challenges.DeleteExpired(ctx); err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}

	if _, err := challenges.GetByID(ctx, "expired"); err != storage.ErrNotFound {
		t.Errorf("GetByID() for expired challenge should return ErrNotFound, got %v", err)
	}

	if _, err := challenges.GetByID(ctx, "fresh"); err != nil {
		t.Errorf("GetByID() for fresh challenge error = %v", err)
	}
}
