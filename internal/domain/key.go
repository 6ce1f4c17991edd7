package domain

import (
	"crypto/subtle"
	"time"
)

// KeyVersion identifies the derivation scheme that produced a wallet key
type KeyVersion int

// CurrentKeyVersion is the derivation scheme used for newly configured wallets
const CurrentKeyVersion KeyVersion = 1

const (
	// WalletKeySize is the size of derived wallet key material in bytes
	WalletKeySize = 32
	// SaltSize is the size of a derivation salt in bytes
	SaltSize = 32
)

// UnlockMethod represents how a wallet key was obtained
type UnlockMethod string

const (
	UnlockMethodPin        UnlockMethod = "pin"
	UnlockMethodBiometrics UnlockMethod = "biometrics"
)

// WalletKey represents the symmetric secret protecting a wallet.
// The unlock machine owns the only live copy; callers that need the
// material across an ownership boundary take a Clone and Zero it when done.
type WalletKey struct {
	Version KeyVersion
	Bytes   []byte
}

// NewWalletKey wraps raw key material in a WalletKey
func NewWalletKey(version KeyVersion, material []byte) *WalletKey {
	return &WalletKey{Version: version, Bytes: material}
}

// Clone returns an independent copy of the key material
func (k *WalletKey) Clone() *WalletKey {
	if k == nil {
		return nil
	}
	out := make([]byte, len(k.Bytes))
	copy(out, k.Bytes)
	return &WalletKey{Version: k.Version, Bytes: out}
}

// Zero overwrites the key material in place
func (k *WalletKey) Zero() {
	if k == nil {
		return
	}
	for i := range k.Bytes {
		k.Bytes[i] = 0
	}
}

// IsZero reports whether the key holds no usable material
func (k *WalletKey) IsZero() bool {
	if k == nil || len(k.Bytes) == 0 {
		return true
	}
	var acc byte
	for _, b := range k.Bytes {
		acc |= b
	}
	return acc == 0
}

// Equal compares key material in constant time
func (k *WalletKey) Equal(other *WalletKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Version == other.Version &&
		subtle.ConstantTimeCompare(k.Bytes, other.Bytes) == 1
}

// Salt represents the stored derivation salt for one key version
type Salt struct {
	Version    KeyVersion `json:"version" bson:"version"`
	Value      []byte     `json:"value" bson:"value"`
	Biometrics bool       `json:"biometrics" bson:"biometrics"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
}

// KeyCheck represents a sealed check value proving a derived key matches
// the configured wallet. The box is an AEAD seal of a fixed marker under
// the derived key; opening it with a key derived from a wrong PIN fails.
type KeyCheck struct {
	Version   KeyVersion `json:"version" bson:"version"`
	Nonce     []byte     `json:"nonce" bson:"nonce"`
	Box       []byte     `json:"box" bson:"box"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
}

// WrappedKey represents the wallet key sealed for biometric release.
// The box is an AEAD seal of the key under a secret only released by the
// paired device after platform biometric verification.
type WrappedKey struct {
	Version   KeyVersion `json:"version" bson:"version"`
	Nonce     []byte     `json:"nonce" bson:"nonce"`
	Box       []byte     `json:"box" bson:"box"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
}

// KeyRecord represents the persisted key material of one wallet
type KeyRecord struct {
	WalletID   string      `json:"wallet_id" bson:"_id"`
	Version    KeyVersion  `json:"version" bson:"version"`
	Salt       *Salt       `json:"salt,omitempty" bson:"salt,omitempty"`
	KeyCheck   *KeyCheck   `json:"key_check,omitempty" bson:"key_check,omitempty"`
	WrappedKey *WrappedKey `json:"wrapped_key,omitempty" bson:"wrapped_key,omitempty"`
	CreatedAt  time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" bson:"updated_at"`
}
