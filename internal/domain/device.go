package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeviceID represents a unique paired-device identifier
type DeviceID struct {
	ID string `json:"id" bson:"id"`
}

// NewDeviceID creates a new device ID
func NewDeviceID() DeviceID {
	return DeviceID{ID: uuid.New().String()}
}

// DeviceIDFromString creates a DeviceID from a string
func DeviceIDFromString(id string) DeviceID {
	return DeviceID{ID: id}
}

// String returns the string representation
func (d DeviceID) String() string {
	return d.ID
}

// AsUserHandle returns the ID as bytes for WebAuthn
func (d DeviceID) AsUserHandle() []byte {
	return []byte(d.ID)
}

// DeviceIDFromUserHandle creates a DeviceID from a WebAuthn user handle
func DeviceIDFromUserHandle(handle []byte) DeviceID {
	return DeviceID{ID: string(handle)}
}

// Device represents a paired shell device hosting a wallet
type Device struct {
	UUID                DeviceID             `json:"uuid" bson:"_id"`
	WalletID            string               `json:"wallet_id" bson:"wallet_id"`
	Name                string               `json:"name" bson:"name"`
	Platform            string               `json:"platform" bson:"platform"`
	Biometrics          bool                 `json:"biometrics" bson:"biometrics"`
	WebauthnCredentials []WebauthnCredential `json:"webauthn_credentials,omitempty" bson:"webauthn_credentials,omitempty"`
	PairedAt            time.Time            `json:"paired_at" bson:"paired_at"`
	LastSeenAt          time.Time            `json:"last_seen_at" bson:"last_seen_at"`
}

// WebauthnCredential represents a WebAuthn credential
type WebauthnCredential struct {
	ID              string        `json:"id" bson:"id"`
	CredentialID    []byte        `json:"credentialId" bson:"credential_id"`
	PublicKey       []byte        `json:"public_key" bson:"public_key"`
	AttestationType string        `json:"attestation_type" bson:"attestation_type"`
	Transport       []string      `json:"transport" bson:"transport"`
	Flags           uint8         `json:"flags" bson:"flags"`
	Authenticator   Authenticator `json:"authenticator" bson:"authenticator"`
	Nickname        *string       `json:"nickname,omitempty" bson:"nickname,omitempty"`
	CreatedAt       time.Time     `json:"createTime" bson:"created_at"`
	LastUseTime     *time.Time    `json:"lastUseTime,omitempty" bson:"last_use_time,omitempty"`
}

// Authenticator represents the authenticator data
type Authenticator struct {
	AAGUID       []byte `json:"aaguid" bson:"aaguid"`
	SignCount    uint32 `json:"sign_count" bson:"sign_count"`
	CloneWarning bool   `json:"clone_warning" bson:"clone_warning"`
	Attachment   string `json:"attachment" bson:"attachment"`
}

// PairingChallenge represents a WebAuthn ceremony challenge
type PairingChallenge struct {
	ID        string    `json:"id" bson:"_id" gorm:"primaryKey"`
	DeviceID  string    `json:"device_id" bson:"device_id" gorm:"index;not null"`
	WalletID  string    `json:"wallet_id" bson:"wallet_id" gorm:"index"`
	Challenge string    `json:"challenge" bson:"challenge" gorm:"not null"`
	Action    string    `json:"action" bson:"action" gorm:"not null"` // "pair" or "verify"
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM
func (PairingChallenge) TableName() string {
	return "pairing_challenges"
}

// IsExpired checks if the challenge has expired
func (c *PairingChallenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
