package domain

import (
	"time"
)

// CredentialFormat represents the format of a credential
type CredentialFormat string

const (
	FormatJWTVC   CredentialFormat = "jwt_vc"
	FormatLDPVC   CredentialFormat = "ldp_vc"
	FormatSDJWTVC CredentialFormat = "vc+sd-jwt"
	FormatMSOMdoc CredentialFormat = "mso_mdoc"
)

// CredentialRecord represents one credential returned by an issuer
type CredentialRecord struct {
	Format          CredentialFormat `json:"format"`
	Credential      string           `json:"credential"`
	ConfigurationID string           `json:"credentialConfigurationId"`
	Issuer          string           `json:"credentialIssuerIdentifier"`
}

// StoredCredential represents a credential held by a wallet
type StoredCredential struct {
	ID              string           `json:"id" bson:"_id" gorm:"primaryKey"`
	WalletID        string           `json:"walletId" bson:"wallet_id" gorm:"index;not null"`
	Format          CredentialFormat `json:"format" bson:"format" gorm:"not null"`
	Credential      string           `json:"credential" bson:"credential" gorm:"type:text;not null"`
	ConfigurationID string           `json:"credentialConfigurationId" bson:"credential_configuration_id" gorm:"not null"`
	Issuer          string           `json:"credentialIssuerIdentifier" bson:"credential_issuer_identifier" gorm:"not null"`
	IssuedAt        time.Time        `json:"issuedAt" bson:"issued_at"`
	CreatedAt       time.Time        `json:"createdAt,omitempty" bson:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time        `json:"updatedAt,omitempty" bson:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (StoredCredential) TableName() string {
	return "stored_credentials"
}
