package domain

import (
	"testing"
	"time"
)

func TestCredentialFormat_Constants(t *testing.T) {
	tests := []struct {
		format   CredentialFormat
		expected string
	}{
		{FormatJWTVC, "jwt_vc"},
		{FormatLDPVC, "ldp_vc"},
		{FormatSDJWTVC, "vc+sd-jwt"},
		{FormatMSOMdoc, "mso_mdoc"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if string(tt.format) != tt.expected {
				t.Errorf("Format = %q, want %q", tt.format, tt.expected)
			}
		})
	}
}

func TestStoredCredential_TableName(t *testing.T) {
	cred := StoredCredential{}
	if cred.TableName() != "stored_credentials" {
		t.Errorf("TableName() = %q, want %q", cred.TableName(), "stored_credentials")
	}
}

func TestStoredCredential_Fields(t *testing.T) {
	now := time.Now()
	cred := StoredCredential{
		ID:              "cred-1",
		WalletID:        "wallet-1",
		Format:          FormatSDJWTVC,
		Credential:      "eyJhbGciOi...",
		ConfigurationID: "pid-sd-jwt",
		Issuer:          "https://issuer.example.com",
		IssuedAt:        now,
	}

	if cred.Format != FormatSDJWTVC {
		t.Error("StoredCredential.Format not set correctly")
	}

	if cred.ConfigurationID != "pid-sd-jwt" {
		t.Error("StoredCredential.ConfigurationID not set correctly")
	}

	if cred.WalletID != "wallet-1" {
		t.Error("StoredCredential.WalletID not set correctly")
	}
}
