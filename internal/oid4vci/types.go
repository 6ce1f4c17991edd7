package oid4vci

import (
	"context"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// CredentialOffer represents an OpenID4VCI credential offer
type CredentialOffer struct {
	CredentialIssuer           string                 `json:"credential_issuer"`
	CredentialConfigurationIDs []string               `json:"credential_configuration_ids"`
	Grants                     map[string]interface{} `json:"grants,omitempty"`
}

// HasAuthorizationCodeGrant reports whether the offer carries the
// authorization-code grant
func (o *CredentialOffer) HasAuthorizationCodeGrant() bool {
	_, ok := o.Grants["authorization_code"]
	return ok
}

// IssuerState returns the issuer_state from the authorization-code grant,
// if present
func (o *CredentialOffer) IssuerState() string {
	grant, ok := o.Grants["authorization_code"].(map[string]interface{})
	if !ok {
		return ""
	}
	state, _ := grant["issuer_state"].(string)
	return state
}

// IssuerMetadata represents OpenID4VCI issuer metadata
type IssuerMetadata struct {
	CredentialIssuer                  string                      `json:"credential_issuer"`
	CredentialEndpoint                string                      `json:"credential_endpoint"`
	TokenEndpoint                     string                      `json:"token_endpoint,omitempty"`
	AuthorizationServer               string                      `json:"authorization_server,omitempty"`
	CredentialConfigurationsSupported map[string]CredentialConfig `json:"credential_configurations_supported,omitempty"`
}

// CredentialConfig represents one supported credential configuration
type CredentialConfig struct {
	Format              string                 `json:"format"`
	VCT                 string                 `json:"vct,omitempty"`
	Doctype             string                 `json:"doctype,omitempty"`
	Scope               string                 `json:"scope,omitempty"`
	ProofTypesSupported map[string]interface{} `json:"proof_types_supported,omitempty"`
}

// AuthorizationConfig identifies the wallet to the authorization server
type AuthorizationConfig struct {
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
}

// ResolveOfferRequest carries the offer URI and the wallet's OAuth identity
type ResolveOfferRequest struct {
	OfferURI      string              `json:"offerUri"`
	Authorization AuthorizationConfig `json:"authorization"`
}

// ResolvedAuthorizationRequest is the prepared authorization-code request.
// Present on a resolved offer only when the offer carries the
// authorization-code grant.
type ResolvedAuthorizationRequest struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope,omitempty"`
	IssuerState           string `json:"issuer_state,omitempty"`
	State                 string `json:"state"`
	CodeVerifier          string `json:"-"`
	AuthorizationURL      string `json:"authorization_url"`
}

// ResolvedOffer is the result of offer resolution
type ResolvedOffer struct {
	Offer                        CredentialOffer
	IssuerMetadata               IssuerMetadata
	ResolvedAuthorizationRequest *ResolvedAuthorizationRequest
}

// AccessToken is the token-endpoint result used for credential retrieval
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	CNonce      string `json:"c_nonce,omitempty"`
}

// ReceiveCredentialsRequest parametrizes credential retrieval
type ReceiveCredentialsRequest struct {
	AccessToken                *AccessToken
	ResolvedOffer              *ResolvedOffer
	CredentialConfigurationIDs []string
	ClientID                   string
	// TrustedSchemes restricts the credential issuer URL scheme; empty
	// disables the check.
	TrustedSchemes []string
}

// AuthorizationCodeProvider obtains the authorization code for a prepared
// authorization request. Implementations block until the user has completed
// the redirect leg, typically by round-tripping the authorization URL to
// the shell device.
type AuthorizationCodeProvider interface {
	AuthorizationCode(ctx context.Context, req *ResolvedAuthorizationRequest) (string, error)
}

// ProofSigner produces proof-of-possession JWTs over the wallet's holder
// key. Implementations may fail with a *domain.BiometricError when the
// platform gates signing behind biometric verification.
type ProofSigner interface {
	SignProof(ctx context.Context, audience, nonce string) (string, error)
}

// Client is the protocol client the issuance flow consumes
type Client interface {
	// ResolveOffer parses an offer URI, fetches the issuer's metadata, and
	// prepares the authorization-code request when the offer grants one.
	ResolveOffer(ctx context.Context, req ResolveOfferRequest) (*ResolvedOffer, error)

	// AcquireAccessToken drives the authorization-code exchange to an access
	// token, blocking on the AuthorizationCodeProvider.
	AcquireAccessToken(ctx context.Context, resolved *ResolvedOffer) (*AccessToken, error)

	// ReceiveCredentials retrieves one credential per configuration id.
	ReceiveCredentials(ctx context.Context, req ReceiveCredentialsRequest) ([]domain.CredentialRecord, error)
}
