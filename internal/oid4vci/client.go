// Package oid4vci implements the OpenID4VCI client side of credential
// issuance: offer resolution, the authorization-code exchange, and
// credential retrieval. The issuance flow consumes it through the Client
// interface; user-facing steps (browser redirect, proof signing) are
// injected as collaborators.
package oid4vci

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// offerScheme is the URI scheme of OpenID4VCI credential offers
const offerScheme = "openid-credential-offer"

// HTTPClient implements Client against real issuer endpoints
type HTTPClient struct {
	http      *http.Client
	authorize AuthorizationCodeProvider
	signer    ProofSigner
	logger    *zap.Logger
}

// NewHTTPClient creates a protocol client. The authorization provider and
// proof signer supply the user-facing legs of the exchange.
func NewHTTPClient(authorize AuthorizationCodeProvider, signer ProofSigner, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		http:      &http.Client{Timeout: 30 * time.Second},
		authorize: authorize,
		signer:    signer,
		logger:    logger.Named("oid4vci"),
	}
}

// ResolveOffer parses the offer URI, fetches issuer and authorization-server
// metadata, and prepares the authorization-code request when the offer
// grants one.
func (c *HTTPClient) ResolveOffer(ctx context.Context, req ResolveOfferRequest) (*ResolvedOffer, error) {
	offer, err := c.parseOffer(ctx, req.OfferURI)
	if err != nil {
		return nil, err
	}
	if offer.CredentialIssuer == "" {
		return nil, newError(ErrorCodeInvalidOffer, 0, "offer has no credential_issuer")
	}

	metadata, err := c.fetchIssuerMetadata(ctx, offer.CredentialIssuer)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedOffer{
		Offer:          *offer,
		IssuerMetadata: *metadata,
	}

	if offer.HasAuthorizationCodeGrant() {
		authReq, err := c.buildAuthorizationRequest(ctx, offer, metadata, req.Authorization)
		if err != nil {
			return nil, err
		}
		resolved.ResolvedAuthorizationRequest = authReq
	}

	c.logger.Debug("Resolved credential offer",
		zap.String("issuer", offer.CredentialIssuer),
		zap.Strings("configurations", offer.CredentialConfigurationIDs),
		zap.Bool("authorization_code", resolved.ResolvedAuthorizationRequest != nil))
	return resolved, nil
}

// AcquireAccessToken runs the authorization-code exchange. It blocks on the
// AuthorizationCodeProvider until the user completes the redirect leg, then
// exchanges the code at the token endpoint.
func (c *HTTPClient) AcquireAccessToken(ctx context.Context, resolved *ResolvedOffer) (*AccessToken, error) {
	authReq := resolved.ResolvedAuthorizationRequest
	if authReq == nil {
		return nil, ErrNoAuthorizationCodeGrant
	}

	code, err := c.authorize.AuthorizationCode(ctx, authReq)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", authReq.RedirectURI)
	data.Set("client_id", authReq.ClientID)
	data.Set("code_verifier", authReq.CodeVerifier)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, authReq.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, readErrorResponse(resp, ErrorCodeInvalidGrant)
	}

	var token AccessToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, newError(ErrorCodeInvalidGrant, resp.StatusCode, "token response has no access_token")
	}

	c.logger.Debug("Access token obtained", zap.String("issuer", resolved.Offer.CredentialIssuer))
	return &token, nil
}

// ReceiveCredentials retrieves one credential per configuration id. Proof
// signing failures from the platform biometric gate propagate untouched so
// callers can classify them as retryable.
func (c *HTTPClient) ReceiveCredentials(ctx context.Context, req ReceiveCredentialsRequest) ([]domain.CredentialRecord, error) {
	if req.AccessToken == nil || req.AccessToken.AccessToken == "" {
		return nil, newError(ErrorCodeInvalidToken, 0, "no access token")
	}
	if req.ResolvedOffer == nil {
		return nil, newError(ErrorCodeInvalidRequest, 0, "no resolved offer")
	}

	issuer := req.ResolvedOffer.Offer.CredentialIssuer
	if len(req.TrustedSchemes) > 0 {
		if err := checkIssuerScheme(issuer, req.TrustedSchemes); err != nil {
			return nil, err
		}
	}

	metadata := req.ResolvedOffer.IssuerMetadata
	nonce := req.AccessToken.CNonce

	records := make([]domain.CredentialRecord, 0, len(req.CredentialConfigurationIDs))
	for _, configID := range req.CredentialConfigurationIDs {
		config, ok := metadata.CredentialConfigurationsSupported[configID]
		if !ok {
			return nil, newError(ErrorCodeInvalidRequest, 0, "unknown credential configuration: "+configID)
		}

		var proofJWT string
		if len(config.ProofTypesSupported) > 0 {
			jwt, err := c.signer.SignProof(ctx, issuer, nonce)
			if err != nil {
				// Biometric failures stay classifiable for the retry policy.
				return nil, err
			}
			proofJWT = jwt
		}

		record, newNonce, err := c.requestCredential(ctx, &metadata, req.AccessToken, configID, &config, proofJWT)
		if err != nil {
			return nil, err
		}
		if newNonce != "" {
			nonce = newNonce
		}
		records = append(records, record...)
	}

	return records, nil
}

func (c *HTTPClient) parseOffer(ctx context.Context, offerURI string) (*CredentialOffer, error) {
	if offerURI == "" {
		return nil, newError(ErrorCodeInvalidOffer, 0, "no offer provided")
	}

	if strings.HasPrefix(offerURI, offerScheme+"://") {
		u, err := url.Parse(offerURI)
		if err != nil {
			return nil, newError(ErrorCodeInvalidOffer, 0, "invalid offer URL: "+err.Error())
		}
		if raw := u.Query().Get("credential_offer"); raw != "" {
			var offer CredentialOffer
			if err := json.Unmarshal([]byte(raw), &offer); err != nil {
				return nil, newError(ErrorCodeInvalidOffer, 0, "invalid offer JSON: "+err.Error())
			}
			return &offer, nil
		}
		if ref := u.Query().Get("credential_offer_uri"); ref != "" {
			return c.fetchOfferFromURI(ctx, ref)
		}
		return nil, newError(ErrorCodeInvalidOffer, 0, "offer URL missing credential_offer parameter")
	}

	// A bare https URL is treated as a credential_offer_uri reference.
	if strings.HasPrefix(offerURI, "https://") || strings.HasPrefix(offerURI, "http://") {
		return c.fetchOfferFromURI(ctx, offerURI)
	}

	return nil, newError(ErrorCodeInvalidOffer, 0, "unsupported offer URI scheme")
}

func (c *HTTPClient) fetchOfferFromURI(ctx context.Context, uri string) (*CredentialOffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offer: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ErrorCodeInvalidOffer, resp.StatusCode, "offer fetch failed")
	}

	var offer CredentialOffer
	if err := json.NewDecoder(resp.Body).Decode(&offer); err != nil {
		return nil, newError(ErrorCodeInvalidOffer, 0, "failed to parse offer: "+err.Error())
	}
	return &offer, nil
}

func (c *HTTPClient) fetchIssuerMetadata(ctx context.Context, issuer string) (*IssuerMetadata, error) {
	metadataURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-credential-issuer"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issuer metadata: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newError(ErrorCodeInvalidMetadata, resp.StatusCode, string(body))
	}

	var metadata IssuerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, newError(ErrorCodeInvalidMetadata, 0, "failed to parse issuer metadata: "+err.Error())
	}
	if metadata.CredentialEndpoint == "" {
		return nil, newError(ErrorCodeInvalidMetadata, 0, "issuer metadata has no credential_endpoint")
	}
	return &metadata, nil
}

// buildAuthorizationRequest discovers the OAuth endpoints and prepares a
// PKCE S256 authorization request for the offer
func (c *HTTPClient) buildAuthorizationRequest(ctx context.Context, offer *CredentialOffer, metadata *IssuerMetadata, auth AuthorizationConfig) (*ResolvedAuthorizationRequest, error) {
	if auth.ClientID == "" || auth.RedirectURI == "" {
		return nil, newError(ErrorCodeInvalidRequest, 0, "authorization requires clientId and redirectUri")
	}

	authServer := metadata.AuthorizationServer
	if authServer == "" {
		authServer = metadata.CredentialIssuer
	}

	authEndpoint, tokenEndpoint := c.discoverOAuthEndpoints(ctx, authServer)
	if tokenEndpoint == "" {
		tokenEndpoint = metadata.TokenEndpoint
	}
	if tokenEndpoint == "" {
		tokenEndpoint = strings.TrimSuffix(metadata.CredentialIssuer, "/") + "/token"
	}

	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	authReq := &ResolvedAuthorizationRequest{
		AuthorizationEndpoint: authEndpoint,
		TokenEndpoint:         tokenEndpoint,
		ClientID:              auth.ClientID,
		RedirectURI:           auth.RedirectURI,
		IssuerState:           offer.IssuerState(),
		State:                 uuid.New().String(),
		CodeVerifier:          verifier,
	}

	u, err := url.Parse(authEndpoint)
	if err != nil {
		return nil, newError(ErrorCodeInvalidMetadata, 0, "invalid authorization endpoint: "+err.Error())
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", authReq.ClientID)
	q.Set("redirect_uri", authReq.RedirectURI)
	q.Set("state", authReq.State)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if authReq.IssuerState != "" {
		q.Set("issuer_state", authReq.IssuerState)
	}
	u.RawQuery = q.Encode()
	authReq.AuthorizationURL = u.String()

	return authReq, nil
}

// discoverOAuthEndpoints fetches authorization-server metadata, falling back
// to conventional paths when the well-known document is unavailable
func (c *HTTPClient) discoverOAuthEndpoints(ctx context.Context, authServer string) (authEndpoint, tokenEndpoint string) {
	base := strings.TrimSuffix(authServer, "/")
	authEndpoint = base + "/authorize"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/.well-known/oauth-authorization-server", nil)
	if err != nil {
		return authEndpoint, ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return authEndpoint, ""
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return authEndpoint, ""
	}

	var meta struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return authEndpoint, ""
	}
	if meta.AuthorizationEndpoint != "" {
		authEndpoint = meta.AuthorizationEndpoint
	}
	return authEndpoint, meta.TokenEndpoint
}

// credentialResponse is the issuer's credential endpoint response
type credentialResponse struct {
	Credential  interface{}   `json:"credential,omitempty"`
	Credentials []interface{} `json:"credentials,omitempty"`
	CNonce      string        `json:"c_nonce,omitempty"`
}

func (c *HTTPClient) requestCredential(ctx context.Context, metadata *IssuerMetadata, token *AccessToken, configID string, config *CredentialConfig, proofJWT string) ([]domain.CredentialRecord, string, error) {
	reqBody := map[string]interface{}{
		"format": config.Format,
	}
	if config.VCT != "" {
		reqBody["vct"] = config.VCT
	}
	if config.Doctype != "" {
		reqBody["doctype"] = config.Doctype
	}
	if proofJWT != "" {
		reqBody["proof"] = map[string]interface{}{
			"proof_type": "jwt",
			"jwt":        proofJWT,
		}
	}

	bodyBytes, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.CredentialEndpoint, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("credential request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", readErrorResponse(resp, ErrorCodeServerError)
	}

	var credResp credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&credResp); err != nil {
		return nil, "", fmt.Errorf("failed to parse credential response: %w", err)
	}

	var records []domain.CredentialRecord
	appendCredential := func(cred interface{}) {
		credStr := ""
		switch v := cred.(type) {
		case string:
			credStr = v
		default:
			bytes, _ := json.Marshal(v)
			credStr = string(bytes)
		}
		records = append(records, domain.CredentialRecord{
			Format:          domain.CredentialFormat(config.Format),
			Credential:      credStr,
			ConfigurationID: configID,
			Issuer:          metadata.CredentialIssuer,
		})
	}
	if credResp.Credential != nil {
		appendCredential(credResp.Credential)
	}
	for _, cred := range credResp.Credentials {
		appendCredential(cred)
	}
	if len(records) == 0 {
		return nil, "", newError(ErrorCodeServerError, resp.StatusCode, "credential response has no credential")
	}

	return records, credResp.CNonce, nil
}

// checkIssuerScheme enforces the trusted issuer URL scheme restriction
func checkIssuerScheme(issuer string, schemes []string) error {
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("%w: invalid issuer URL %q", ErrUntrustedIssuer, issuer)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%w: scheme %q not in trusted set", ErrUntrustedIssuer, u.Scheme)
}

// newPKCEPair generates a PKCE code verifier and its S256 challenge
func newPKCEPair() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// readErrorResponse maps an issuer error body to a typed protocol error
func readErrorResponse(resp *http.Response, fallbackCode string) error {
	body, _ := io.ReadAll(resp.Body)

	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return newError(oauthErr.Error, resp.StatusCode, oauthErr.ErrorDescription)
	}
	return newError(fallbackCode, resp.StatusCode, strings.TrimSpace(string(body)))
}

// interface guard
var _ Client = (*HTTPClient)(nil)
