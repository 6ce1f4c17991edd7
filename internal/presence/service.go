// Package presence verifies that the wallet holder is physically present at
// the paired device. Pairing registers a platform WebAuthn credential for the
// device; verification runs an assertion ceremony with user verification
// required, so a passing check proves the holder unlocked the authenticator.
package presence

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

var (
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrVerificationFailed = errors.New("verification failed")
)

// challengeTTL bounds how long a ceremony may take
const challengeTTL = 5 * time.Minute

const (
	actionPair   = "pair"
	actionVerify = "verify"
)

// Service runs the WebAuthn ceremonies for device pairing and user-presence
// verification
type Service struct {
	store    storage.Store
	cfg      *config.Config
	logger   *zap.Logger
	webauthn *webauthn.WebAuthn
}

// NewService creates a presence service for the configured relying party
func NewService(store storage.Store, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	wconfig := &webauthn.Config{
		RPDisplayName: cfg.Server.RPName,
		RPID:          cfg.Server.RPID,
		RPOrigins:     []string{cfg.Server.RPOrigin},
	}

	wa, err := webauthn.New(wconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}

	return &Service{
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("presence"),
		webauthn: wa,
	}, nil
}

// webauthnDevice adapts a paired device to the webauthn.User interface
type webauthnDevice struct {
	device *domain.Device
}

func (d *webauthnDevice) WebAuthnID() []byte {
	return d.device.UUID.AsUserHandle()
}

func (d *webauthnDevice) WebAuthnName() string {
	if d.device.Name != "" {
		return d.device.Name
	}
	return d.device.UUID.String()
}

func (d *webauthnDevice) WebAuthnDisplayName() string {
	return d.WebAuthnName()
}

func (d *webauthnDevice) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(d.device.WebauthnCredentials))
	for _, c := range d.device.WebauthnCredentials {
		creds = append(creds, webauthn.Credential{
			ID:              []byte(c.ID),
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       parseTransports(c.Transport),
			Flags: webauthn.CredentialFlags{
				UserPresent:    c.Flags&0x01 != 0,
				UserVerified:   c.Flags&0x04 != 0,
				BackupEligible: c.Flags&0x08 != 0,
				BackupState:    c.Flags&0x10 != 0,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:       c.Authenticator.AAGUID,
				SignCount:    c.Authenticator.SignCount,
				CloneWarning: c.Authenticator.CloneWarning,
			},
		})
	}
	return creds
}

func parseTransports(transports []string) []protocol.AuthenticatorTransport {
	result := make([]protocol.AuthenticatorTransport, 0, len(transports))
	for _, t := range transports {
		result = append(result, protocol.AuthenticatorTransport(t))
	}
	return result
}

// BeginPairingResponse contains the creation options for the shell app
type BeginPairingResponse struct {
	ChallengeID     string                       `json:"challengeId"`
	DeviceID        string                       `json:"deviceId"`
	CreationOptions *protocol.CredentialCreation `json:"creationOptions"`
}

// BeginPairing starts the pairing ceremony for a new device
func (s *Service) BeginPairing(ctx context.Context, walletID, deviceName string) (*BeginPairingResponse, error) {
	deviceID := domain.NewDeviceID()

	waDevice := &webauthnDevice{device: &domain.Device{
		UUID: deviceID,
		Name: deviceName,
	}}

	options, session, err := s.webauthn.BeginRegistration(waDevice,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementRequired,
			UserVerification:        protocol.VerificationRequired,
		}),
	)
	if err != nil {
		s.logger.Error("Failed to begin pairing", zap.Error(err))
		return nil, fmt.Errorf("failed to begin pairing: %w", err)
	}

	challengeID := generateChallengeID()
	challenge := &domain.PairingChallenge{
		ID:        challengeID,
		DeviceID:  deviceID.String(),
		WalletID:  walletID,
		Challenge: session.Challenge,
		Action:    actionPair,
		ExpiresAt: time.Now().Add(challengeTTL),
	}

	if err := s.store.Challenges().Create(ctx, challenge); err != nil {
		s.logger.Error("Failed to store challenge", zap.Error(err))
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.logger.Info("Started device pairing",
		zap.String("wallet_id", walletID),
		zap.String("device_id", deviceID.String()))

	return &BeginPairingResponse{
		ChallengeID:     challengeID,
		DeviceID:        deviceID.String(),
		CreationOptions: options,
	}, nil
}

// FinishPairingRequest contains the attestation response from the shell app
type FinishPairingRequest struct {
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
	DeviceName  string          `json:"deviceName,omitempty"`
	Platform    string          `json:"platform,omitempty"`
	Biometrics  bool            `json:"biometrics"`
}

// FinishPairing verifies the attestation and creates the paired device
func (s *Service) FinishPairing(ctx context.Context, req *FinishPairingRequest) (*domain.Device, error) {
	challenge, err := s.consumeChallenge(ctx, req.ChallengeID, actionPair)
	if err != nil {
		return nil, err
	}

	deviceID := domain.DeviceIDFromString(challenge.DeviceID)
	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = "Paired Device"
	}

	waDevice := &webauthnDevice{device: &domain.Device{
		UUID: deviceID,
		Name: deviceName,
	}}

	sessionData := webauthn.SessionData{
		Challenge:        challenge.Challenge,
		UserID:           deviceID.AsUserHandle(),
		UserVerification: protocol.VerificationRequired,
	}

	parsedResponse, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		s.logger.Error("Failed to parse attestation response", zap.Error(err))
		return nil, ErrVerificationFailed
	}

	credential, err := s.webauthn.CreateCredential(waDevice, sessionData, parsedResponse)
	if err != nil {
		s.logger.Error("Failed to verify attestation", zap.Error(err))
		return nil, ErrVerificationFailed
	}

	transports := make([]string, 0)
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	now := time.Now()
	device := &domain.Device{
		UUID:       deviceID,
		WalletID:   challenge.WalletID,
		Name:       deviceName,
		Platform:   req.Platform,
		Biometrics: req.Biometrics,
		WebauthnCredentials: []domain.WebauthnCredential{
			{
				ID:              string(credential.ID),
				CredentialID:    credential.ID,
				PublicKey:       credential.PublicKey,
				AttestationType: credential.AttestationType,
				Transport:       transports,
				Flags:           encodeFlags(credential.Flags),
				Authenticator: domain.Authenticator{
					AAGUID:       credential.Authenticator.AAGUID,
					SignCount:    credential.Authenticator.SignCount,
					CloneWarning: credential.Authenticator.CloneWarning,
				},
				CreatedAt: now,
			},
		},
		PairedAt:   now,
		LastSeenAt: now,
	}

	if err := s.store.Devices().Create(ctx, device); err != nil {
		s.logger.Error("Failed to create device", zap.Error(err))
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	s.logger.Info("Device paired",
		zap.String("wallet_id", device.WalletID),
		zap.String("device_id", deviceID.String()))
	return device, nil
}

// BeginVerificationResponse contains the assertion options for the shell app
type BeginVerificationResponse struct {
	ChallengeID      string                               `json:"challengeId"`
	RequestOptions   *protocol.CredentialAssertion        `json:"requestOptions"`
	UserVerification protocol.UserVerificationRequirement `json:"userVerification"`
}

// BeginVerification starts a user-presence check against a paired device
func (s *Service) BeginVerification(ctx context.Context, deviceID domain.DeviceID) (*BeginVerificationResponse, error) {
	device, err := s.store.Devices().GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	waDevice := &webauthnDevice{device: device}

	options, session, err := s.webauthn.BeginLogin(waDevice,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		s.logger.Error("Failed to begin verification", zap.Error(err))
		return nil, fmt.Errorf("failed to begin verification: %w", err)
	}

	challengeID := generateChallengeID()
	challenge := &domain.PairingChallenge{
		ID:        challengeID,
		DeviceID:  deviceID.String(),
		WalletID:  device.WalletID,
		Challenge: session.Challenge,
		Action:    actionVerify,
		ExpiresAt: time.Now().Add(challengeTTL),
	}

	if err := s.store.Challenges().Create(ctx, challenge); err != nil {
		s.logger.Error("Failed to store challenge", zap.Error(err))
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.logger.Info("Started presence verification", zap.String("device_id", deviceID.String()))

	return &BeginVerificationResponse{
		ChallengeID:      challengeID,
		RequestOptions:   options,
		UserVerification: protocol.VerificationRequired,
	}, nil
}

// FinishVerificationRequest contains the assertion response from the shell app
type FinishVerificationRequest struct {
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

// FinishVerification verifies the assertion. A nil error means the holder
// passed user verification on the paired authenticator.
func (s *Service) FinishVerification(ctx context.Context, req *FinishVerificationRequest) (*domain.Device, error) {
	challenge, err := s.consumeChallenge(ctx, req.ChallengeID, actionVerify)
	if err != nil {
		return nil, err
	}

	deviceID := domain.DeviceIDFromString(challenge.DeviceID)
	device, err := s.store.Devices().GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	parsedResponse, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		s.logger.Error("Failed to parse assertion response", zap.Error(err))
		return nil, ErrVerificationFailed
	}

	credentialID := parsedResponse.RawID
	var matched *domain.WebauthnCredential
	for i, c := range device.WebauthnCredentials {
		if c.ID == string(credentialID) {
			matched = &device.WebauthnCredentials[i]
			break
		}
	}
	if matched == nil {
		return nil, ErrCredentialNotFound
	}

	sessionData := webauthn.SessionData{
		Challenge:        challenge.Challenge,
		UserID:           deviceID.AsUserHandle(),
		UserVerification: protocol.VerificationRequired,
	}

	waDevice := &webauthnDevice{device: device}
	credential, err := s.webauthn.ValidateLogin(waDevice, sessionData, parsedResponse)
	if err != nil {
		s.logger.Error("Failed to verify assertion", zap.Error(err))
		return nil, ErrVerificationFailed
	}

	now := time.Now()
	matched.Authenticator.SignCount = credential.Authenticator.SignCount
	matched.LastUseTime = &now
	device.LastSeenAt = now

	if err := s.store.Devices().Update(ctx, device); err != nil {
		s.logger.Error("Failed to update device", zap.Error(err))
		// presence is already proven
	}

	s.logger.Info("Presence verified", zap.String("device_id", deviceID.String()))
	return device, nil
}

// consumeChallenge fetches, validates, and deletes a one-time challenge
func (s *Service) consumeChallenge(ctx context.Context, id, action string) (*domain.PairingChallenge, error) {
	challenge, err := s.store.Challenges().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	if challenge.IsExpired() {
		_ = s.store.Challenges().Delete(ctx, id)
		return nil, ErrChallengeExpired
	}
	if challenge.Action != action {
		return nil, fmt.Errorf("%w: challenge action mismatch", ErrVerificationFailed)
	}

	// one-time use
	_ = s.store.Challenges().Delete(ctx, id)
	return challenge, nil
}

func generateChallengeID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func encodeFlags(flags webauthn.CredentialFlags) uint8 {
	var result uint8
	if flags.UserPresent {
		result |= 0x01
	}
	if flags.UserVerified {
		result |= 0x04
	}
	if flags.BackupEligible {
		result |= 0x08
	}
	if flags.BackupState {
		result |= 0x10
	}
	return result
}
