package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/oid4vci"
)

// deviceGate bridges the keystore's biometric gate onto the session's
// approval round trip. The device runs the platform biometric prompt and
// releases the wrapping secret it protects; the backend never sees the
// biometric itself.
type deviceGate struct {
	session *Session
}

func newDeviceGate(s *Session) *deviceGate {
	return &deviceGate{session: s}
}

// Available reports the capability the device declared at handshake
func (g *deviceGate) Available(ctx context.Context) bool {
	return g.session.HasCapability(CapabilityBiometrics)
}

// Enroll asks the device to protect a fresh wrapping secret
func (g *deviceGate) Enroll(ctx context.Context) ([]byte, error) {
	return g.roundTrip(ctx, "enroll", "Enable biometric unlock for this wallet")
}

// Authorize asks the device to release the wrapping secret
func (g *deviceGate) Authorize(ctx context.Context) ([]byte, error) {
	return g.roundTrip(ctx, "authorize", "Unlock your wallet")
}

func (g *deviceGate) roundTrip(ctx context.Context, operation, prompt string) ([]byte, error) {
	resp, err := g.session.RequestApproval(ctx, operation, prompt)
	if err != nil {
		if errors.Is(err, ErrApprovalTimeout) {
			return nil, &domain.BiometricError{Op: operation, Reason: domain.BiometricTimeout, Err: err}
		}
		return nil, &domain.BiometricError{Op: operation, Reason: domain.BiometricFailed, Err: err}
	}
	if !resp.Approved {
		return nil, &domain.BiometricError{Op: operation, Reason: denialReason(resp.Reason)}
	}
	secret, err := base64.RawURLEncoding.DecodeString(resp.Secret)
	if err != nil {
		return nil, &domain.BiometricError{Op: operation, Reason: domain.BiometricFailed,
			Err: fmt.Errorf("malformed secret: %w", err)}
	}
	if len(secret) == 0 {
		return nil, &domain.BiometricError{Op: operation, Reason: domain.BiometricFailed,
			Err: errors.New("empty secret")}
	}
	return secret, nil
}

// denialReason maps the device's denial reason onto the domain
// classification, defaulting to a plain failure
func denialReason(reason string) domain.BiometricReason {
	switch domain.BiometricReason(reason) {
	case domain.BiometricUserCancelled, domain.BiometricFailed,
		domain.BiometricUnavailable, domain.BiometricTimeout:
		return domain.BiometricReason(reason)
	default:
		return domain.BiometricFailed
	}
}

// sessionProofSigner implements oid4vci.ProofSigner over the session's sign
// round trip. The holder key never leaves the device; the backend only
// relays the signing request.
type sessionProofSigner struct {
	session *Session
}

func (p *sessionProofSigner) SignProof(ctx context.Context, audience, nonce string) (string, error) {
	resp, err := p.session.RequestSign(ctx, audience, nonce)
	if err != nil {
		if errors.Is(err, ErrSignTimeout) {
			return "", &domain.BiometricError{Op: "sign", Reason: domain.BiometricTimeout, Err: err}
		}
		return "", fmt.Errorf("failed to obtain proof signature: %w", err)
	}
	if resp.Denied {
		return "", &domain.BiometricError{Op: "sign", Reason: denialReason(resp.Reason)}
	}
	if resp.ProofJWT == "" {
		return "", errors.New("device returned empty proof")
	}
	return resp.ProofJWT, nil
}

// sessionAuthorizationProvider implements oid4vci.AuthorizationCodeProvider
// by handing the authorization URL to the device and waiting until the user
// completes the redirect leg in a browser.
type sessionAuthorizationProvider struct {
	session *Session
	flowID  string
}

func (p *sessionAuthorizationProvider) AuthorizationCode(ctx context.Context, req *oid4vci.ResolvedAuthorizationRequest) (string, error) {
	err := p.session.SendProgress(p.flowID, StepAuthorizationRequired, map[string]interface{}{
		"authorizationUrl": req.AuthorizationURL,
		"state":            req.State,
	})
	if err != nil {
		return "", fmt.Errorf("failed to request authorization: %w", err)
	}

	action, err := p.session.WaitForAction(ctx, p.flowID, FlowActionAuthorizationComplete, FlowActionCancel)
	if err != nil {
		return "", err
	}
	if action.Action == FlowActionCancel {
		return "", ErrFlowCancelledByUser
	}

	code, _ := action.Payload["code"].(string)
	if code == "" {
		return "", errors.New("authorization completed without a code")
	}
	if state, _ := action.Payload["state"].(string); state != "" && state != req.State {
		return "", errors.New("authorization state mismatch")
	}
	return code, nil
}

// ErrFlowCancelledByUser is returned from device round trips when the user
// cancels the flow
var ErrFlowCancelledByUser = errors.New("flow cancelled by user")
