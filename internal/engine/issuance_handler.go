package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/issuance"
	"github.com/tusharbhayani/paradym-wallet/internal/oid4vci"
)

// IssuanceHandler runs one credential issuance flow on a session: offer
// resolution, the authorization redirect leg, a user-presence gate, issuer
// trust evaluation, and credential retrieval with biometric retries.
type IssuanceHandler struct {
	manager *Manager
	session *Session
	flowID  string
	logger  *zap.Logger

	mu   sync.Mutex
	flow *issuance.Flow
}

// NewIssuanceHandler is the flow handler factory for credential issuance
func NewIssuanceHandler(m *Manager, s *Session, flowID string) FlowHandler {
	return &IssuanceHandler{
		manager: m,
		session: s,
		flowID:  flowID,
		logger:  s.logger.Named("issuance").With(zap.String("flow_id", flowID)),
	}
}

// Execute drives the flow to completion or failure
func (h *IssuanceHandler) Execute(ctx context.Context, session *Session, msg *FlowStartMessage) error {
	profile := issuance.ProfileFromConfig(h.manager.cfg.Issuance)
	if offerURI, _ := msg.Payload["offerUri"].(string); offerURI != "" {
		profile.OfferURI = offerURI
	}
	if profile.OfferURI == "" {
		h.fail("", errors.New("no credential offer configured"))
		return errors.New("no credential offer configured")
	}

	client := oid4vci.NewHTTPClient(
		&sessionAuthorizationProvider{session: session, flowID: h.flowID},
		&sessionProofSigner{session: session},
		h.logger,
	)
	flow := issuance.New(client, profile, h.logger, issuance.Options{
		OnStateChange: h.reportState,
	})
	h.mu.Lock()
	h.flow = flow
	h.mu.Unlock()

	if err := session.SendProgress(h.flowID, StepResolvingOffer, nil); err != nil {
		return err
	}

	if err := flow.Start(ctx); err != nil {
		h.fail(StepAuthorizing, err)
		return err
	}

	// The token is in hand; the device now proves the user is present
	// before the wallet touches the credential endpoint.
	action, err := session.WaitForAction(ctx, h.flowID, FlowActionUserPresenceComplete, FlowActionCancel)
	if err != nil {
		flow.Cancel()
		h.fail(StepAwaitingUserPresence, err)
		return err
	}
	if action.Action == FlowActionCancel {
		flow.Cancel()
		h.fail(StepAwaitingUserPresence, ErrFlowCancelledByUser)
		return ErrFlowCancelledByUser
	}

	if err := h.checkIssuerTrust(ctx, flow.Issuer()); err != nil {
		flow.Cancel()
		h.fail(StepEvaluatingTrust, err)
		return err
	}

	if err := flow.BeginCredentialRetrieval(); err != nil {
		h.fail(StepRetrievingCredential, err)
		return err
	}

	records, err := h.retrieveWithRetries(ctx, flow)
	if err != nil {
		h.fail(StepRetrievingCredential, err)
		return err
	}

	if err := h.storeCredentials(ctx, records); err != nil {
		h.fail(StepRetrievingCredential, err)
		return err
	}

	h.logger.Info("Issuance flow complete",
		zap.String("issuer", flow.Issuer()),
		zap.Int("credentials", len(records)))
	return session.SendFlowComplete(h.flowID, &FlowCompleteMessage{Credentials: records})
}

// Cancel aborts the running flow
func (h *IssuanceHandler) Cancel() {
	h.mu.Lock()
	flow := h.flow
	h.mu.Unlock()
	if flow != nil {
		flow.Cancel()
	}
}

// retrieveWithRetries retrieves credentials, surfacing biometric failures
// to the device as recoverable errors and honoring its retry or cancel
// decision
func (h *IssuanceHandler) retrieveWithRetries(ctx context.Context, flow *issuance.Flow) ([]domain.CredentialRecord, error) {
	for {
		records, err := flow.RetrieveCredentials(ctx)
		if err == nil {
			return records, nil
		}
		berr, ok := domain.AsBiometricError(err)
		if !ok {
			return nil, err
		}

		h.logger.Info("Credential retrieval blocked by biometrics",
			zap.String("reason", string(berr.Reason)))
		h.session.sendFlowError(h.flowID, StepRetrievingCredential, true, FlowError{
			Code:    ErrCodeBiometrics,
			Message: "biometric verification failed",
			Details: string(berr.Reason),
		})

		action, err := h.session.WaitForAction(ctx, h.flowID, FlowActionRetry, FlowActionCancel)
		if err != nil {
			flow.Cancel()
			return nil, err
		}
		if action.Action == FlowActionCancel {
			flow.Cancel()
			return nil, ErrFlowCancelledByUser
		}
	}
}

// checkIssuerTrust evaluates the credential issuer against the configured
// trust endpoint. An unconfigured trust service admits every issuer.
func (h *IssuanceHandler) checkIssuerTrust(ctx context.Context, issuer string) error {
	if h.manager.trust == nil {
		return nil
	}
	if err := h.session.SendProgress(h.flowID, StepEvaluatingTrust, map[string]interface{}{
		"issuer": issuer,
	}); err != nil {
		return err
	}
	info, err := h.manager.trust.EvaluateIssuer(ctx, issuer, "")
	if err != nil {
		return err
	}
	if !info.Trusted {
		h.logger.Warn("Issuer rejected by trust evaluation",
			zap.String("issuer", issuer),
			zap.String("reason", info.Reason))
		return ErrUntrustedIssuer
	}
	return nil
}

// storeCredentials persists retrieved credentials under the session's
// wallet
func (h *IssuanceHandler) storeCredentials(ctx context.Context, records []domain.CredentialRecord) error {
	now := time.Now()
	for _, record := range records {
		stored := &domain.StoredCredential{
			ID:              uuid.New().String(),
			WalletID:        h.session.WalletID,
			Format:          record.Format,
			Credential:      record.Credential,
			ConfigurationID: record.ConfigurationID,
			Issuer:          record.Issuer,
			IssuedAt:        now,
		}
		if err := h.manager.store.Credentials().Create(ctx, stored); err != nil {
			return err
		}
	}
	return nil
}

// reportState forwards flow state transitions as progress messages. The
// terminal states have dedicated complete and error messages.
func (h *IssuanceHandler) reportState(state issuance.State) {
	var step FlowStep
	switch state {
	case issuance.StateAuthorizing:
		step = StepAuthorizing
	case issuance.StateAwaitingUserPresence:
		step = StepAwaitingUserPresence
	case issuance.StateRetrievingCredential:
		step = StepRetrievingCredential
	default:
		return
	}
	if err := h.session.SendProgress(h.flowID, step, nil); err != nil {
		h.logger.Warn("Failed to report flow progress", zap.Error(err))
	}
}

// ErrUntrustedIssuer is returned when trust evaluation rejects the
// credential issuer
var ErrUntrustedIssuer = errors.New("credential issuer is not trusted")

// fail reports a terminal flow failure to the device
func (h *IssuanceHandler) fail(step FlowStep, err error) {
	ferr := FlowError{Code: ErrCodeIssuanceFailed, Message: err.Error()}
	switch {
	case errors.Is(err, ErrFlowCancelledByUser), errors.Is(err, issuance.ErrFlowCancelled):
		ferr.Code = ErrCodeFlowCancelled
		ferr.Message = "flow cancelled"
	case errors.Is(err, ErrUntrustedIssuer):
		ferr.Code = ErrCodeUntrustedIssuer
		ferr.Message = "credential issuer is not trusted"
	case errors.Is(err, ErrActionTimeout), errors.Is(err, context.DeadlineExceeded):
		ferr.Code = ErrCodeFlowTimeout
		ferr.Message = "flow timed out"
	default:
		var oerr *oid4vci.Error
		if errors.As(err, &oerr) {
			ferr.Details = oerr.Code
		}
	}
	h.session.sendFlowError(h.flowID, step, false, ferr)
}
