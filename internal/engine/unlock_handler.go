package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/keystore"
	"github.com/tusharbhayani/paradym-wallet/internal/unlock"
)

// handleUnlockAction drives the session's unlock state machine from one
// device action and pushes the resulting state snapshot. Biometric actions
// block on an approval round trip to the device, so callers run this off
// the read loop.
func (s *Session) handleUnlockAction(ctx context.Context, msg *UnlockActionMessage) {
	switch msg.Action {
	case UnlockActionStatus:
		s.sendUnlockState(nil)

	case UnlockActionSetup:
		if err := keystore.ValidatePIN(msg.PIN); err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		if _, err := s.machine.Setup(ctx, msg.PIN); err != nil {
			s.logger.Warn("Wallet setup failed", zap.Error(err))
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionUnlockPin:
		if _, err := s.machine.UnlockWithPIN(ctx, msg.PIN); err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionUnlockBiometrics:
		key, err := s.machine.TryUnlockWithBiometrics(ctx)
		if err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		if key == nil {
			// Failed or disallowed attempt; the snapshot tells the device
			// whether another try is allowed.
			s.sendUnlockState(&FlowError{
				Code:    ErrCodeBiometrics,
				Message: "biometric unlock did not release the wallet key",
			})
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionConfirm:
		err := s.machine.SetWalletKeyValid(ctx, UnlockContext{
			DeviceID:   s.DeviceID,
			UnlockedAt: time.Now(),
		}, unlock.ValidOptions{EnableBiometrics: msg.EnableBiometrics})
		if err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionReject:
		if err := s.machine.SetWalletKeyInvalid(); err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionLock:
		if err := s.machine.Lock(); err != nil {
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	case UnlockActionReinitialize:
		s.machine.Reinitialize()
		if err := s.machine.Initialize(ctx); err != nil {
			s.logger.Error("Unlock detection failed", zap.Error(err))
			s.sendUnlockState(unlockError(err))
			return
		}
		s.sendUnlockState(nil)

	default:
		s.sendError("", ErrCodeInvalidMessage, "unknown unlock action "+msg.Action)
	}
}

// sendUnlockState pushes the current unlock snapshot, optionally annotated
// with the error of the action that produced it
func (s *Session) sendUnlockState(ferr *FlowError) {
	state := s.machine.State()
	msg := &UnlockStateMessage{
		Message:          Message{Type: TypeUnlockState, Timestamp: Now()},
		State:            string(state.Kind),
		CanUseBiometrics: state.CanUseBiometrics,
		CanTryBiometrics: state.CanTryBiometrics,
		IsUnlocking:      state.IsUnlocking,
		AttemptCount:     state.AttemptCount,
		UnlockMethod:     string(state.UnlockMethod),
		Error:            ferr,
	}
	if state.Kind == unlock.KindUnlocked && !state.Context.UnlockedAt.IsZero() {
		at := state.Context.UnlockedAt
		msg.UnlockedAt = &at
	}
	if err := s.Send(msg); err != nil {
		s.logger.Warn("Failed to send unlock state", zap.Error(err))
	}
}

// unlockError maps unlock and keystore failures to protocol error codes
func unlockError(err error) *FlowError {
	code := ErrCodeInternalError
	switch {
	case errors.Is(err, keystore.ErrWrongPIN):
		code = ErrCodeWrongPin
	case errors.Is(err, keystore.ErrInvalidPIN):
		code = ErrCodeInvalidMessage
	case errors.Is(err, unlock.ErrInvalidState):
		code = ErrCodeInvalidState
	}
	return &FlowError{Code: code, Message: err.Error()}
}
