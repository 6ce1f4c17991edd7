package engine

import (
	"time"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
)

// FlowType identifies a flow a session can start
type FlowType string

const (
	FlowTypeIssuance FlowType = "oid4vci"
)

// MessageType identifies the WebSocket message type
type MessageType string

const (
	// Device to backend
	TypeHandshake        MessageType = "handshake"
	TypeUnlockAction     MessageType = "unlock_action"
	TypeFlowStart        MessageType = "flow_start"
	TypeFlowAction       MessageType = "flow_action"
	TypeApprovalResponse MessageType = "approval_response"
	TypeSignResponse     MessageType = "sign_response"

	// Backend to device
	TypeHandshakeComplete MessageType = "handshake_complete"
	TypeUnlockState       MessageType = "unlock_state"
	TypeFlowProgress      MessageType = "flow_progress"
	TypeFlowComplete      MessageType = "flow_complete"
	TypeFlowError         MessageType = "flow_error"
	TypeApprovalRequest   MessageType = "approval_request"
	TypeSignRequest       MessageType = "sign_request"
	TypeError             MessageType = "error"
)

// Unlock actions the device may request
const (
	UnlockActionStatus           = "status"
	UnlockActionSetup            = "setup"
	UnlockActionUnlockPin        = "unlock_pin"
	UnlockActionUnlockBiometrics = "unlock_biometrics"
	UnlockActionConfirm          = "confirm"
	UnlockActionReject           = "reject"
	UnlockActionLock             = "lock"
	UnlockActionReinitialize     = "reinitialize"
)

// Flow actions the device may send into a running flow
const (
	FlowActionAuthorizationComplete = "authorization_complete"
	FlowActionUserPresenceComplete  = "user_presence_complete"
	FlowActionRetry                 = "retry"
	FlowActionCancel                = "cancel"
)

// FlowStep identifies progress steps within a flow
type FlowStep string

const (
	StepResolvingOffer        FlowStep = "resolving_offer"
	StepAuthorizationRequired FlowStep = "authorization_required"
	StepAuthorizing           FlowStep = "authorizing"
	StepAwaitingUserPresence  FlowStep = "awaiting_user_presence"
	StepEvaluatingTrust       FlowStep = "evaluating_trust"
	StepRetrievingCredential  FlowStep = "retrieving_credential"
)

// Error codes
const (
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeWrongPin        = "WRONG_PIN"
	ErrCodeFlowNotFound    = "FLOW_NOT_FOUND"
	ErrCodeFlowTimeout     = "FLOW_TIMEOUT"
	ErrCodeFlowCancelled   = "FLOW_CANCELLED"
	ErrCodeUntrustedIssuer = "UNTRUSTED_ISSUER"
	ErrCodeBiometrics      = "BIOMETRIC_FAILED"
	ErrCodeIssuanceFailed  = "ISSUANCE_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Message is the envelope shared by all WebSocket messages
type Message struct {
	Type      MessageType `json:"type"`
	FlowID    string      `json:"flowId,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// HandshakeMessage opens a connection. The device token carries the device
// and wallet identity; capabilities declare what the device can do locally.
type HandshakeMessage struct {
	Message
	DeviceToken  string   `json:"deviceToken"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CapabilityBiometrics declares that the device can run platform biometric
// verification
const CapabilityBiometrics = "biometrics"

// HandshakeCompleteMessage confirms a successful handshake
type HandshakeCompleteMessage struct {
	Message
	SessionID string `json:"sessionId"`
	WalletID  string `json:"walletId"`
}

// UnlockActionMessage drives the session's unlock state machine
type UnlockActionMessage struct {
	Message
	Action           string `json:"action"`
	PIN              string `json:"pin,omitempty"`
	EnableBiometrics bool   `json:"enableBiometrics,omitempty"`
}

// UnlockStateMessage is a snapshot of the unlock state machine, pushed after
// every unlock action and on connect
type UnlockStateMessage struct {
	Message
	State            string     `json:"state"`
	CanUseBiometrics bool       `json:"canUseBiometrics"`
	CanTryBiometrics bool       `json:"canTryBiometrics"`
	IsUnlocking      bool       `json:"isUnlocking"`
	AttemptCount     int        `json:"attemptCount"`
	UnlockMethod     string     `json:"unlockMethod,omitempty"`
	UnlockedAt       *time.Time `json:"unlockedAt,omitempty"`
	Error            *FlowError `json:"error,omitempty"`
}

// FlowStartMessage starts a flow on an unlocked session
type FlowStartMessage struct {
	Message
	FlowType FlowType               `json:"flowType"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// FlowProgressMessage reports a flow step to the device
type FlowProgressMessage struct {
	Message
	Step    FlowStep               `json:"step"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// FlowActionMessage carries a device action into a running flow
type FlowActionMessage struct {
	Message
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// FlowCompleteMessage reports successful flow completion
type FlowCompleteMessage struct {
	Message
	Credentials []domain.CredentialRecord `json:"credentials,omitempty"`
}

// FlowError describes a flow failure
type FlowError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// FlowErrorMessage reports a flow failure. A recoverable error leaves the
// flow alive; the device answers with a retry or cancel action.
type FlowErrorMessage struct {
	Message
	Step        FlowStep  `json:"step,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Error       FlowError `json:"error"`
}

// ApprovalRequestMessage asks the device to run platform biometric
// verification and release the secret it protects
type ApprovalRequestMessage struct {
	Message
	Operation string `json:"operation"` // enroll, authorize
	Prompt    string `json:"prompt,omitempty"`
}

// ApprovalResponseMessage answers an approval request. Secret carries the
// base64url-encoded wrapping secret when approved; Reason classifies a
// denial (user_cancelled, failed, unavailable, timeout).
type ApprovalResponseMessage struct {
	Message
	Approved bool   `json:"approved"`
	Secret   string `json:"secret,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SignRequestMessage asks the device to sign a proof of possession over the
// wallet's holder key
type SignRequestMessage struct {
	Message
	Audience string `json:"audience"`
	Nonce    string `json:"nonce,omitempty"`
}

// SignResponseMessage answers a sign request
type SignResponseMessage struct {
	Message
	ProofJWT string `json:"proofJwt,omitempty"`
	Denied   bool   `json:"denied,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ErrorMessage reports a protocol-level error outside any flow
type ErrorMessage struct {
	Message
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Now returns the current time formatted for message timestamps
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
