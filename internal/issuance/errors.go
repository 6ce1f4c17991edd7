package issuance

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFlowState is returned when an operation is called in a
	// flow state that does not permit it
	ErrInvalidFlowState = errors.New("operation not valid in current flow state")

	// ErrUnexpectedCredentialFormat is returned when the issuer delivers a
	// credential format the profile does not accept
	ErrUnexpectedCredentialFormat = errors.New("issuer returned a credential format the profile does not accept")

	// ErrFlowCancelled is the terminal error of a flow cancelled by the user
	ErrFlowCancelled = errors.New("issuance flow cancelled")
)

// InvalidStateError reports which operation was attempted in which state
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("issuance: cannot %s in state %q", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidFlowState }
