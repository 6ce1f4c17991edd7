package unlock

import (
	"errors"
	"fmt"
)

// ErrInvalidState is the classification target for state-contract
// violations: the requested operation is not valid in the machine's current
// state. Matched with errors.Is; never retried.
var ErrInvalidState = errors.New("operation not valid in current unlock state")

// InvalidStateError reports which operation was attempted in which state.
// InProgress is set when the precondition failed because another operation
// was already in flight.
type InvalidStateError struct {
	Op         string
	State      Kind
	InProgress bool
}

func (e *InvalidStateError) Error() string {
	if e.InProgress {
		return fmt.Sprintf("%s: operation already in progress in state %s", e.Op, e.State)
	}
	return fmt.Sprintf("%s not valid in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
