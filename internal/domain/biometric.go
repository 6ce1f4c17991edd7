package domain

import (
	"errors"
	"fmt"
)

// BiometricReason classifies why a biometric release attempt did not
// produce a key
type BiometricReason string

const (
	BiometricUserCancelled BiometricReason = "user_cancelled"
	BiometricFailed        BiometricReason = "failed"
	BiometricUnavailable   BiometricReason = "unavailable"
	BiometricTimeout       BiometricReason = "timeout"
)

// BiometricError represents a failed biometric release or signing attempt.
// Op names the operation that failed ("authorize", "enroll", "sign").
type BiometricError struct {
	Op     string
	Reason BiometricReason
	Err    error
}

func (e *BiometricError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("biometrics %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("biometrics %s: %s", e.Op, e.Reason)
}

func (e *BiometricError) Unwrap() error {
	return e.Err
}

// IsBiometricCancellation reports whether err is a biometric attempt the
// user cancelled
func IsBiometricCancellation(err error) bool {
	var be *BiometricError
	return errors.As(err, &be) && be.Reason == BiometricUserCancelled
}

// AsBiometricError extracts a BiometricError from err if one is present
func AsBiometricError(err error) (*BiometricError, bool) {
	var be *BiometricError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
