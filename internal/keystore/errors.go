package keystore

import "errors"

// Common errors
var (
	// ErrWrongPIN is returned when a derived key fails the stored key check.
	ErrWrongPIN = errors.New("wrong pin")
	// ErrInvalidPIN is returned when a PIN does not meet the policy.
	ErrInvalidPIN = errors.New("invalid pin")
	// ErrNotConfigured is returned when key material is requested from a
	// wallet that has no salt.
	ErrNotConfigured = errors.New("wallet key not configured")
	// ErrSaltExists is returned when a salt is created over an existing one.
	ErrSaltExists = errors.New("salt already exists")
	// ErrCorruptRecord is returned when stored key material is inconsistent.
	ErrCorruptRecord = errors.New("corrupt key record")
)
