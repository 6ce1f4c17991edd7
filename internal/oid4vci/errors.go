package oid4vci

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoAuthorizationCodeGrant is returned when an offer does not carry
	// the authorization-code grant this wallet's profiles require.
	ErrNoAuthorizationCodeGrant = errors.New("offer has no authorization_code grant")
	// ErrUntrustedIssuer is returned when the credential issuer URL does not
	// match a trusted scheme.
	ErrUntrustedIssuer = errors.New("credential issuer not trusted")
)

// OAuth-style protocol error codes
const (
	ErrorCodeInvalidRequest   = "invalid_request"
	ErrorCodeInvalidGrant     = "invalid_grant"
	ErrorCodeInvalidToken     = "invalid_token"
	ErrorCodeInvalidProof     = "invalid_proof"
	ErrorCodeServerError      = "server_error"
	ErrorCodeInvalidOffer     = "invalid_credential_offer"
	ErrorCodeInvalidMetadata  = "invalid_issuer_metadata"
	ErrorCodeUnsupportedGrant = "unsupported_grant_type"
)

// Error is a typed protocol error carrying the OAuth-style error code and,
// where applicable, the HTTP status the issuer responded with.
type Error struct {
	Code        string
	Description string
	StatusCode  int
	Err         error
}

func (e *Error) Error() string {
	s := "oid4vci error " + e.Code
	if e.StatusCode > 0 {
		s = fmt.Sprintf("%s (status %d)", s, e.StatusCode)
	}
	if e.Description != "" {
		s += ": " + e.Description
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a protocol error from an issuer error response body
func newError(code string, statusCode int, description string) *Error {
	if code == "" {
		code = ErrorCodeServerError
	}
	return &Error{Code: code, StatusCode: statusCode, Description: description}
}
