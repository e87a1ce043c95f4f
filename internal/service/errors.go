package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures for the HTTP boundary.
type ErrorKind string

const (
	// KindAuth covers protocol and credential failures (4xx).
	KindAuth ErrorKind = "auth"
	// KindValidation covers malformed or conflicting input (4xx).
	KindValidation ErrorKind = "validation"
	// KindInternal covers store and crypto failures (5xx). Details are logged,
	// never returned.
	KindInternal ErrorKind = "internal"
)

// OAuthError standardizes OAuth compliant errors.
type OAuthError struct {
	Kind        ErrorKind
	Code        string
	Description string
	Status      int
	Err         error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Kind: KindAuth, Code: code, Description: desc, Status: status}
}

func invalidClient(desc string) *OAuthError {
	return newOAuthError("invalid_client", desc, http.StatusUnauthorized)
}

func invalidGrant(desc string) *OAuthError {
	return newOAuthError("invalid_grant", desc, http.StatusBadRequest)
}

func invalidRequest(desc string) *OAuthError {
	return newOAuthError("invalid_request", desc, http.StatusBadRequest)
}

func newValidationError(desc string) *OAuthError {
	return &OAuthError{Kind: KindValidation, Code: "invalid_request", Description: desc, Status: http.StatusBadRequest}
}

func newInternalError(op string, err error) *OAuthError {
	return &OAuthError{
		Kind:        KindInternal,
		Code:        "server_error",
		Description: "Internal server error.",
		Status:      http.StatusInternalServerError,
		Err:         fmt.Errorf("%s: %w", op, err),
	}
}

// AsOAuthError returns err as an *OAuthError, treating anything else as internal.
func AsOAuthError(err error) *OAuthError {
	if err == nil {
		return nil
	}
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return newInternalError("unexpected", err)
}
