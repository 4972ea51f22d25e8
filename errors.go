package oneplace

import (
	"errors"
	"fmt"
)

// ErrorCode represents authentication error categories.
type ErrorCode string

const (
	ErrCodeInvalidAssertion      ErrorCode = "invalid_assertion"
	ErrCodeMissingCredential     ErrorCode = "missing_credential"
	ErrCodeInvalidCredential     ErrorCode = "invalid_credential"
	ErrCodeProviderNotRegistered ErrorCode = "provider_not_registered"
	ErrCodeKeysUnavailable       ErrorCode = "keys_unavailable"
	ErrCodeInternal              ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidAssertion:      "Invalid token",
	ErrCodeMissingCredential:     "Missing credential",
	ErrCodeInvalidCredential:     "Invalid credential",
	ErrCodeProviderNotRegistered: "Provider not registered",
	ErrCodeKeysUnavailable:       "Signing keys unavailable",
	ErrCodeInternal:              "Internal error",
}

// Reason narrows down why an assertion or credential was rejected. It is
// meant for logs; responses only ever expose the Code.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonMalformed   Reason = "malformed"
	ReasonSignature   Reason = "signature"
	ReasonExpired     Reason = "expired"
	ReasonNotYetValid Reason = "not_yet_valid"
	ReasonAudience    Reason = "audience"
	ReasonIssuer      Reason = "issuer"
	ReasonClaims      Reason = "claims"
)

// Error wraps authentication errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Reason  Reason
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Reason != ReasonNone {
		base = fmt.Sprintf("%s (%s)", base, e.Reason)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, reason Reason, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Reason: reason, Message: msg, Err: err}
}
