// Package swaperr defines the error taxonomy shared by the swap services.
//
// Every failure is a *Error carrying:
//   - Code: machine-readable identifier
//   - Kind: input, precondition, transient or administrative
//   - Message: human-readable description
//   - Cause: underlying error, if any
//   - Context: identifiers involved (escrow, asset, signature, ...)
//
// Services return these errors unchanged; only the wizard layer decides how
// they are presented and whether a retry is offered.
package swaperr

import (
	"errors"
	"fmt"
)

// Kind classifies how a failure must be handled.
type Kind string

const (
	// Input errors are caught locally and never reach the ledger.
	Input Kind = "input"
	// Precondition failures are reported verbatim and never retried automatically.
	Precondition Kind = "precondition"
	// Transient failures may be retried by the user without changing anything.
	Transient Kind = "transient"
	// Administrative failures need out-of-band remediation by the escrow operator.
	Administrative Kind = "administrative"
)

// Code is a machine-readable error identifier.
type Code string

// Input codes.
const (
	InvalidIdentifier Code = "INVALID_IDENTIFIER"
	MissingSelection  Code = "MISSING_SELECTION"
	InvalidTransition Code = "INVALID_TRANSITION"
	InvalidAmount     Code = "INVALID_AMOUNT"
	Busy              Code = "BUSY"
	SessionClosed     Code = "SESSION_CLOSED"
)

// Precondition codes.
const (
	ConfigurationMismatch    Code = "CONFIGURATION_MISMATCH"
	InsufficientBalance      Code = "INSUFFICIENT_BALANCE"
	InsufficientVaultBalance Code = "INSUFFICIENT_VAULT_BALANCE"
	AssetNotAvailable        Code = "ASSET_NOT_AVAILABLE"
)

// Transient codes.
const (
	ConfigurationFetchFailed Code = "CONFIGURATION_FETCH_FAILED"
	DiscoveryFailed          Code = "DISCOVERY_FAILED"
	InitializationFailed     Code = "INITIALIZATION_FAILED"
	FundingFailed            Code = "FUNDING_FAILED"
	SettlementFailed         Code = "SETTLEMENT_FAILED"
	ConfirmationTimedOut     Code = "CONFIRMATION_TIMED_OUT"
)

// Administrative codes.
const (
	EscrowNotDelegated Code = "ESCROW_NOT_DELEGATED"
	AuthorityMismatch  Code = "AUTHORITY_MISMATCH"
)

var kinds = map[Code]Kind{
	InvalidIdentifier:        Input,
	MissingSelection:         Input,
	InvalidTransition:        Input,
	InvalidAmount:            Input,
	Busy:                     Input,
	SessionClosed:            Input,
	ConfigurationMismatch:    Precondition,
	InsufficientBalance:      Precondition,
	InsufficientVaultBalance: Precondition,
	AssetNotAvailable:        Precondition,
	ConfigurationFetchFailed: Transient,
	DiscoveryFailed:          Transient,
	InitializationFailed:     Transient,
	FundingFailed:            Transient,
	SettlementFailed:         Transient,
	ConfirmationTimedOut:     Transient,
	EscrowNotDelegated:       Administrative,
	AuthorityMismatch:        Administrative,
}

// KindOf returns the kind registered for a code. Unknown codes are transient.
func KindOf(code Code) Kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return Transient
}

// Error is the base error type for all swap failures.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Cause   error
	Context map[string]string
}

// New creates an error for code with the kind registered for it.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Kind:    KindOf(code),
		Message: message,
		Cause:   cause,
		Context: make(map[string]string),
	}
}

// Newf creates an error with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// With attaches a context value and returns the same error.
func (e *Error) With(key, value string) *Error {
	e.Context[key] = value
	return e
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the same step unchanged may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == Transient
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	se, ok := As(err)
	return ok && se.Code == code
}

// CodeOf returns the code of err, or "" when err is not a swap error.
func CodeOf(err error) Code {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// Retryable reports whether err is a transient swap error.
func Retryable(err error) bool {
	se, ok := As(err)
	return ok && se.Retryable()
}
