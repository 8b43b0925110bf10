// Package domainerrors carries coded errors from services to transports.
//
// Every failed transition surfaces exactly one Code. Transports translate the
// code (ToHTTPStatus) and never inspect messages; services translate store
// sentinels (pkg/platform/sentinel) into codes at the boundary.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies a failure kind. Values are stable and safe to expose.
type Code string

const (
	// Ledger transition failures.
	CodeUnauthorized                Code = "unauthorized"
	CodeAlreadyInitialized          Code = "already_initialized"
	CodeInvalidOwner                Code = "invalid_owner"
	CodeInvalidSchedule             Code = "invalid_schedule"
	CodeInsufficientUnvestedBalance Code = "insufficient_unvested_balance"
	CodeInsufficientUnlockedBalance Code = "insufficient_unlocked_balance"
	CodeInsufficientBalance         Code = "insufficient_balance"
	CodeAlreadyBurned               Code = "already_burned"
	CodeUnauthorizedReceipt         Code = "unauthorized_receipt"
	CodeWrongAssetMint              Code = "wrong_asset_mint"
	CodeInvalidReceipt              Code = "invalid_receipt"
	CodeDecode                      Code = "decode"
	CodeTransferFailed              Code = "transfer_failed"

	// Infrastructure and input failures.
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost coded error, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeDecode, CodeInvalidInput, CodeInvalidSchedule:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeUnauthorizedReceipt, CodeInvalidOwner:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyInitialized, CodeAlreadyBurned, CodeConflict,
		CodeInsufficientUnvestedBalance, CodeInsufficientUnlockedBalance, CodeInsufficientBalance:
		return http.StatusConflict
	case CodeWrongAssetMint, CodeInvalidReceipt:
		return http.StatusUnprocessableEntity
	case CodeTransferFailed:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
