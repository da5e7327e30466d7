package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the POS handlers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeOutOfStock          = "OUT_OF_STOCK"
	CodePaymentInsufficient = "PAYMENT_INSUFFICIENT"
	CodeInternal            = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation wraps err as a 400 validation failure.
func Validation(message string, err error) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, err)
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, nil)
}

// WithDetails attaches structured details to the error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WriteError renders err using the canonical error shape. Errors that are not
// AppErrors are reported as internal failures without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
