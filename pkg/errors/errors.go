package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an application error for policy decisions:
// retry, swallow-as-noop, degrade, or surface.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicateContent ErrorCode = "DUPLICATE_CONTENT"
	CodeParseFailure     ErrorCode = "PARSE_FAILURE"
	CodeBudgetExhausted  ErrorCode = "BUDGET_EXHAUSTED"
	CodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code alongside a message and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates an invalid-input error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewDuplicateError creates a duplicate-content error. Callers that hit a
// unique constraint treat this as a success-noop.
func NewDuplicateError(message string) *AppError {
	return &AppError{Code: CodeDuplicateContent, Message: message}
}

// NewParseError creates a parse-failure error for LLM output that did not
// decode. Callers preserve previous state on this code.
func NewParseError(message string, cause error) *AppError {
	return &AppError{Code: CodeParseFailure, Message: message, Err: cause}
}

// NewBudgetError creates a budget-exhausted error (crawl pages, tool rounds).
func NewBudgetError(message string) *AppError {
	return &AppError{Code: CodeBudgetExhausted, Message: message}
}

// NewTransientError wraps a network/IO failure that is safe to retry.
func NewTransientError(message string, cause error) *AppError {
	return &AppError{Code: CodeTransientNetwork, Message: message, Err: cause}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause creates an internal error wrapping a cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsDuplicate reports whether err is a duplicate-content error.
func IsDuplicate(err error) bool { return hasCode(err, CodeDuplicateContent) }

// IsParseFailure reports whether err is a parse-failure error.
func IsParseFailure(err error) bool { return hasCode(err, CodeParseFailure) }

// IsBudgetExhausted reports whether err is a budget-exhausted error.
func IsBudgetExhausted(err error) bool { return hasCode(err, CodeBudgetExhausted) }

// IsTransient reports whether err is retryable: transient network or timeout.
func IsTransient(err error) bool {
	return hasCode(err, CodeTransientNetwork) || hasCode(err, CodeTimeout)
}

// IsInvalidInput reports whether err is an invalid-input error.
func IsInvalidInput(err error) bool { return hasCode(err, CodeInvalidInput) }
