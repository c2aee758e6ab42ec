package order

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes state machine errors.
type ErrorCode string

const (
	// CodeInvalidTransition indicates a transition not in the allowed
	// table. Local and recoverable; the caller keeps the order as-is.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodePermissionDenied indicates a permission-gated operation
	// (void, refund) attempted without rights. Rejected locally,
	// never retried.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeValidation indicates malformed input: empty snapshot,
	// unknown order type, mismatched merge set.
	CodeValidation ErrorCode = "VALIDATION"
)

// Error is a structured state machine error with fields for diagnostics.
type Error struct {
	Code    ErrorCode
	Message string
	OrderID string
	From    Status
	To      Status
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("%s: %s (order=%s, %s -> %s)", e.Code, e.Message, e.OrderID, e.From, e.To)
	}
	if e.OrderID != "" {
		return fmt.Sprintf("%s: %s (order=%s)", e.Code, e.Message, e.OrderID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidTransition reports whether err is a rejected transition.
// Uses errors.As to handle wrapped errors.
func IsInvalidTransition(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == CodeInvalidTransition
}

// IsPermission reports whether err is a permission rejection.
func IsPermission(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == CodePermissionDenied
}

// IsValidation reports whether err is an input validation rejection.
func IsValidation(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == CodeValidation
}

// NewTransitionError creates an Error for a disallowed transition.
func NewTransitionError(orderID string, from, to Status) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: "transition not allowed",
		OrderID: orderID,
		From:    from,
		To:      to,
	}
}

// NewPermissionError creates an Error for a denied privileged operation.
func NewPermissionError(orderID, action, actor string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s requires elevated permission (actor=%s)", action, actor),
		OrderID: orderID,
	}
}

// NewValidationError creates an Error for malformed input.
func NewValidationError(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}
