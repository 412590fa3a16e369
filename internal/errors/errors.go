package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")
	ErrInternal         = new(ErrCodeInternal, "internal error")

	// Billing domain errors
	ErrDuplicateTrialCard  = new(ErrCodeDuplicateTrialCard, "card already used for a trial")
	ErrSubscriptionExpired = new(ErrCodeSubscriptionExpired, "subscription period has ended")
	ErrCannotReactivate    = new(ErrCodeCannotReactivate, "subscription cannot be reactivated")
	ErrInvalidPlanType     = new(ErrCodeInvalidPlanType, "invalid plan type")
	ErrOrphanedInvoice     = new(ErrCodeOrphanedInvoice, "invoice references no known customer")
	ErrPaymentProcessing   = new(ErrCodePaymentProcessing, "payment processing failed")
	ErrWebhookSignature    = new(ErrCodeWebhookSignature, "webhook signature verification failed")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrNotFound:            http.StatusNotFound,
		ErrAlreadyExists:       http.StatusConflict,
		ErrValidation:          http.StatusBadRequest,
		ErrInvalidOperation:    http.StatusBadRequest,
		ErrPermissionDenied:    http.StatusForbidden,
		ErrDatabase:            http.StatusInternalServerError,
		ErrSystem:              http.StatusInternalServerError,
		ErrInternal:            http.StatusInternalServerError,
		ErrDuplicateTrialCard:  http.StatusConflict,
		ErrSubscriptionExpired: http.StatusConflict,
		ErrCannotReactivate:    http.StatusConflict,
		ErrInvalidPlanType:     http.StatusBadRequest,
		ErrOrphanedInvoice:     http.StatusUnprocessableEntity,
		ErrPaymentProcessing:   http.StatusPaymentRequired,
		ErrWebhookSignature:    http.StatusBadRequest,
	}
)

const (
	ErrCodeSystemError      = "system_error"
	ErrCodeInternal         = "internal_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeDatabase         = "database_error"

	ErrCodeDuplicateTrialCard  = "duplicate_trial_card"
	ErrCodeSubscriptionExpired = "subscription_expired"
	ErrCodeCannotReactivate    = "cannot_reactivate"
	ErrCodeInvalidPlanType     = "invalid_plan_type"
	ErrCodeOrphanedInvoice     = "orphaned_invoice"
	ErrCodePaymentProcessing   = "payment_processing_failed"
	ErrCodeWebhookSignature    = "webhook_signature_invalid"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsPaymentProcessing checks if an error came back from the billing provider
func IsPaymentProcessing(err error) bool {
	return errors.Is(err, ErrPaymentProcessing)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
