package models

import "errors"

var (
	ErrNoSession            = errors.New("no active session")
	ErrInvalidUser          = errors.New("provided user either does not exist or has no permission for this operation")
	ErrForbidden            = errors.New("provided user does not have permission for this operation")
	ErrInvalidRole          = errors.New("invalid user role")
	ErrProfileProvisioning  = errors.New("user profile could not be created")
	ErrEmailNotConfirmed    = errors.New("email address is not confirmed")
	ErrNoSessionCreated     = errors.New("no session created")
	ErrValidation           = errors.New("validation failed")
	ErrConfirmationRequired = errors.New("action requires confirmation")
	ErrNoRequest            = errors.New("requested service request does not exist")
	ErrRequestFinalized     = errors.New("service request is already closed or awarded")
	ErrRequestNotOpen       = errors.New("service request is not open for offers")
	ErrNoOffer              = errors.New("requested offer does not exist")
	ErrNoNotification       = errors.New("notification does not exist or has expired")
)

// ValidationError is rejected user input. Message is meant to be shown to the user as is.
type ValidationError struct {
	Message string
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
