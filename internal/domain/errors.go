package domain

import "errors"

// Domain errors
var (
	// Queue errors
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueClosed        = errors.New("queue is closed")
	ErrQueueAlreadyExists = errors.New("queue already exists")

	// Session errors
	ErrSessionNotFound        = errors.New("session not found")
	ErrDuplicateJoin          = errors.New("user already has an active session in this queue")
	ErrInvalidStateTransition = errors.New("invalid session state transition")

	// Store errors
	ErrStoreUnavailable = errors.New("session store unavailable")

	// Template errors
	ErrTemplateNotFound = errors.New("queue template not found")
	ErrTemplateInactive = errors.New("queue template is not active")

	// Merge errors
	ErrMergeNotFound       = errors.New("merge operation not found")
	ErrMergeConflict       = errors.New("queue is already part of an active merge operation")
	ErrMergeSameQueue      = errors.New("source and target queue must differ")
	ErrMergeNotCancellable = errors.New("merge operation is already final")

	// Access pass errors
	ErrInvalidAccessPass = errors.New("invalid access pass")

	// Validation errors
	ErrInvalidQueueID            = errors.New("invalid queue id")
	ErrInvalidUserID             = errors.New("invalid user id")
	ErrInvalidSessionID          = errors.New("invalid session id")
	ErrInvalidCapacity           = errors.New("capacity must be greater than zero")
	ErrInvalidReleaseRate        = errors.New("release rate must not be negative")
	ErrInvalidQueueStatus        = errors.New("invalid queue status")
	ErrInvalidTemplateName       = errors.New("template name is required")
	ErrInvalidTemplateVisibility = errors.New("invalid template visibility")
)

// IsNotFound checks if the error is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQueueNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrMergeNotFound)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrQueueClosed) ||
		errors.Is(err, ErrQueueAlreadyExists) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrMergeConflict) ||
		errors.Is(err, ErrMergeNotCancellable)
}

// IsUnavailable checks if the error is a transient store error
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidQueueID) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidSessionID) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidReleaseRate) ||
		errors.Is(err, ErrInvalidQueueStatus) ||
		errors.Is(err, ErrInvalidTemplateName) ||
		errors.Is(err, ErrInvalidTemplateVisibility) ||
		errors.Is(err, ErrMergeSameQueue)
}
