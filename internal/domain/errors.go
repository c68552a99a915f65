package domain

import "errors"

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadySent = errors.New("reminder already sent")
	// ErrClaimLost is returned when a dispatch was taken over by a later attempt.
	ErrClaimLost = errors.New("dispatch claim lost")
)
