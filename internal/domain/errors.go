package domain

import "errors"

var (
	ErrDuplicateActiveAttempt = errors.New("booking already has a completed payment")
	ErrNotFound               = errors.New("payment not found")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrNotCompleted           = errors.New("payment is not completed")
)
