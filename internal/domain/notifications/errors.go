package notifications

import "errors"

var (
	ErrNotFound       = errors.New("notification not found")
	ErrInvalidRequest = errors.New("invalid notification")
	ErrNoProfile      = errors.New("recipient has no profile")
)
