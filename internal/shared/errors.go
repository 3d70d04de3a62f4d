package shared

import "errors"

var (
	// ErrNotFound indicates resource not found or inactive.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidToken indicates authentication failure.
	ErrInvalidToken = errors.New("invalid api token")
)
