package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrJobFailed indicates that a remote generation job ended in a non-success state
	ErrJobFailed = errors.New("remote job failed")

	// ErrProtocol indicates that a remote service answered with an unexpected payload
	ErrProtocol = errors.New("unexpected response from remote service")
)
