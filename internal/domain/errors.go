package domain

import "errors"

var (
	// ErrNotConfigured signals that no source yields a required LINE credential.
	ErrNotConfigured = errors.New("credentials: not configured")
	// ErrSignature signals a webhook request whose signature does not verify.
	ErrSignature = errors.New("webhook: invalid signature")
	// ErrPersistence signals a deferred task that could not be accepted or applied.
	ErrPersistence = errors.New("task: persistence failure")
)
