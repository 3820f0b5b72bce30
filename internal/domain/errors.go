package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden indicates an ownership mismatch
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrQuotaExceeded indicates the daily token quota is exhausted
	ErrQuotaExceeded = errors.New("daily token quota exceeded")
	// ErrProviderFailure indicates the completion provider failed
	ErrProviderFailure = errors.New("completion provider failure")
)
