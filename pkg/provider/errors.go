package provider

import (
	"errors"
	"fmt"
)

// Failure classes a report publish can end in. Providers wrap their native
// errors into one of these so callers can pick an exit code without knowing
// the backend.
var (
	ErrNotFound            = errors.New("not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrThrottled           = errors.New("request throttled")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ProviderError records which publish step failed and where.
type ProviderError struct {
	Op       string
	Provider ProviderType

	// Bucket is the S3 bucket or, for file destinations, the base directory.
	Bucket string
	Key    string

	Err error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports a report destination that does not exist: a missing
// bucket or base directory.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}

// IsAccessDenied reports credentials that were rejected or lack write
// permission on the destination.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}

// IsTransient reports throttling or an unavailable service; publishing again
// later may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrProviderUnavailable)
}
