// Package gwerr defines the gateway-wide error taxonomy.
//
// Request handling maps each sentinel to a distinct outcome, so callers must
// never collapse these into a generic error.
package gwerr

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the request layer.
var (
	// ErrNotFound indicates the requested cluster, key, or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionRequired indicates no health check has run yet for the
	// requested service, which is distinct from an unhealthy result.
	ErrPreconditionRequired = errors.New("health check precondition required")

	// ErrUnavailable indicates a health check ran and reports the service unhealthy.
	ErrUnavailable = errors.New("service unavailable")

	// ErrNotImplemented indicates a recognized but unsupported backend variant.
	ErrNotImplemented = errors.New("not implemented")

	// ErrTokenExpired indicates the bearer token's signature is valid but expired.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTokenInvalid indicates a structurally invalid or badly signed token.
	ErrTokenInvalid = errors.New("access token invalid")

	// ErrKeyNotFound indicates the token names a key identifier that is not in
	// the verification key cache.
	ErrKeyNotFound = errors.New("token public key not found")

	// ErrInactiveAuth indicates a token that verified cryptographically but whose
	// claims flag the identity as inactive.
	ErrInactiveAuth = errors.New("inactive authentication")
)

// ConfigError is a fatal startup-time configuration problem: unknown backend
// kind, missing default work directory, unmappable key algorithm.
type ConfigError struct {
	// Field is the configuration path that failed (e.g. "ssh_credentials.type").
	Field string

	// Err is the underlying error.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError builds a ConfigError from a field path and a message.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// TransferError wraps failures during transfer orchestration with context.
// A TransferError aborts the whole operation; no job is submitted without a
// fully issued URL set.
type TransferError struct {
	// Op is the step that failed (e.g. "EnsureBucket", "PresignUploadPart").
	Op string

	// Bucket is the target bucket, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

func (e *TransferError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("transfer %s: %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("transfer %s: %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing cluster, key, or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionRequired returns true if no health record exists for the request.
func IsPreconditionRequired(err error) bool {
	return errors.Is(err, ErrPreconditionRequired)
}

// IsUnavailable returns true if the error indicates an unhealthy service.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotImplemented returns true if the error indicates an unsupported backend variant.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsAuth returns true for any of the authentication failure sentinels.
func IsAuth(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrInactiveAuth)
}

// IsConfig returns true if the error is a fatal configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
