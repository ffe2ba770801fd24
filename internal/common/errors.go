// Package common defines shared constants and sentinel errors used across
// gatekeeper layers. Callers should use errors.Is to match these values;
// orchestrators wrap them with context using %w.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrorInternal marks failures that are not the caller's fault.
	ErrorInternal = errors.New("internal error")

	// Authentication errors. Transport layers must report both with the same
	// message so callers cannot tell which one happened.
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrBackendUnavailable means the credential store or directory could not
	// be reached in time.
	ErrBackendUnavailable = errors.New("identity backend unavailable")

	// Provisioning errors.
	ErrMissingField         = errors.New("missing required field")
	ErrInvalidField         = errors.New("invalid field")
	ErrAlreadyExists        = errors.New("identity already exists")
	ErrAlreadyExistsRemote  = errors.New("identity already exists in directory")
	ErrStoreWriteFailed     = errors.New("credential store write failed")
	ErrDirectoryWriteFailed = errors.New("directory write failed")

	// ErrExportSinkFailed is reported as a warning only; it never fails a
	// create or delete.
	ErrExportSinkFailed = errors.New("directory export sink failed")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")

	// Second factor errors.
	Err2FANotEnrolled = errors.New("second factor not enrolled")
	Err2FAInvalidCode = errors.New("invalid second factor code")
)
