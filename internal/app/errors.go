package app

import "errors"

var (
	// ErrNotAuthenticated is returned when an operation requires a caller
	// identity and none was established.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStorageNotConfigured is returned for file-URL requests when no
	// object storage backend is wired.
	ErrStorageNotConfigured = errors.New("object storage not configured")
)
