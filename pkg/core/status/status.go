// Package status exports errors produced by the core package.
//
// These errors are located in a separate package, so they can be shared
// with the revision and change log packages without creating cycles.
package status

import (
	"github.com/oneconcern/volsync/pkg/errors"
)

var (
	// ErrBadRequest indicates a missing or malformed input, such as a missing rev on a file operation
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound indicates an unknown volume or path
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a revision mismatch on an operation which can't be resolved with a conflicted copy
	ErrConflict = errors.New("revision conflict")

	// ErrExists indicates that the destination of an operation is already occupied
	ErrExists = errors.New("already exists")

	// ErrBadRevision indicates an unknown server revision cursor
	ErrBadRevision = errors.New("unknown revision")

	// ErrIntegrity indicates that a revision references some content which is missing or corrupted.
	//
	// This is fatal and should not be retried.
	ErrIntegrity = errors.New("integrity error")

	// ErrNotModified is not an error: it signals that the state known by the caller is still current
	ErrNotModified = errors.New("not modified")

	// ErrUnauthorized indicates a caller which could not be identified
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a caller which is not allowed to perform some operation
	ErrForbidden = errors.New("forbidden")

	// ErrTooLarge indicates some content exceeding the configured size limit
	ErrTooLarge = errors.New("content too large")

	// ErrClosed indicates an operation on a volume which has been closed
	ErrClosed = errors.New("volume closed")
)
