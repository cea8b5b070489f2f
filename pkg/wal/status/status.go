// Package status declares error constants returned by
// the wal package.
package status

import (
	"github.com/oneconcern/volsync/pkg/errors"
)

var (
	// ErrTokenGenerate signals that we could not generate a new serverRevision token
	ErrTokenGenerate = errors.New("failed to generate token")

	// ErrKSUID indicates that we failed to generate a new ksuid.
	// An error here is telling of an issue with the random generator.
	ErrKSUID = errors.New("failed to generate ksuid")

	// ErrAddWALEntry indicates a failure when adding a record to the log
	ErrAddWALEntry = errors.New("failed to add change log record")

	// ErrCorruptLog indicates an inconsistency in the persisted log
	ErrCorruptLog = errors.New("corrupted change log")
)
