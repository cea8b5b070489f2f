package provision

import (
	"github.com/oneconcern/volsync/pkg/core/status"
)

var (
	// ErrMissingPassword is returned when creating or destroying a volume without a password
	ErrMissingPassword = status.ErrBadRequest.WrapMessage("a volume password is required")

	// ErrWrongPassword is returned when destroying a volume with a password which does not match
	ErrWrongPassword = status.ErrForbidden.WrapMessage("wrong volume password")

	// ErrInvalidName is returned for a volume or owner name which is not a single path element
	ErrInvalidName = status.ErrBadRequest.WrapMessage("invalid volume name")
)
