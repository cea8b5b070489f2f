package model

import (
	"path"
	"strconv"
	"strings"

	"github.com/oneconcern/volsync/pkg/errors"
)

const conflictedCopySuffix = "-ConflictedCopy"

// ErrInvalidPath indicates a path which cannot be stored in a volume
var ErrInvalidPath = errors.New("invalid path")

// CleanPath normalizes a path relative to the root of a volume.
//
// Leading and trailing slashes are removed. The root of the volume is the empty path.
// Paths escaping the volume are rejected.
func CleanPath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", nil
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", ErrInvalidPath.WrapMessage("%q escapes the volume", p)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", nil
	}
	if strings.ContainsRune(cleaned, 0) {
		return "", ErrInvalidPath.WrapMessage("%q contains a NUL character", p)
	}
	return cleaned, nil
}

// CleanFilePath normalizes a path which must denote a file
func CleanFilePath(p string) (string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return "", ErrInvalidPath.WrapMessage("a file path is required")
	}
	return cleaned, nil
}

// ConflictedCopyPath derives the path of a conflicted copy of p.
//
// The first attempt (n <= 1) yields "<p>-ConflictedCopy", then "<p>-ConflictedCopy-<n>".
func ConflictedCopyPath(p string, n int) string {
	dir, base := path.Split(p)
	name := base + conflictedCopySuffix
	if n > 1 {
		name += "-" + strconv.Itoa(n)
	}
	return dir + name
}

// IsUnder tells if p is the directory dir itself or lies beneath it. The root "" contains everything.
func IsUnder(p, dir string) bool {
	if dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
