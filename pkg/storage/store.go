// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
)

const (
	// NoOverWrite fails a Put when the key already exists
	NoOverWrite = true

	// OverWrite replaces any existing object on Put
	OverWrite = false
)

// Store implementations know how to write objects to a K/V model.
//
// Typically this is something file system-like, e.g. a local FS or NFS.
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// PipeIO copies a reader to a writer
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	return io.Copy(writer, reader)
}
