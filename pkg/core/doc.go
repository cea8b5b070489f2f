// Package core implements the synchronization engine of a volume.
//
// A Volume combines a content-addressed blob store with a metadata store holding
// the revision chain of every path and the volume change log.
//
// Mutations (file writes, copy, move, delete) are serialized by a per-volume lock covering
// the whole read-decide-write sequence. Content is stored durably before the metadata
// transaction referencing it commits, so that no revision ever points to missing content.
//
// Reads (listing, diff, delta) use an immutable snapshot of the current heads, swapped after each
// committed mutation: readers never wait for the write lock.
package core
