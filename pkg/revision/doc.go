// Package revision maintains the per-path revision chains of a volume.
//
// A chain is stored in the volume metadata store as:
//
//	head:<path>                 -> current revision
//	rev:<path>\x00<seq, be64>   -> every revision of the path, by position
//
// All operations run inside a caller-provided transaction, so that a chain mutation
// is committed together with the corresponding change log record.
package revision
