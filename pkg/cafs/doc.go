// Package cafs provides a content-addressable store for file blobs.
//
// All content is indexed by its digest: the SHA1 of the git blob object built from the
// content ("blob <size>\x00<bytes>"). The digest of some content is thus the same as
// the one git would compute, and doubles as the revision identifier of a file.
//
// Blobs are immutable. Storing the same content twice is a no-op.
//
// Each blob is stored on the backend store using the hex digest as an object reference,
// split as <2 first hex chars>/<remaining 38 chars>.
//
// Blobs may be compressed at rest with zstd. Compression is transparent: the digest is
// always computed over the raw content, and readers detect the encoding from a one-byte header.
package cafs
