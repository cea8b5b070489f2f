package cafs

import (
	"encoding/hex"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// DigestSize is the size in bytes of a content digest (SHA1)
	DigestSize = 20

	// DigestSizeHex is the size of the hex representation of a digest
	DigestSizeHex = 2 * DigestSize
)

// Digest identifies some content
type Digest [DigestSize]byte

// ZeroDigest is the zero value of a digest
var ZeroDigest Digest

// Sum computes the digest of some content
func Sum(data []byte) Digest {
	return Digest(plumbing.ComputeHash(plumbing.BlobObject, data))
}

// ParseDigest parses the hex representation of a digest
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != DigestSizeHex {
		return d, &BadDigest{Value: s}
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, &BadDigest{Value: s}
	}
	return d, nil
}

// MustParseDigest parses a digest or panics
func MustParseDigest(s string) Digest {
	d, err := ParseDigest(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero tells if this digest is unset
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// pathFor yields the key used on the backend store
func (d Digest) pathFor(prefix string) string {
	s := d.String()
	return prefix + s[:2] + "/" + s[2:]
}

// BadDigest is an error that's returned when a digest representation is invalid
type BadDigest struct {
	Value string
}

func (b *BadDigest) Error() string {
	return fmt.Sprintf("%q is not a valid digest, expected %d hex characters", b.Value, DigestSizeHex)
}
