package model

import (
	"crypto/sha1" //#nosec
	"encoding/hex"
	"sort"
	"strconv"
	"time"
)

// Entry describes the current state of a path in a listing.
//
// Mtime is the creation time of the head revision. It is omitted
// when listing a fixed revision.
type Entry struct {
	Path   string     `json:"path" yaml:"path"`
	Digest string     `json:"sha1" yaml:"sha1"`
	Size   int64      `json:"size" yaml:"size"`
	Mtime  *time.Time `json:"mtime,omitempty" yaml:"mtime,omitempty"`
	_      struct{}
}

// Entries represent a collection of entries
type Entries []Entry

// Sort entries by path
func (entries Entries) Sort() {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// Hash the entries into a single hash.
//
// Entries are expected to be sorted. The hash covers path, digest and mtime of each entry.
func (entries Entries) Hash() string {
	hasher := sha1.New() //#nosec
	for _, entry := range entries {
		_, _ = hasher.Write([]byte(entry.Path))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write([]byte(entry.Digest))
		_, _ = hasher.Write([]byte{0})
		if entry.Mtime != nil {
			_, _ = hasher.Write([]byte(strconv.FormatInt(entry.Mtime.UnixNano(), 10)))
		}
		_, _ = hasher.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
