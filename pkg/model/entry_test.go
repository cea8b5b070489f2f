package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntriesHash(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Second)

	entries := Entries{
		{Path: "b", Digest: "2", Size: 1, Mtime: &now},
		{Path: "a", Digest: "1", Size: 1, Mtime: &now},
	}
	entries.Sort()
	assert.Equal(t, "a", entries[0].Path)

	h1 := entries.Hash()
	assert.Len(t, h1, 40)
	assert.Equal(t, h1, entries.Hash(), "hash is stable")

	touched := Entries{
		{Path: "a", Digest: "1", Size: 1, Mtime: &now},
		{Path: "b", Digest: "2", Size: 1, Mtime: &later},
	}
	assert.NotEqual(t, h1, touched.Hash(), "mtime is part of the hash")

	changed := Entries{
		{Path: "a", Digest: "1", Size: 1, Mtime: &now},
		{Path: "b", Digest: "3", Size: 1, Mtime: &now},
	}
	assert.NotEqual(t, h1, changed.Hash())
}
