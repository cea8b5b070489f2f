package model

import "time"

// Revision is one historical content state of a path.
//
// Revisions of a path form a singly linked list through Parent.
type Revision struct {
	Digest    string      `json:"digest" yaml:"digest"`
	Parent    string      `json:"parent,omitempty" yaml:"parent,omitempty"`
	Size      int64       `json:"size" yaml:"size"`
	Author    Contributor `json:"author" yaml:"author"`
	CreatedAt time.Time   `json:"createdAt" yaml:"createdAt"`
	Seq       uint64      `json:"seq" yaml:"seq"` // position in the chain, starting at 1
	_         struct{}
}
