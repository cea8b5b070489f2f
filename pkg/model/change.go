package model

import "time"

// Action recorded in the change log
type Action string

// Actions recorded in the change log
const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// Status of a path reported by a delta between two server revisions
type Status string

// Statuses reported by a delta
const (
	StatusAdded   Status = "ADDED"
	StatusUpdated Status = "UPDATED"
	StatusRemoved Status = "REMOVED"
)

// ChangeRecord is an entry of the change log of a volume
type ChangeRecord struct {
	ServerRevision string    `json:"serverRevision" yaml:"serverRevision"`
	Seq            uint64    `json:"seq" yaml:"seq"`
	Path           string    `json:"path" yaml:"path"`
	Action         Action    `json:"action" yaml:"action"`
	Digest         string    `json:"digest,omitempty" yaml:"digest,omitempty"` // empty for removals
	Size           int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Time           time.Time `json:"time" yaml:"time"`
	_              struct{}
}
