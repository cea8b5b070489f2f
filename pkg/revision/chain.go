package revision

import (
	"encoding/binary"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/model"
)

// Outcome of an append to a revision chain
type Outcome int

// Outcomes of an append
const (
	// Created a new chain: the path had no prior revision
	Created Outcome = iota
	// FastForward appended a revision on top of the head claimed by the writer
	FastForward
	// Conflict means the claimed parent is stale: nothing was written
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case FastForward:
		return "fast-forward"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

const (
	headPrefix = "head:"
	revPrefix  = "rev:"
)

func headKey(pth string) []byte {
	return []byte(headPrefix + pth)
}

func revChainPrefix(pth string) []byte {
	return append([]byte(revPrefix+pth), 0)
}

func revKey(pth string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(revChainPrefix(pth), seq)
}

// Head returns the current revision of a path
func Head(txn *kv.Txn, pth string) (model.Revision, error) {
	var rev model.Revision
	err := txn.Get(headKey(pth), &rev)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return rev, status.ErrNotFound.WrapMessage("path %q", pth)
		}
		return rev, err
	}
	return rev, nil
}

// Exists tells if a path has a current revision
func Exists(txn *kv.Txn, pth string) (bool, error) {
	return txn.Has(headKey(pth))
}

// Append a new revision to a path, checking the claimed parent against the current head.
//
// An absent path yields Created, whatever the claimed parent. On Conflict, nothing is written.
// Parent and Seq are set on the returned revision.
func Append(txn *kv.Txn, pth string, rev model.Revision, claimedParent string) (Outcome, model.Revision, error) {
	head, err := Head(txn, pth)
	switch {
	case errors.Is(err, status.ErrNotFound):
		rev, err = write(txn, pth, rev, model.Revision{})
		return Created, rev, err
	case err != nil:
		return Conflict, rev, err
	case claimedParent != head.Digest:
		return Conflict, head, nil
	default:
		rev, err = write(txn, pth, rev, head)
		return FastForward, rev, err
	}
}

// ForceAppend appends a new revision to a path regardless of the current head
func ForceAppend(txn *kv.Txn, pth string, rev model.Revision) (model.Revision, error) {
	head, err := Head(txn, pth)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return rev, err
	}
	return write(txn, pth, rev, head)
}

func write(txn *kv.Txn, pth string, rev, head model.Revision) (model.Revision, error) {
	rev.Parent = head.Digest
	rev.Seq = head.Seq + 1
	if err := txn.Set(revKey(pth, rev.Seq), rev); err != nil {
		return rev, err
	}
	if err := txn.Set(headKey(pth), rev); err != nil {
		return rev, err
	}
	return rev, nil
}

// History of a path, most recent first
func History(txn *kv.Txn, pth string) ([]model.Revision, error) {
	var revs []model.Revision
	err := txn.Scan(revChainPrefix(pth), func(_, value []byte) error {
		var rev model.Revision
		if err := kv.Decode(value, &rev); err != nil {
			return err
		}
		revs = append(revs, rev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, status.ErrNotFound.WrapMessage("path %q", pth)
	}
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	return revs, nil
}

// Relocate moves the whole chain of a path to another path, which must be free
func Relocate(txn *kv.Txn, from, to string) (model.Revision, error) {
	occupied, err := Exists(txn, to)
	if err != nil {
		return model.Revision{}, err
	}
	if occupied {
		return model.Revision{}, status.ErrExists.WrapMessage("path %q", to)
	}

	revs, err := History(txn, from)
	if err != nil {
		return model.Revision{}, err
	}
	if err = Drop(txn, from); err != nil {
		return model.Revision{}, err
	}
	for _, rev := range revs {
		if err = txn.Set(revKey(to, rev.Seq), rev); err != nil {
			return model.Revision{}, err
		}
	}
	head := revs[0]
	return head, txn.Set(headKey(to), head)
}

// Drop the whole chain of a path
func Drop(txn *kv.Txn, pth string) error {
	var keys [][]byte
	err := txn.Scan(revChainPrefix(pth), func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err = txn.Delete(key); err != nil {
			return err
		}
	}
	return txn.Delete(headKey(pth))
}

// Heads returns the current revision of every path
func Heads(txn *kv.Txn, fn func(pth string, head model.Revision) error) error {
	prefix := []byte(headPrefix)
	return txn.Scan(prefix, func(key, value []byte) error {
		var rev model.Revision
		if err := kv.Decode(value, &rev); err != nil {
			return err
		}
		return fn(string(key[len(prefix):]), rev)
	})
}
