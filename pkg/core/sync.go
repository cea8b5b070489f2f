package core

import (
	"context"
	"sort"
	"time"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/metrics"
	"github.com/oneconcern/volsync/pkg/model"
)

// IndexEntry is the state of a file as reported by a client
type IndexEntry struct {
	Path   string
	Digest string // empty when the client knows the file changed locally
	Mtime  int64
	Size   int64
}

// DiffRequest carries the full index of a client
type DiffRequest struct {
	Index            []IndexEntry
	LastSyncRevision string
}

// Change to apply on a client to converge with the server
type Change struct {
	Action   model.Action
	Path     string
	Conflict bool   // the client diverged from its last synced state
	Digest   string // the current digest on the server, empty for removals
	Size     int64
}

// DiffResult lists the changes found by a diff
type DiffResult struct {
	ServerRevision string
	Changes        []Change
}

// DeltaChange reports the net change of a path since a server revision
type DeltaChange struct {
	Status model.Status
	Path   string
	Digest string
	Size   int64
}

// DeltaResult lists the changes found by a delta
type DeltaResult struct {
	ServerRevision string
	Changes        []DeltaChange
}

// Diff compares the full index of a client with the current state of the volume.
//
// The tree at LastSyncRevision serves as the common ancestor: a file the client no longer
// holds and which did not change on the server since that revision is reported as removed.
// Additions and updates, sorted by path, come before removals, sorted by path.
func (v *Volume) Diff(_ context.Context, req DiffRequest) (res DiffResult, err error) {
	if err = v.checkOpen(); err != nil {
		return res, err
	}

	defer func(start time.Time) {
		metrics.Since(start, "diff", err)
	}(time.Now())

	index := make(map[string]IndexEntry, len(req.Index))
	for _, entry := range req.Index {
		pth, e := model.CleanFilePath(entry.Path)
		if e != nil {
			return res, status.ErrBadRequest.Wrap(e)
		}
		if _, dup := index[pth]; dup {
			return res, status.ErrBadRequest.WrapMessage("duplicate path %q in index", pth)
		}
		entry.Path = pth
		index[pth] = entry
	}

	snap := v.current()
	baseline, err := v.treeAt(req.LastSyncRevision)
	if err != nil {
		return res, err
	}

	var updates, removals []Change
	snap.tree.Root().Walk(func(k []byte, raw interface{}) bool {
		pth := string(k)
		head := headOf(raw)
		base, inBaseline := baseline[pth]
		client, inIndex := index[pth]

		switch {
		case inIndex:
			if client.Digest == "" || client.Digest != head.Digest {
				updates = append(updates, Change{
					Action:   model.ActionUpdate,
					Path:     pth,
					Conflict: diverged(client, base, inBaseline),
					Digest:   head.Digest,
					Size:     head.Size,
				})
			}
		case inBaseline && base.Digest == head.Digest:
			// unchanged on the server since the last sync: the client removed it
			removals = append(removals, Change{Action: model.ActionRemove, Path: pth})
		case inBaseline:
			updates = append(updates, Change{Action: model.ActionUpdate, Path: pth, Digest: head.Digest, Size: head.Size})
		default:
			updates = append(updates, Change{Action: model.ActionAdd, Path: pth, Digest: head.Digest, Size: head.Size})
		}
		return false
	})

	for pth, client := range index {
		if _, found := snap.tree.Get([]byte(pth)); found {
			continue
		}
		base, inBaseline := baseline[pth]
		removals = append(removals, Change{
			Action:   model.ActionRemove,
			Path:     pth,
			Conflict: diverged(client, base, inBaseline),
		})
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i].Path < removals[j].Path })

	res.ServerRevision = snap.token
	res.Changes = append(updates, removals...)
	return res, nil
}

// diverged tells if the client state differs from its last synced state
func diverged(client IndexEntry, base model.ChangeRecord, inBaseline bool) bool {
	return client.Digest == "" || !inBaseline || client.Digest != base.Digest
}

// Delta reports the net changes since some server revision, sorted by path.
//
// A path added then removed since that revision is not reported.
// An empty revision reports every file of the volume as added.
func (v *Volume) Delta(_ context.Context, clientRevision string) (res DeltaResult, err error) {
	if err = v.checkOpen(); err != nil {
		return res, err
	}

	defer func(start time.Time) {
		metrics.Since(start, "delta", err)
	}(time.Now())

	snap := v.current()
	res.ServerRevision = snap.token
	if clientRevision == snap.token {
		return res, nil
	}

	from, err := v.treeAt(clientRevision)
	if err != nil {
		return res, err
	}

	snap.tree.Root().Walk(func(k []byte, raw interface{}) bool {
		pth := string(k)
		head := headOf(raw)
		previous, existed := from[pth]
		switch {
		case !existed:
			res.Changes = append(res.Changes, DeltaChange{Status: model.StatusAdded, Path: pth, Digest: head.Digest, Size: head.Size})
		case previous.Digest != head.Digest:
			res.Changes = append(res.Changes, DeltaChange{Status: model.StatusUpdated, Path: pth, Digest: head.Digest, Size: head.Size})
		}
		return false
	})
	for pth := range from {
		if _, found := snap.tree.Get([]byte(pth)); !found {
			res.Changes = append(res.Changes, DeltaChange{Status: model.StatusRemoved, Path: pth})
		}
	}
	sort.SliceStable(res.Changes, func(i, j int) bool { return res.Changes[i].Path < res.Changes[j].Path })
	return res, nil
}

// treeAt reconstructs the tree at some server revision. The empty revision is the empty tree.
func (v *Volume) treeAt(token string) (map[string]model.ChangeRecord, error) {
	if token == "" {
		return map[string]model.ChangeRecord{}, nil
	}

	var tree map[string]model.ChangeRecord
	err := v.meta.View(func(txn *kv.Txn) error {
		seq, e := v.log.Resolve(txn, token)
		if e != nil {
			return e
		}
		tree, e = v.log.TreeAt(txn, seq)
		return e
	})
	return tree, err
}
