package core

import (
	"context"
	"time"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/metrics"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/oneconcern/volsync/pkg/revision"
	"go.uber.org/zap"
)

// AnyRevision matches the current revision of any file
const AnyRevision = "*"

// FileOpResult reports the outcome of a file operation
type FileOpResult struct {
	Path           string
	Digest         string
	Size           int64
	ServerRevision string
}

// checkRev verifies the revision claimed by the caller of a file operation
func checkRev(pth, rev string, head model.Revision) error {
	if rev == AnyRevision || rev == head.Digest {
		return nil
	}
	return status.ErrConflict.WrapMessage("path %q is at revision %s, not %s", pth, head.Digest, rev)
}

func cleanFileOp(from, to, rev string) (string, string, error) {
	if rev == "" {
		return "", "", status.ErrBadRequest.WrapMessage("a revision is required, use %q to match any", AnyRevision)
	}
	source, err := model.CleanFilePath(from)
	if err != nil {
		return "", "", status.ErrBadRequest.Wrap(err)
	}
	if to == "" {
		return source, "", nil
	}
	dest, err := model.CleanFilePath(to)
	if err != nil {
		return "", "", status.ErrBadRequest.Wrap(err)
	}
	if source == dest {
		return "", "", status.ErrBadRequest.WrapMessage("source and destination are the same: %q", source)
	}
	return source, dest, nil
}

func (m *mutation) source(pth, rev string) (model.Revision, error) {
	head, err := revision.Head(m.txn, pth)
	if err != nil {
		return head, err
	}
	return head, checkRev(pth, rev, head)
}

// Copy a file to a new path, with an independent history starting at the current content of the source
func (v *Volume) Copy(_ context.Context, from, to, rev string, author model.Contributor) (res FileOpResult, err error) {
	defer func(start time.Time) {
		metrics.Since(start, "copy", err)
	}(time.Now())

	source, dest, err := cleanFileOp(from, to, rev)
	if err != nil {
		return res, err
	}
	if dest == "" {
		return res, status.ErrBadRequest.WrapMessage("a destination is required")
	}

	err = v.mutate(func(m *mutation) error {
		head, e := m.source(source, rev)
		if e != nil {
			return e
		}
		if e = m.checkFree(dest); e != nil {
			return e
		}

		_, copied, e := revision.Append(m.txn, dest, model.Revision{
			Digest:    head.Digest,
			Size:      head.Size,
			Author:    author,
			CreatedAt: v.clock().UTC(),
		}, "")
		if e != nil {
			return e
		}
		rec, e := m.record(model.ChangeRecord{Path: dest, Action: model.ActionAdd, Digest: copied.Digest, Size: copied.Size, Time: copied.CreatedAt})
		if e != nil {
			return e
		}
		m.set(dest, copied)

		res = FileOpResult{Path: dest, Digest: copied.Digest, Size: copied.Size, ServerRevision: rec.ServerRevision}
		return nil
	})
	if err != nil {
		return FileOpResult{}, err
	}

	v.l.Debug("file copied", zap.String("from", source), zap.String("to", dest), zap.String("serverRevision", res.ServerRevision))
	return res, nil
}

// Move a file with its whole history to a new path
func (v *Volume) Move(_ context.Context, from, to, rev string) (res FileOpResult, err error) {
	defer func(start time.Time) {
		metrics.Since(start, "move", err)
	}(time.Now())

	source, dest, err := cleanFileOp(from, to, rev)
	if err != nil {
		return res, err
	}
	if dest == "" {
		return res, status.ErrBadRequest.WrapMessage("a destination is required")
	}

	err = v.mutate(func(m *mutation) error {
		if _, e := m.source(source, rev); e != nil {
			return e
		}
		if e := m.checkFree(dest); e != nil {
			return e
		}

		head, e := revision.Relocate(m.txn, source, dest)
		if e != nil {
			return e
		}
		now := v.clock().UTC()
		if _, e = m.record(model.ChangeRecord{Path: dest, Action: model.ActionAdd, Digest: head.Digest, Size: head.Size, Time: now}); e != nil {
			return e
		}
		rec, e := m.record(model.ChangeRecord{Path: source, Action: model.ActionRemove, Time: now})
		if e != nil {
			return e
		}
		m.remove(source)
		m.set(dest, head)

		res = FileOpResult{Path: dest, Digest: head.Digest, Size: head.Size, ServerRevision: rec.ServerRevision}
		return nil
	})
	if err != nil {
		return FileOpResult{}, err
	}

	v.l.Debug("file moved", zap.String("from", source), zap.String("to", dest), zap.String("serverRevision", res.ServerRevision))
	return res, nil
}

// Delete a file and its history.
//
// The content remains in the blob store.
func (v *Volume) Delete(_ context.Context, pth, rev string) (res FileOpResult, err error) {
	defer func(start time.Time) {
		metrics.Since(start, "delete", err)
	}(time.Now())

	target, _, err := cleanFileOp(pth, "", rev)
	if err != nil {
		return res, err
	}

	err = v.mutate(func(m *mutation) error {
		head, e := m.source(target, rev)
		if e != nil {
			return e
		}
		if e = revision.Drop(m.txn, target); e != nil {
			return e
		}
		rec, e := m.record(model.ChangeRecord{Path: target, Action: model.ActionRemove, Time: v.clock().UTC()})
		if e != nil {
			return e
		}
		m.remove(target)

		res = FileOpResult{Path: target, Digest: head.Digest, Size: head.Size, ServerRevision: rec.ServerRevision}
		return nil
	})
	if err != nil {
		return FileOpResult{}, err
	}

	v.l.Debug("file deleted", zap.String("path", target), zap.String("serverRevision", res.ServerRevision))
	return res, nil
}
