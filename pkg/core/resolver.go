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

// WriteRequest describes the new content of a file
type WriteRequest struct {
	Path      string
	Data      []byte
	ParentRev string // the digest the writer based its content on, empty for a new file
	Overwrite bool   // apply the write even when ParentRev is stale
	Author    model.Contributor
}

// WriteResult tells where and how some content was written
type WriteResult struct {
	Path           string // the requested path, or the conflicted copy
	Digest         string
	Size           int64
	ServerRevision string
	Outcome        revision.Outcome
	FastForward    bool
}

// Write some content to a file.
//
// A write never fails on a stale parent: unless Overwrite is set, the content is
// stored as a conflicted copy next to the original path, which remains untouched.
func (v *Volume) Write(ctx context.Context, req WriteRequest) (res WriteResult, err error) {
	if err = v.checkOpen(); err != nil {
		return res, err
	}

	defer func(start time.Time) {
		metrics.Since(start, "write", err)
	}(time.Now())

	pth, err := model.CleanFilePath(req.Path)
	if err != nil {
		return res, status.ErrBadRequest.Wrap(err)
	}

	// content is durable before the change log references it
	put, err := v.blobs.Put(ctx, req.Data)
	if err != nil {
		return res, err
	}

	rev := model.Revision{
		Digest:    put.Digest.String(),
		Size:      put.Size,
		Author:    req.Author,
		CreatedAt: v.clock().UTC(),
	}

	err = v.mutate(func(m *mutation) error {
		if e := m.checkShape(pth); e != nil {
			return e
		}

		target := pth
		outcome, head, e := v.appendRevision(m, pth, rev, req)
		if e != nil {
			return e
		}

		if outcome == revision.Conflict {
			target, e = m.conflictedCopy(pth)
			if e != nil {
				return e
			}
			outcome, head, e = revision.Append(m.txn, target, rev, "")
			if e != nil {
				return e
			}
			v.l.Info("stale write stored as a conflicted copy",
				zap.String("path", pth),
				zap.String("copy", target),
				zap.String("parentRev", req.ParentRev),
			)
		}

		action := model.ActionUpdate
		if outcome == revision.Created {
			action = model.ActionAdd
		}
		rec, e := m.record(model.ChangeRecord{
			Path:   target,
			Action: action,
			Digest: head.Digest,
			Size:   head.Size,
			Time:   head.CreatedAt,
		})
		if e != nil {
			return e
		}
		m.set(target, head)

		res = WriteResult{
			Path:           target,
			Digest:         head.Digest,
			Size:           head.Size,
			ServerRevision: rec.ServerRevision,
			Outcome:        outcome,
			FastForward:    outcome == revision.FastForward,
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	metrics.WriteOutcome(res.metricLabel(pth, req.Overwrite))
	v.l.Debug("file written",
		zap.String("path", res.Path),
		zap.String("digest", res.Digest),
		zap.Stringer("outcome", res.Outcome),
		zap.String("serverRevision", res.ServerRevision),
	)
	return res, nil
}

// metricLabel names the outcome of a write: conflicted copies and overwrites are told apart
// from plain creations and fast-forwards
func (r WriteResult) metricLabel(requested string, overwrite bool) string {
	switch {
	case r.Path != requested:
		return "conflicted"
	case overwrite && r.Outcome == revision.FastForward:
		return "overwrite"
	default:
		return r.Outcome.String()
	}
}

func (v *Volume) appendRevision(m *mutation, pth string, rev model.Revision, req WriteRequest) (revision.Outcome, model.Revision, error) {
	if !req.Overwrite {
		return revision.Append(m.txn, pth, rev, req.ParentRev)
	}

	existed, err := revision.Exists(m.txn, pth)
	if err != nil {
		return revision.Conflict, rev, err
	}
	head, err := revision.ForceAppend(m.txn, pth, rev)
	if err != nil {
		return revision.Conflict, rev, err
	}
	if existed {
		return revision.FastForward, head, nil
	}
	return revision.Created, head, nil
}
