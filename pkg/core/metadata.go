package core

import (
	"context"
	"sort"
	"strings"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/oneconcern/volsync/pkg/cafs"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/metrics"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/oneconcern/volsync/pkg/revision"
	"go.uber.org/zap"
)

// RevHead requests a listing of the current heads, as a fixed revision
const RevHead = "HEAD"

// ListingOptions select the state to list
type ListingOptions struct {
	// Rev is empty for the live state, "HEAD" or a server revision for a fixed state
	Rev string
	// Hash is the hash of a previously returned listing
	Hash string
}

// Listing of a file or directory
type Listing struct {
	Entries        model.Entries
	Hash           string // empty for a fixed revision
	ServerRevision string
}

// DirEntry is an immediate child of a directory
type DirEntry struct {
	Name  string
	Size  int64
	Mtime time.Time
	IsDir bool
}

// Stat returns the current revision of a file
func (v *Volume) Stat(_ context.Context, pth string) (model.Revision, error) {
	if err := v.checkOpen(); err != nil {
		return model.Revision{}, err
	}

	cleaned, err := model.CleanFilePath(pth)
	if err != nil {
		return model.Revision{}, status.ErrBadRequest.Wrap(err)
	}
	head, found := v.current().head(cleaned)
	if !found {
		return head, status.ErrNotFound.WrapMessage("path %q", cleaned)
	}
	return head, nil
}

// Read the current content of a file
func (v *Volume) Read(ctx context.Context, pth string) (data []byte, head model.Revision, err error) {
	defer func(start time.Time) {
		metrics.Since(start, "read", err)
	}(time.Now())

	head, err = v.Stat(ctx, pth)
	if err != nil {
		return nil, head, err
	}

	digest, err := cafs.ParseDigest(head.Digest)
	if err != nil {
		return nil, head, status.ErrIntegrity.Wrap(err)
	}
	data, err = v.blobs.Get(ctx, digest)
	if err != nil {
		if errors.Is(err, cafs.ErrIntegrity) {
			v.l.Error("revision references missing or corrupted content",
				zap.String("path", pth),
				zap.String("digest", head.Digest),
				zap.Error(err),
			)
			return nil, head, status.ErrIntegrity.Wrap(err)
		}
		return nil, head, err
	}
	return data, head, nil
}

// Revisions of a file, most recent first
func (v *Volume) Revisions(_ context.Context, pth string) ([]model.Revision, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	cleaned, err := model.CleanFilePath(pth)
	if err != nil {
		return nil, status.ErrBadRequest.Wrap(err)
	}

	var revs []model.Revision
	err = v.meta.View(func(txn *kv.Txn) error {
		var e error
		revs, e = revision.History(txn, cleaned)
		return e
	})
	return revs, err
}

// Listing of a file or directory.
//
// Listing the live state returns a hash of the listing: if the caller already holds this hash,
// status.ErrNotModified is returned instead. The hash of a file is its digest.
// A fixed revision lists entries without mtime, and without hash.
func (v *Volume) Listing(_ context.Context, pth string, opts ListingOptions) (Listing, error) {
	if err := v.checkOpen(); err != nil {
		return Listing{}, err
	}

	cleaned, err := model.CleanPath(pth)
	if err != nil {
		return Listing{}, status.ErrBadRequest.Wrap(err)
	}

	switch {
	case opts.Rev == "":
		snap := v.current()
		entries, isFile := entriesFromTree(snap.tree, cleaned, true)
		if len(entries) == 0 && cleaned != "" {
			return Listing{}, status.ErrNotFound.WrapMessage("path %q", cleaned)
		}

		var hash string
		if isFile {
			hash = entries[0].Digest
		} else {
			hash = v.listingHash(snap, cleaned, entries)
		}
		if opts.Hash != "" && opts.Hash == hash {
			return Listing{}, status.ErrNotModified.WrapMessage("path %q", cleaned)
		}
		return Listing{Entries: entries, Hash: hash, ServerRevision: snap.token}, nil

	case strings.EqualFold(opts.Rev, RevHead):
		snap := v.current()
		entries, _ := entriesFromTree(snap.tree, cleaned, false)
		if len(entries) == 0 && cleaned != "" {
			return Listing{}, status.ErrNotFound.WrapMessage("path %q", cleaned)
		}
		return Listing{Entries: entries, ServerRevision: snap.token}, nil

	default:
		entries, err := v.listingAt(cleaned, opts.Rev)
		if err != nil {
			return Listing{}, err
		}
		return Listing{Entries: entries, ServerRevision: opts.Rev}, nil
	}
}

func (v *Volume) listingAt(pth, token string) (model.Entries, error) {
	var entries model.Entries
	err := v.meta.View(func(txn *kv.Txn) error {
		seq, e := v.log.Resolve(txn, token)
		if e != nil {
			return e
		}
		tree, e := v.log.TreeAt(txn, seq)
		if e != nil {
			return e
		}

		if rec, isFile := tree[pth]; isFile && pth != "" {
			entries = model.Entries{{Path: pth, Digest: rec.Digest, Size: rec.Size}}
			return nil
		}
		for p, rec := range tree {
			if model.IsUnder(p, pth) {
				entries = append(entries, model.Entry{Path: p, Digest: rec.Digest, Size: rec.Size})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 && pth != "" {
		return nil, status.ErrNotFound.WrapMessage("path %q at %s", pth, token)
	}
	entries.Sort()
	return entries, nil
}

func (v *Volume) listingHash(snap *snapshot, pth string, entries model.Entries) string {
	key := listingKey{token: snap.token, path: pth}
	if hash, ok := v.hashes.Get(key); ok {
		return hash
	}
	hash := entries.Hash()
	v.hashes.Add(key, hash)
	return hash
}

// entriesFromTree collects the entries of a file or of all files under a directory, sorted by path
func entriesFromTree(tree *iradix.Tree, pth string, withMtime bool) (model.Entries, bool) {
	toEntry := func(p string, head model.Revision) model.Entry {
		e := model.Entry{Path: p, Digest: head.Digest, Size: head.Size}
		if withMtime {
			mtime := head.CreatedAt
			e.Mtime = &mtime
		}
		return e
	}

	if pth != "" {
		if raw, found := tree.Get([]byte(pth)); found {
			return model.Entries{toEntry(pth, headOf(raw))}, true
		}
	}

	prefix := ""
	if pth != "" {
		prefix = pth + "/"
	}
	var entries model.Entries
	tree.Root().WalkPrefix([]byte(prefix), func(k []byte, raw interface{}) bool {
		entries = append(entries, toEntry(string(k), headOf(raw)))
		return false
	})
	return entries, false
}

// ListDir returns the immediate children of a directory, sorted by name.
//
// Directories are implied by the paths of the files they contain.
func (v *Volume) ListDir(_ context.Context, pth string) ([]DirEntry, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	cleaned, err := model.CleanPath(pth)
	if err != nil {
		return nil, status.ErrBadRequest.Wrap(err)
	}

	snap := v.current()
	if _, isFile := snap.head(cleaned); isFile && cleaned != "" {
		return nil, status.ErrBadRequest.WrapMessage("%q is not a directory", cleaned)
	}

	prefix := ""
	if cleaned != "" {
		prefix = cleaned + "/"
	}
	children := make(map[string]*DirEntry)
	snap.tree.Root().WalkPrefix([]byte(prefix), func(k []byte, raw interface{}) bool {
		head := headOf(raw)
		rest := string(k[len(prefix):])
		name, _, nested := strings.Cut(rest, "/")

		child, known := children[name]
		if !known {
			child = &DirEntry{Name: name, IsDir: nested}
			children[name] = child
		}
		if !nested {
			child.Size = head.Size
		}
		if head.CreatedAt.After(child.Mtime) {
			child.Mtime = head.CreatedAt
		}
		return false
	})
	if len(children) == 0 && cleaned != "" {
		return nil, status.ErrNotFound.WrapMessage("directory %q", cleaned)
	}

	entries := make([]DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, *child)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
