package core

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oneconcern/volsync/pkg/cafs"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/metrics"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/oneconcern/volsync/pkg/revision"
	"github.com/oneconcern/volsync/pkg/wal"
	"go.uber.org/zap"
)

const maxConflictedCopies = 1000

// Volume is a handle on a synchronized volume
type Volume struct {
	name   string
	blobs  cafs.Fs
	meta   *kv.DB
	log    *wal.WAL
	mu     sync.Mutex // serializes all mutations
	snap   atomic.Pointer[snapshot]
	hashes *lru.Cache[listingKey, string]
	closed atomic.Bool

	hashCacheSize int
	clock         func() time.Time
	l             *zap.Logger
}

// snapshot of the heads of all paths, at some server revision
type snapshot struct {
	token string
	seq   uint64
	tree  *iradix.Tree // path -> model.Revision
}

type listingKey struct {
	token string
	path  string
}

// Open a volume on some blob store and metadata store.
//
// The volume takes ownership of the metadata store, which is closed with the volume.
func Open(name string, blobs cafs.Fs, meta *kv.DB, opts ...Option) (*Volume, error) {
	v := &Volume{
		name:          name,
		blobs:         blobs,
		meta:          meta,
		hashCacheSize: defaultHashCacheSize,
		clock:         time.Now,
		l:             zap.NewNop(),
	}
	for _, apply := range opts {
		apply(v)
	}
	v.l = v.l.With(zap.String("volume", name))
	v.log = wal.New(wal.Logger(v.l), wal.Clock(v.clock))

	var err error
	v.hashes, err = lru.New[listingKey, string](v.hashCacheSize)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{}
	err = meta.View(func(txn *kv.Txn) error {
		var e error
		snap.token, snap.seq, e = v.log.Current(txn)
		if e != nil {
			return e
		}
		tree := iradix.New().Txn()
		e = revision.Heads(txn, func(pth string, head model.Revision) error {
			tree.Insert([]byte(pth), head)
			return nil
		})
		snap.tree = tree.Commit()
		return e
	})
	if err != nil {
		return nil, err
	}
	v.snap.Store(snap)
	metrics.VolumeOpened()

	v.l.Info("volume opened",
		zap.String("serverRevision", snap.token),
		zap.Int("files", snap.tree.Len()),
	)
	return v, nil
}

// Name of the volume
func (v *Volume) Name() string {
	return v.name
}

func (v *Volume) String() string {
	return "volume:" + v.name
}

// ServerRevision returns the latest server revision of the volume
func (v *Volume) ServerRevision() string {
	return v.current().token
}

// Close the volume and release its metadata store
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed.Swap(true) {
		return nil
	}
	metrics.VolumeClosed()
	v.l.Info("volume closed")
	return v.meta.Close()
}

// checkOpen fails once the volume is closed: its snapshot is no longer backed by a metadata store
func (v *Volume) checkOpen() error {
	if v.closed.Load() {
		return status.ErrClosed.WrapMessage("%s", v.name)
	}
	return nil
}

func (v *Volume) current() *snapshot {
	return v.snap.Load()
}

// mutation carries the state of a mutation within a metadata transaction
type mutation struct {
	txn  *kv.Txn
	tree *iradix.Txn
	log  *wal.WAL
	last model.ChangeRecord
}

func (m *mutation) record(rec model.ChangeRecord) (model.ChangeRecord, error) {
	rec, err := m.log.Append(m.txn, rec)
	if err != nil {
		return rec, err
	}
	m.last = rec
	return rec, nil
}

func (m *mutation) set(pth string, head model.Revision) {
	m.tree.Insert([]byte(pth), head)
}

func (m *mutation) remove(pth string) {
	m.tree.Delete([]byte(pth))
}

// checkFree verifies that a path may be created as a file: it must not exist,
// nor be a directory, nor lie under an existing file.
func (m *mutation) checkFree(pth string) error {
	if _, found := m.tree.Get([]byte(pth)); found {
		return status.ErrExists.WrapMessage("path %q", pth)
	}
	return m.checkShape(pth)
}

// checkShape verifies that a file path does not conflict with the directory structure of the volume
func (m *mutation) checkShape(pth string) error {
	for dir := parentDir(pth); dir != ""; dir = parentDir(dir) {
		if _, found := m.tree.Get([]byte(dir)); found {
			return status.ErrExists.WrapMessage("parent %q of %q is a file", dir, pth)
		}
	}
	isDir := false
	m.tree.Root().WalkPrefix([]byte(pth+"/"), func([]byte, interface{}) bool {
		isDir = true
		return true
	})
	if isDir {
		return status.ErrExists.WrapMessage("path %q is a directory", pth)
	}
	return nil
}

// mutate runs a mutation under the volume lock, then publishes the resulting snapshot
func (v *Volume) mutate(fn func(*mutation) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkOpen(); err != nil {
		return err
	}

	snap := v.current()
	var m *mutation
	err := v.meta.Update(func(txn *kv.Txn) error {
		m = &mutation{
			txn:  txn,
			tree: snap.tree.Txn(),
			log:  v.log,
		}
		return fn(m)
	})
	if err != nil {
		return err
	}

	if m.last.ServerRevision == "" {
		// nothing was recorded
		return nil
	}
	v.snap.Store(&snapshot{
		token: m.last.ServerRevision,
		seq:   m.last.Seq,
		tree:  m.tree.Commit(),
	})
	return nil
}

func parentDir(pth string) string {
	idx := strings.LastIndexByte(pth, '/')
	if idx < 0 {
		return ""
	}
	return pth[:idx]
}

func headOf(raw interface{}) model.Revision {
	return raw.(model.Revision)
}

func (s *snapshot) head(pth string) (model.Revision, bool) {
	raw, found := s.tree.Get([]byte(pth))
	if !found {
		return model.Revision{}, false
	}
	return headOf(raw), true
}

// conflictedCopy finds the first free name for a conflicted copy of a path
func (m *mutation) conflictedCopy(pth string) (string, error) {
	for n := 1; n <= maxConflictedCopies; n++ {
		candidate := model.ConflictedCopyPath(pth, n)
		if err := m.checkFree(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", status.ErrConflict.WrapMessage("too many conflicted copies of %q", pth)
}
