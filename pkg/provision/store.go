package provision

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oneconcern/volsync/pkg/cafs"
	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/storage/localfs"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	blobsDir = "blobs"
	metaDir  = "meta"
)

// OpenFunc opens the handle of a volume, given its root directory
type OpenFunc func(ctx context.Context, name, root string) (*core.Volume, error)

// DiskStore opens volumes with content and metadata persisted under their root directory
func DiskStore(l *zap.Logger, compress bool, opts ...core.Option) OpenFunc {
	return func(_ context.Context, name, root string) (*core.Volume, error) {
		// the store would otherwise recreate the directory of a destroyed volume
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				return nil, status.ErrNotFound.WrapMessage("volume %q has no root directory", name)
			}
			return nil, err
		}
		return open(name,
			afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(root, blobsDir)),
			filepath.Join(root, metaDir),
			l, compress, opts...)
	}
}

// MemoryStore opens volumes held in memory, which are lost when closed
func MemoryStore(l *zap.Logger, opts ...core.Option) OpenFunc {
	return func(_ context.Context, name, _ string) (*core.Volume, error) {
		return open(name, afero.NewMemMapFs(), "", l, false, opts...)
	}
}

func open(name string, fs afero.Fs, metaPath string, l *zap.Logger, compress bool, opts ...core.Option) (*core.Volume, error) {
	if l == nil {
		l = zap.NewNop()
	}
	backend, err := localfs.NewAtomic(fs)
	if err != nil {
		return nil, err
	}
	blobs, err := cafs.New(backend, cafs.Compress(compress), cafs.Logger(l))
	if err != nil {
		return nil, err
	}
	meta, err := kv.Open(metaPath, kv.Logger(l))
	if err != nil {
		return nil, err
	}
	vol, err := core.Open(name, blobs, meta, append([]core.Option{core.Logger(l)}, opts...)...)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	return vol, nil
}
