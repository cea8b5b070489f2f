package cafs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/klauspost/compress/zstd"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/metrics"
	"github.com/oneconcern/volsync/pkg/storage"
	storagestatus "github.com/oneconcern/volsync/pkg/storage/status"
	"go.uber.org/zap"
)

const (
	encodingRaw  byte = 0
	encodingZstd byte = 1

	// DefaultCompressionThreshold is the minimum size of a blob for compression to be attempted
	DefaultCompressionThreshold = 512
)

var (
	// ErrIntegrity is returned when a digest is referenced but the content is missing or corrupted.
	//
	// This is not a routine condition: it indicates a corrupted volume.
	ErrIntegrity = errors.New("content integrity error")
)

// PutRes holds the result from a Put operation
type PutRes struct {
	Digest  Digest // the digest of the written content
	Size    int64  // size of the raw content
	Written int64  // bytes actually written to the backend (0 when found)
	Found   bool   // the content was already stored
}

// Fs implementations provide content-addressable storage operations
type Fs interface {
	Put(context.Context, []byte) (PutRes, error)
	Get(context.Context, Digest) ([]byte, error)
	Has(context.Context, Digest) (bool, error)
	Delete(context.Context, Digest) error
}

var _ Fs = &defaultFs{}

type defaultFs struct {
	backend   storage.Store
	prefix    string
	compress  bool
	threshold int
	l         *zap.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a new instance of a content-addressable store
func New(backend storage.Store, opts ...Option) (Fs, error) {
	if backend == nil {
		return nil, fmt.Errorf("a backend store is required")
	}
	f := &defaultFs{
		backend:   backend,
		threshold: DefaultCompressionThreshold,
		l:         zap.NewNop(),
	}
	for _, apply := range opts {
		apply(f)
	}

	var err error
	if f.compress {
		f.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
	}
	// a decoder is always available: the store may hold compressed blobs from an earlier configuration
	f.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// Put some content. The content is durable when Put returns without error.
func (f *defaultFs) Put(ctx context.Context, data []byte) (PutRes, error) {
	digest := Sum(data)
	res := PutRes{Digest: digest, Size: int64(len(data))}

	found, err := f.Has(ctx, digest)
	if err != nil {
		return res, err
	}
	if found {
		res.Found = true
		metrics.BlobDuplicate()
		f.l.Debug("blob already stored", zap.Stringer("digest", digest))
		return res, nil
	}

	payload := f.encode(data)
	err = f.backend.Put(ctx, digest.pathFor(f.prefix), bytes.NewReader(payload), storage.NoOverWrite)
	if err != nil && !errors.Is(err, storagestatus.ErrExists) {
		return res, fmt.Errorf("storing blob %v: %w", digest, err)
	}

	res.Written = int64(len(payload))
	metrics.BlobWritten(res.Written)
	f.l.Debug("blob stored",
		zap.Stringer("digest", digest),
		zap.String("size", units.HumanSize(float64(res.Size))),
		zap.Int64("written", res.Written),
	)
	return res, nil
}

// Get the content for some digest. The content is verified against its digest.
func (f *defaultFs) Get(ctx context.Context, digest Digest) ([]byte, error) {
	rdr, err := f.backend.Get(ctx, digest.pathFor(f.prefix))
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotExists) {
			return nil, ErrIntegrity.WrapMessage("missing blob %v", digest).Wrap(err)
		}
		return nil, err
	}
	defer rdr.Close()

	payload, err := io.ReadAll(rdr)
	if err != nil {
		return nil, fmt.Errorf("reading blob %v: %w", digest, err)
	}

	data, err := f.decode(payload)
	if err != nil {
		return nil, ErrIntegrity.WrapMessage("undecodable blob %v", digest).Wrap(err)
	}

	if Sum(data) != digest {
		return nil, ErrIntegrity.WrapMessage("blob %v does not match its digest", digest)
	}
	return data, nil
}

func (f *defaultFs) Has(ctx context.Context, digest Digest) (bool, error) {
	return f.backend.Has(ctx, digest.pathFor(f.prefix))
}

// Delete some blob. Callers must ensure that no revision references this digest any longer.
func (f *defaultFs) Delete(ctx context.Context, digest Digest) error {
	return f.backend.Delete(ctx, digest.pathFor(f.prefix))
}

func (f *defaultFs) encode(data []byte) []byte {
	if f.encoder != nil && len(data) >= f.threshold {
		compressed := f.encoder.EncodeAll(data, make([]byte, 1, len(data)/2+1))
		compressed[0] = encodingZstd
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, encodingRaw)
	return append(payload, data...)
}

func (f *defaultFs) decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty blob payload")
	}
	switch payload[0] {
	case encodingRaw:
		return payload[1:], nil
	case encodingZstd:
		return f.decoder.DecodeAll(payload[1:], nil)
	default:
		return nil, fmt.Errorf("unknown blob encoding tag %d", payload[0])
	}
}
