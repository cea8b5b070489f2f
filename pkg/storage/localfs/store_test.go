// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/storage"
	"github.com/oneconcern/volsync/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHas(t *testing.T) {
	bs := setupStore(t)

	has, err := bs.Has(context.Background(), "sixteentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "seventeentons")
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Has(context.Background(), "fifteentons")
	require.NoError(t, err)
	require.False(t, has)
}

func TestGet(t *testing.T) {
	bs := setupStore(t)

	rdr, err := bs.Get(context.Background(), "sixteentons")
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "this is the text", string(b))

	_, err = bs.Get(context.Background(), "fifteentons")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestKeys(t *testing.T) {
	bs := setupStore(t)

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestDelete(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Delete(context.Background(), "seventeentons"))
	require.NoError(t, bs.Delete(context.Background(), "seventeentons"), "deleting twice is not an error")
	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 1)
}

func TestClear(t *testing.T) {
	bs := setupStore(t)

	require.NoError(t, bs.Clear(context.Background()))
	k, _ := bs.Keys(context.Background())
	require.Empty(t, k)
}

func TestPut(t *testing.T) {
	bs := setupStore(t)

	content := bytes.NewBufferString("here we go once again")
	err := bs.Put(context.Background(), "eighteentons", content, storage.NoOverWrite)
	require.NoError(t, err)

	rdr, err := bs.Get(context.Background(), "eighteentons")
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "here we go once again", string(b))

	err = bs.Put(context.Background(), "eighteentons", bytes.NewBufferString("again"), storage.NoOverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrExists))

	require.NoError(t, bs.Put(context.Background(), "eighteentons", bytes.NewBufferString("again"), storage.OverWrite))
	rdr, err = bs.Get(context.Background(), "eighteentons")
	require.NoError(t, err)
	b, err = io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "again", string(b))

	k, _ := bs.Keys(context.Background())
	assert.Len(t, k, 3)
}

func TestAtomicPut(t *testing.T) {
	fs := afero.NewMemMapFs()
	bs, err := NewAtomic(fs)
	require.NoError(t, err)
	assert.Contains(t, bs.String(), "localfs-atomic")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, bs.Put(context.Background(), "ab/cdef", bytes.NewBufferString("same content"), storage.OverWrite))
		}()
	}
	wg.Wait()

	keys, err := bs.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ab/cdef"}, keys, "staging area is never listed")

	staged, err := afero.ReadDir(fs, nestedPutStageName)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging files are renamed into place")

	_, err = bs.Get(context.Background(), nestedPutStageName+"/whatever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))

	require.NoError(t, bs.Clear(context.Background()))
	require.NoError(t, bs.Put(context.Background(), "after/clear", bytes.NewBufferString("x"), storage.NoOverWrite))
}

func setupStore(t testing.TB) storage.Store {
	t.Helper()

	fs := afero.NewMemMapFs()
	fakeFile(t, fs, "sixteentons", "this is the text")
	fakeFile(t, fs, "seventeentons", "this is the text for another thing")

	return New(fs)
}

func fakeFile(t testing.TB, fs afero.Fs, file, content string) {
	t.Helper()

	f, err := fs.Create(file)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
