package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestDB(t testing.TB) *DB {
	t.Helper()

	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSetGet(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.Set([]byte("rec:a"), record{Name: "a", Count: 1})
	}))

	var got record
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.Get([]byte("rec:a"), &got)
	}))
	assert.Equal(t, record{Name: "a", Count: 1}, got)

	err := db.View(func(txn *Txn) error {
		return txn.Get([]byte("rec:missing"), &got)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.View(func(txn *Txn) error {
		has, e := txn.Has([]byte("rec:a"))
		require.NoError(t, e)
		assert.True(t, has)

		has, e = txn.Has([]byte("rec:b"))
		require.NoError(t, e)
		assert.False(t, has)
		return nil
	}))
}

func TestDecodeError(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.SetRaw([]byte("garbage"), []byte("{not json"))
	}))

	err := db.View(func(txn *Txn) error {
		var r record
		return txn.Get([]byte("garbage"), &r)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCodec))
}

func TestScanAndDelete(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Update(func(txn *Txn) error {
		for i := 3; i > 0; i-- {
			if err := txn.Set([]byte(fmt.Sprintf("rec:%d", i)), record{Count: i}); err != nil {
				return err
			}
		}
		return txn.Set([]byte("other:1"), record{Count: 100})
	}))

	var counts []int
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.Scan([]byte("rec:"), func(_, value []byte) error {
			var r record
			if err := Decode(value, &r); err != nil {
				return err
			}
			counts = append(counts, r.Count)
			return nil
		})
	}))
	assert.Equal(t, []int{1, 2, 3}, counts, "keys are scanned in order, restricted to the prefix")

	counts = counts[:0]
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.ScanFrom([]byte("rec:"), []byte("rec:2"), func(_, value []byte) error {
			var r record
			if err := Decode(value, &r); err != nil {
				return err
			}
			counts = append(counts, r.Count)
			return nil
		})
	}))
	assert.Equal(t, []int{2, 3}, counts)

	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.Delete([]byte("rec:2"))
	}))

	var keys []string
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.Scan([]byte("rec:"), func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
	}))
	assert.Equal(t, []string{"rec:1", "rec:3"}, keys)
}

func TestUpdateRollback(t *testing.T) {
	db := openTestDB(t)
	boom := fmt.Errorf("boom")

	err := db.Update(func(txn *Txn) error {
		if e := txn.Set([]byte("k"), record{Name: "partial"}); e != nil {
			return e
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, db.View(func(txn *Txn) error {
		has, e := txn.Has([]byte("k"))
		require.NoError(t, e)
		assert.False(t, has, "a failed transaction must not leave partial writes")
		return nil
	}))
}

func TestConcurrentUpdates(t *testing.T) {
	db := openTestDB(t)
	key := []byte("counter")
	const workers = 8

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Update(func(txn *Txn) error {
				var r record
				if e := txn.Get(key, &r); e != nil && !errors.Is(e, ErrNotFound) {
					return e
				}
				r.Count++
				return txn.Set(key, r)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var r record
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.Get(key, &r)
	}))
	assert.Equal(t, workers, r.Count)
}

func TestDrop(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.Set([]byte("k"), record{})
	}))
	require.NoError(t, db.Drop())

	require.NoError(t, db.View(func(txn *Txn) error {
		has, e := txn.Has([]byte("k"))
		require.NoError(t, e)
		assert.False(t, has)
		return nil
	}))
}

func TestCloseOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "volume", "meta")
	db, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.Set([]byte("rec:a"), record{Name: "a", Count: 1})
	}))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	var got record
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.Get([]byte("rec:a"), &got)
	}))
	assert.Equal(t, 1, got.Count)
	require.NoError(t, db.Close())
}

func TestCloseRemovedDir(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "volume", "meta")
	db, err := Open(dir)
	require.NoError(t, err)

	// pending writes in the memtable must be flushed on close
	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.Set([]byte("rec:a"), record{Name: "a", Count: 1})
	}))
	require.NoError(t, os.RemoveAll(filepath.Join(parent, "volume")))

	done := make(chan error, 1)
	go func() {
		done <- db.Close()
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("closing a removed store should not block")
	}
	assert.NoDirExists(t, filepath.Join(parent, "volume"))
}
