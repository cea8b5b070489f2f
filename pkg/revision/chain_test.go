package revision

import (
	"fmt"
	"testing"
	"time"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t testing.TB) *kv.DB {
	t.Helper()

	db, err := kv.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func testRevision(digest string) model.Revision {
	return model.Revision{
		Digest:    digest,
		Size:      int64(len(digest)),
		Author:    model.Contributor{Name: "tester", Email: "tester@example.com"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestAppendChain(t *testing.T) {
	db := openTestDB(t)
	const pth = "dir/file"

	parent := ""
	for i := 1; i <= 5; i++ {
		digest := fmt.Sprintf("digest-%d", i)
		require.NoError(t, db.Update(func(txn *kv.Txn) error {
			outcome, rev, err := Append(txn, pth, testRevision(digest), parent)
			require.NoError(t, err)
			if i == 1 {
				assert.Equal(t, Created, outcome)
			} else {
				assert.Equal(t, FastForward, outcome)
			}
			assert.Equal(t, parent, rev.Parent)
			assert.Equal(t, uint64(i), rev.Seq)
			return nil
		}))
		parent = digest
	}

	require.NoError(t, db.View(func(txn *kv.Txn) error {
		revs, err := History(txn, pth)
		require.NoError(t, err)
		require.Len(t, revs, 5)
		assert.Equal(t, "digest-5", revs[0].Digest, "history is most recent first")
		assert.Equal(t, "digest-1", revs[4].Digest)
		assert.Equal(t, "tester", revs[0].Author.Name)

		head, err := Head(txn, pth)
		require.NoError(t, err)
		assert.Equal(t, "digest-5", head.Digest)
		return nil
	}))
}

func TestAppendConflict(t *testing.T) {
	db := openTestDB(t)
	const pth = "newt"

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		_, _, err := Append(txn, pth, testRevision("v1"), "")
		return err
	}))
	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		_, _, err := Append(txn, pth, testRevision("v2"), "v1")
		return err
	}))

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		outcome, head, err := Append(txn, pth, testRevision("v3"), "v1")
		require.NoError(t, err)
		assert.Equal(t, Conflict, outcome)
		assert.Equal(t, "v2", head.Digest, "a conflict reports the current head")
		return nil
	}))

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		outcome, _, err := Append(txn, pth, testRevision("v3"), "")
		require.NoError(t, err)
		assert.Equal(t, Conflict, outcome, "an empty parent on an existing path is stale")
		return nil
	}))

	require.NoError(t, db.View(func(txn *kv.Txn) error {
		revs, err := History(txn, pth)
		require.NoError(t, err)
		assert.Len(t, revs, 2)
		return nil
	}))

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		rev, err := ForceAppend(txn, pth, testRevision("v3"))
		require.NoError(t, err)
		assert.Equal(t, "v2", rev.Parent)
		assert.Equal(t, uint64(3), rev.Seq)
		return nil
	}))
}

func TestHeadMissing(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.View(func(txn *kv.Txn) error {
		_, err := Head(txn, "nope")
		assert.True(t, errors.Is(err, status.ErrNotFound))

		_, err = History(txn, "nope")
		assert.True(t, errors.Is(err, status.ErrNotFound))

		ok, err := Exists(txn, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestRelocateAndDrop(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		for _, p := range []string{"a", "a/b", "other"} {
			if _, _, err := Append(txn, p, testRevision(p+"-1"), ""); err != nil {
				return err
			}
		}
		_, _, err := Append(txn, "a", testRevision("a-2"), "a-1")
		return err
	}))

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		_, err := Relocate(txn, "a", "other")
		assert.True(t, errors.Is(err, status.ErrExists))

		head, err := Relocate(txn, "a", "moved")
		require.NoError(t, err)
		assert.Equal(t, "a-2", head.Digest)
		return nil
	}))

	require.NoError(t, db.View(func(txn *kv.Txn) error {
		revs, err := History(txn, "moved")
		require.NoError(t, err)
		assert.Len(t, revs, 2, "history moves along with the path")

		_, err = Head(txn, "a")
		assert.True(t, errors.Is(err, status.ErrNotFound))

		head, err := Head(txn, "a/b")
		require.NoError(t, err, "a sibling path sharing a prefix is untouched")
		assert.Equal(t, "a/b-1", head.Digest)
		return nil
	}))

	require.NoError(t, db.Update(func(txn *kv.Txn) error {
		return Drop(txn, "moved")
	}))

	var paths []string
	require.NoError(t, db.View(func(txn *kv.Txn) error {
		return Heads(txn, func(pth string, _ model.Revision) error {
			paths = append(paths, pth)
			return nil
		})
	}))
	assert.Equal(t, []string{"a/b", "other"}, paths)
}
