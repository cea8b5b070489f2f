// Package kv wraps a badger key/value store with a JSON codec.
//
// All metadata of a volume (revision chains, change log) lives in a single
// badger DB, so that a mutation spanning several keys is committed in one transaction.
package kv

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/volsync/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultRetries    = 10
	defaultRetryDelay = 10 * time.Millisecond
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// ErrNotFound indicates that a key does not exist
	ErrNotFound = errors.New("key not found")

	// ErrCodec indicates that a value could not be encoded or decoded
	ErrCodec = errors.New("kv codec error")
)

// DB is a badger-backed metadata store
type DB struct {
	db         *badger.DB
	dir        string
	retries    uint64
	retryDelay time.Duration
	l          *zap.Logger
}

// Open a metadata store located at dir. An empty dir opens an in-memory store.
func Open(dir string, opts ...Option) (*DB, error) {
	d := &DB{
		dir:        dir,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		l:          zap.NewNop(),
	}
	for _, apply := range opts {
		apply(d)
	}

	var bopts badger.Options
	if dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	bopts = bopts.
		WithLogger(badgerLogger{d.l.Sugar()}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	d.db = db
	d.l.Debug("opened metadata store", zap.String("dir", dir), zap.Bool("inMemory", dir == ""))
	return d, nil
}

// Close the store.
//
// A store whose directory was removed while open cannot flush its last writes.
// The directory is then restored for the final flush and removed again.
func (d *DB) Close() error {
	if d.dir == "" {
		return d.db.Close()
	}

	restored, err := restoreDir(d.dir)
	if err != nil {
		return err
	}
	err = d.db.Close()
	if restored == "" {
		return err
	}

	if err != nil {
		d.l.Debug("closing a removed metadata store", zap.String("dir", d.dir), zap.Error(err))
	}
	d.l.Warn("metadata store was removed while open", zap.String("dir", d.dir))
	return os.RemoveAll(restored)
}

// restoreDir creates a missing directory and returns the topmost directory it had to create
func restoreDir(dir string) (string, error) {
	var top string
	for p := dir; ; p = filepath.Dir(p) {
		_, err := os.Stat(p)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		top = p
		if filepath.Dir(p) == p {
			break
		}
	}
	if top == "" {
		return "", nil
	}
	return top, os.MkdirAll(dir, 0700)
}

// Drop all keys in the store
func (d *DB) Drop() error {
	return d.db.DropAll()
}

// View runs a read-only transaction
func (d *DB) View(fn func(*Txn) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
}

// Update runs a read-write transaction.
//
// The transaction is retried when it conflicts with another one: fn may thus be called several times.
func (d *DB) Update(fn func(*Txn) error) error {
	return backoff.Retry(func() error {
		err := d.db.Update(func(txn *badger.Txn) error {
			return fn(&Txn{txn: txn})
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			d.l.Debug("transaction conflict, retrying")
			return err // retry
		}
		return backoff.Permanent(err)
	},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay), d.retries),
	)
}

// Txn is a transaction on the store
type Txn struct {
	txn *badger.Txn
}

// GetRaw returns the value stored at key
func (t *Txn) GetRaw(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound.WrapMessage("%q", key)
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Get decodes the value stored at key into target
func (t *Txn) Get(key []byte, target interface{}) error {
	val, err := t.GetRaw(key)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(val, target); err != nil {
		return ErrCodec.WrapMessage("decoding %q", key).Wrap(err)
	}
	return nil
}

// Has tells if a key exists
func (t *Txn) Has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetRaw stores a value at key
func (t *Txn) SetRaw(key, value []byte) error {
	return t.txn.Set(key, value)
}

// Set encodes value and stores it at key
func (t *Txn) Set(key []byte, value interface{}) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return ErrCodec.WrapMessage("encoding %q", key).Wrap(err)
	}
	return t.txn.Set(key, buf)
}

// Delete a key
func (t *Txn) Delete(key []byte) error {
	return t.txn.Delete(key)
}

// Scan iterates over all keys with some prefix, in key order.
//
// The key and value passed to fn are only valid during the call.
func (t *Txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return t.ScanFrom(prefix, prefix, fn)
}

// ScanFrom iterates over keys with some prefix, starting at the first key greater than or equal to start
func (t *Txn) ScanFrom(prefix, start []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		err := item.Value(func(val []byte) error {
			return fn(item.Key(), val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Decode a scanned value
func Decode(value []byte, target interface{}) error {
	if err := json.Unmarshal(value, target); err != nil {
		return ErrCodec.Wrap(err)
	}
	return nil
}
