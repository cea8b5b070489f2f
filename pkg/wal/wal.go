// Package wal provides the change log of a volume.
//
// The log keeps track of all changes to a volume, that is,
// which path changed, how and in which order. Every record is tagged
// with a K-sortable serverRevision token, which clients use as an opaque cursor.
package wal

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/kv"
	"github.com/oneconcern/volsync/pkg/model"
	walstatus "github.com/oneconcern/volsync/pkg/wal/status"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// WAL describes the change log of a volume.
//
// Appends must be serialized by the caller: the log relies on the volume write lock
// and on the transaction of the caller to be linearizable.
type WAL struct {
	clock func() time.Time // time source for tokens
	l     *zap.Logger      // Logging
}

// Option to the change log
type Option func(w *WAL)

// Logger sets a logger for this WAL
func Logger(logger *zap.Logger) Option {
	return func(w *WAL) {
		if logger != nil {
			w.l = logger
		}
	}
}

// Clock sets the time source used to generate tokens
func Clock(clock func() time.Time) Option {
	return func(w *WAL) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func defaultWAL() *WAL {
	return &WAL{
		clock: time.Now,
		l:     zap.NewNop(),
	}
}

// New builds a change log
func New(options ...Option) *WAL {
	wal := defaultWAL()
	for _, option := range options {
		option(wal)
	}
	return wal
}

// Current returns the latest serverRevision and its sequence number.
//
// An empty volume has an empty token and sequence 0.
func (w *WAL) Current(txn *kv.Txn) (string, uint64, error) {
	raw, err := txn.GetRaw([]byte(metaSeqKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", 0, nil
		}
		return "", 0, err
	}
	seq, ok := decodeSeq(raw)
	if !ok {
		return "", 0, walstatus.ErrCorruptLog.WrapMessage("invalid sequence")
	}
	token, err := txn.GetRaw([]byte(metaTokenKey))
	if err != nil {
		return "", 0, walstatus.ErrCorruptLog.Wrap(err)
	}
	return string(token), seq, nil
}

// Append a record to the log, assigning the next sequence and serverRevision.
//
// The record is persisted within the transaction of the caller.
func (w *WAL) Append(txn *kv.Txn, rec model.ChangeRecord) (model.ChangeRecord, error) {
	last, seq, err := w.Current(txn)
	if err != nil {
		return rec, err
	}
	seq++

	token, err := w.getToken(last, seq)
	if err != nil {
		return rec, walstatus.ErrTokenGenerate.WrapWithLog(w.l, err, zap.String("path", rec.Path))
	}

	rec.Seq = seq
	rec.ServerRevision = token
	if rec.Time.IsZero() {
		rec.Time = w.clock().UTC()
	}
	if rec.Action == model.ActionRemove {
		rec.Digest = ""
		rec.Size = 0
	}

	if err = txn.Set(logKey(seq), rec); err != nil {
		return rec, walstatus.ErrAddWALEntry.Wrap(err)
	}
	if err = txn.SetRaw(tokKey(token), encodeSeq(seq)); err != nil {
		return rec, walstatus.ErrAddWALEntry.Wrap(err)
	}
	if err = txn.SetRaw([]byte(metaSeqKey), encodeSeq(seq)); err != nil {
		return rec, walstatus.ErrAddWALEntry.Wrap(err)
	}
	if err = txn.SetRaw([]byte(metaTokenKey), []byte(token)); err != nil {
		return rec, walstatus.ErrAddWALEntry.Wrap(err)
	}

	w.l.Debug("appended change record",
		zap.String("token", token),
		zap.Uint64("seq", seq),
		zap.String("path", rec.Path),
		zap.String("action", string(rec.Action)),
	)
	return rec, nil
}

// Gets a token such that tokens are K-sortable and strictly increasing.
//
// The time part never goes backwards, even if the wall clock does.
// The payload starts with the big-endian sequence, which orders tokens issued within the same second.
func (w *WAL) getToken(last string, seq uint64) (string, error) {
	ts := w.clock()
	if last != "" {
		previous, err := ksuid.Parse(last)
		if err != nil {
			return "", walstatus.ErrCorruptLog.Wrap(err)
		}
		if previous.Time().After(ts) {
			ts = previous.Time()
		}
	}

	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[:8], seq)
	if _, err := rand.Read(payload[8:]); err != nil {
		return "", walstatus.ErrKSUID.Wrap(err)
	}

	k, err := ksuid.FromParts(ts, payload)
	if err != nil {
		return "", walstatus.ErrKSUID.Wrap(err)
	}
	return k.String(), nil
}

// Resolve the sequence number of a serverRevision.
//
// The empty token resolves to 0, the beginning of the log.
func (w *WAL) Resolve(txn *kv.Txn, token string) (uint64, error) {
	if token == "" {
		return 0, nil
	}
	if _, err := ksuid.Parse(token); err != nil {
		return 0, status.ErrBadRevision.WrapMessage("%q", token)
	}
	raw, err := txn.GetRaw(tokKey(token))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, status.ErrBadRevision.WrapMessage("%q", token)
		}
		return 0, err
	}
	seq, ok := decodeSeq(raw)
	if !ok {
		return 0, walstatus.ErrCorruptLog.WrapMessage("invalid sequence for token %q", token)
	}
	return seq, nil
}

// RecordsSince returns all records appended after some cursor, oldest first, along with the current serverRevision.
//
// All records are returned, including several records for the same path.
func (w *WAL) RecordsSince(txn *kv.Txn, cursor string) (string, []model.ChangeRecord, error) {
	from, err := w.Resolve(txn, cursor)
	if err != nil {
		return "", nil, err
	}
	current, _, err := w.Current(txn)
	if err != nil {
		return "", nil, err
	}

	records, err := w.scan(txn, from+1, func(model.ChangeRecord) bool { return true })
	if err != nil {
		return "", nil, err
	}
	return current, records, nil
}

// TreeAt replays the log up to some sequence (included), and returns the latest record of every path present at that point
func (w *WAL) TreeAt(txn *kv.Txn, seq uint64) (map[string]model.ChangeRecord, error) {
	tree := make(map[string]model.ChangeRecord)
	if seq == 0 {
		return tree, nil
	}

	_, err := w.scan(txn, 1, func(rec model.ChangeRecord) bool {
		if rec.Seq > seq {
			return false
		}
		switch rec.Action {
		case model.ActionRemove:
			delete(tree, rec.Path)
		default:
			tree[rec.Path] = rec
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

var errStopScan = errors.New("stop scan")

func (w *WAL) scan(txn *kv.Txn, from uint64, keep func(model.ChangeRecord) bool) ([]model.ChangeRecord, error) {
	var records []model.ChangeRecord
	err := txn.ScanFrom([]byte(logPrefix), logKey(from), func(_, value []byte) error {
		var rec model.ChangeRecord
		if err := kv.Decode(value, &rec); err != nil {
			return walstatus.ErrCorruptLog.Wrap(err)
		}
		if !keep(rec) {
			return errStopScan
		}
		records = append(records, rec)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return records, nil
}
