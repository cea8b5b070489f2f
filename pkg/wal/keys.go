package wal

import (
	"encoding/binary"
)

const (
	logPrefix = "log:"
	tokPrefix = "tok:"

	metaSeqKey   = "meta:seq"
	metaTokenKey = "meta:token"
)

func logKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(logPrefix), seq)
}

func tokKey(token string) []byte {
	return []byte(tokPrefix + token)
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
