// Package fullkey implements the full-key encoding and ordering used
// throughout the storage engine: a user key followed by a big-endian
// epoch trailer, compared user-key ascending then epoch descending.
//
// Unlike a RocksDB-style internal key, the value's tag (put/delete) is
// not packed into the key trailer — it travels with the Value instead.
// This keeps the trailer a plain uint64 and lets two versions of the
// same user key at two epochs compare by trailer alone.
package fullkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TrailerLen is the size in bytes of the big-endian epoch trailer
// appended to every user key to form a FullKey.
const TrailerLen = 8

// FullKey is the on-disk sort key: user_key || epoch_be_u64.
type FullKey []byte

// New encodes a user key and epoch into a FullKey.
func New(userKey []byte, epoch uint64) FullKey {
	buf := make([]byte, len(userKey)+TrailerLen)
	n := copy(buf, userKey)
	binary.BigEndian.PutUint64(buf[n:], epoch)
	return FullKey(buf)
}

// UserKey returns the user-key portion of the full key.
func (k FullKey) UserKey() []byte {
	if len(k) < TrailerLen {
		return nil
	}
	return k[:len(k)-TrailerLen]
}

// Epoch returns the epoch trailer of the full key.
func (k FullKey) Epoch() uint64 {
	if len(k) < TrailerLen {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-TrailerLen:])
}

// Valid reports whether k is long enough to carry a trailer.
func (k FullKey) Valid() bool {
	return len(k) >= TrailerLen
}

func (k FullKey) String() string {
	if !k.Valid() {
		return fmt.Sprintf("invalid(%x)", []byte(k))
	}
	return fmt.Sprintf("%x@%d", k.UserKey(), k.Epoch())
}

// Compare orders FullKeys by user key ascending, then epoch descending,
// so that for a fixed user key the most recent write sorts first.
func Compare(a, b FullKey) int {
	au, bu := a.UserKey(), b.UserKey()
	if c := bytes.Compare(au, bu); c != 0 {
		return c
	}
	ae, be := a.Epoch(), b.Epoch()
	switch {
	case ae > be:
		return -1
	case ae < be:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b under Compare.
func Less(a, b FullKey) bool {
	return Compare(a, b) < 0
}

// SameUserKey reports whether a and b share the same user key,
// ignoring their epoch trailers.
func SameUserKey(a, b FullKey) bool {
	return bytes.Equal(a.UserKey(), b.UserKey())
}

// ValueKind tags a Value as a put carrying a payload or a delete tombstone.
type ValueKind uint8

const (
	// KindPut marks a value carrying a live payload.
	KindPut ValueKind = iota
	// KindDelete marks a tombstone: the key is deleted as of this epoch.
	KindDelete
)

func (k ValueKind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Value is the tagged union stored alongside a FullKey: either a put
// with a payload, or a delete tombstone with none.
type Value struct {
	Kind    ValueKind
	Payload []byte
}

// Put constructs a put Value.
func Put(payload []byte) Value {
	return Value{Kind: KindPut, Payload: payload}
}

// Delete constructs a delete tombstone Value.
func Delete() Value {
	return Value{Kind: KindDelete}
}

// IsDelete reports whether v is a tombstone.
func (v Value) IsDelete() bool {
	return v.Kind == KindDelete
}

// Encode serializes v as a one-byte kind tag followed by the payload
// (empty for deletes).
func (v Value) Encode() []byte {
	buf := make([]byte, 1+len(v.Payload))
	buf[0] = byte(v.Kind)
	copy(buf[1:], v.Payload)
	return buf
}

// DecodeValue parses the wire form produced by Value.Encode.
func DecodeValue(raw []byte) (Value, error) {
	if len(raw) < 1 {
		return Value{}, fmt.Errorf("fullkey: empty value encoding")
	}
	kind := ValueKind(raw[0])
	switch kind {
	case KindPut:
		return Value{Kind: KindPut, Payload: raw[1:]}, nil
	case KindDelete:
		return Value{Kind: KindDelete}, nil
	default:
		return Value{}, fmt.Errorf("fullkey: unknown value kind %d", raw[0])
	}
}

// EncodedSize returns the size in bytes of v's wire encoding.
func (v Value) EncodedSize() int {
	return 1 + len(v.Payload)
}

// epochPhysicalShift is the number of low bits of an epoch reserved
// for an in-millisecond sequence counter; the remaining high bits are
// a physical Unix millisecond timestamp. This mirrors the engine's
// epoch allocator, which packs a monotonic per-millisecond counter
// into the low bits so that two writes in the same millisecond still
// get distinct, ascending epochs.
const epochPhysicalShift = 16

// EpochToUnixSeconds extracts the physical-time component of epoch
// and returns it as a Unix timestamp in seconds, for TTL comparisons
// against a task's current_epoch_time.
func EpochToUnixSeconds(epoch uint64) uint64 {
	return (epoch >> epochPhysicalShift) / 1000
}
