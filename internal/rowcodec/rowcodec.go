// Package rowcodec implements the dedup-PK row codec: a row encoder
// that omits primary-key columns from the stored value whenever a
// column's memory-comparable encoding already equals its value
// encoding, since such a column's value can be losslessly recovered
// from the row's key alone. Columns whose memory-comparable form
// diverges from their value form (for example floating point types,
// whose memcmp order does not match their natural value encoding)
// are kept in the value despite being part of the primary key.
package rowcodec

import (
	"encoding/binary"
	"fmt"
)

// ColumnDesc describes one column of a table for dedup-PK purposes.
type ColumnDesc struct {
	ID uint32
	// MemCmpEqValueEnc reports whether this column's memory-comparable
	// (key) encoding is byte-identical to its value encoding — true
	// for fixed-width integers, false for floats and other types whose
	// ordinal encoding diverges from their natural value form.
	MemCmpEqValueEnc bool
}

// Row is a fixed-width slice of column values, indexed the same way
// as the ColumnDesc slice describing the table.
type Row [][]byte

// Codec computes, once per table schema, which column indices must be
// carried in the stored value versus which are safely reconstructable
// from the primary key, and serializes/deserializes rows accordingly.
type Codec struct {
	columnDescs []ColumnDesc
	pkIndices   map[int]struct{}
	// dedupIndices holds every column index that is stored in the
	// value: columns not in the primary key, plus primary-key columns
	// whose memcmp encoding diverges from their value encoding.
	dedupIndices []int
}

// NewCodec builds a Codec for a table with the given column
// descriptors and primary-key column indices.
func NewCodec(columnDescs []ColumnDesc, pkIndices []int) *Codec {
	pk := make(map[int]struct{}, len(pkIndices))
	for _, i := range pkIndices {
		pk[i] = struct{}{}
	}
	var dedup []int
	for i, cd := range columnDescs {
		_, inPK := pk[i]
		if !inPK || !cd.MemCmpEqValueEnc {
			dedup = append(dedup, i)
		}
	}
	return &Codec{columnDescs: columnDescs, pkIndices: pk, dedupIndices: dedup}
}

// StoredColumnIDs returns the column ids actually present in a
// serialized value, in the order Serialize emits them.
func (c *Codec) StoredColumnIDs() []uint32 {
	ids := make([]uint32, len(c.dedupIndices))
	for i, idx := range c.dedupIndices {
		ids[i] = c.columnDescs[idx].ID
	}
	return ids
}

// filterDedup projects row down to only the columns Serialize stores.
func (c *Codec) filterDedup(row Row) Row {
	out := make(Row, len(c.dedupIndices))
	for i, idx := range c.dedupIndices {
		out[i] = row[idx]
	}
	return out
}

// Serialize encodes row after dropping every primary-key column whose
// value is fully recoverable from the key, writing a length-prefixed
// sequence of the remaining column values.
func (c *Codec) Serialize(row Row) ([]byte, error) {
	if len(row) != len(c.columnDescs) {
		return nil, fmt.Errorf("rowcodec: row has %d columns, schema has %d", len(row), len(c.columnDescs))
	}
	filtered := c.filterDedup(row)

	size := 0
	for _, col := range filtered {
		size += 4 + len(col)
	}
	buf := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, col := range filtered {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(col)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, col...)
	}
	return buf, nil
}

// decodeDedupValues parses stored's length-prefixed column sequence,
// returning one slice per dedupIndices entry, in that order.
func (c *Codec) decodeDedupValues(stored []byte) (Row, error) {
	out := make(Row, len(c.dedupIndices))
	off := 0
	for i, idx := range c.dedupIndices {
		if off+4 > len(stored) {
			return nil, fmt.Errorf("rowcodec: truncated stored value at column %d", idx)
		}
		n := int(binary.BigEndian.Uint32(stored[off : off+4]))
		off += 4
		if off+n > len(stored) {
			return nil, fmt.Errorf("rowcodec: truncated stored value at column %d", idx)
		}
		out[i] = stored[off : off+n]
		off += n
	}
	return out, nil
}

// Deserialize reconstructs a full-schema row from its stored value.
// Primary-key columns Serialize dropped (because their value is fully
// recoverable from the row's key) come back as a nil placeholder at
// their column index: reconstructing the actual value from the key is
// the caller's job, not this codec's, since the codec never sees the
// key here.
func (c *Codec) Deserialize(stored []byte) (Row, error) {
	values, err := c.decodeDedupValues(stored)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(c.columnDescs))
	for i, idx := range c.dedupIndices {
		row[idx] = values[i]
	}
	return row, nil
}

// DeserializeProjected decodes stored directly into the projected
// schema Serialize actually wrote (StoredColumnIDs order), without
// reconstructing the dropped primary-key columns at all.
func (c *Codec) DeserializeProjected(stored []byte) (Row, error) {
	return c.decodeDedupValues(stored)
}
