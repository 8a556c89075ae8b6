package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/becomeliminal/nim-recall/core"
)

// The artifact is a 4-byte magic followed by a protobuf-encoded message:
//
//	message Snapshot {
//	  uint32 version = 1;
//	  uint32 dimensions = 2;
//	  repeated Entry entries = 3;        // slot order
//	  repeated Partition partitions = 4;
//	}
//	message Entry     { string owner_id = 1; repeated fixed32 vector = 2 [packed]; }
//	message Partition { string user_id = 1; repeated Record records = 2; }
//	message Record {
//	  string id = 1; uint64 slot = 2; string summary = 3;
//	  repeated string emotions = 4; string timestamp = 5; // RFC 3339, nanoseconds
//	}
//
// Vectors are stored once, in the entries; records refer to them by slot.
var magic = []byte("NMRC")

const formatVersion = 1

// ErrCorrupt is returned when an artifact cannot be decoded or is internally
// inconsistent.
var ErrCorrupt = errors.New("snapshot: corrupt artifact")

const (
	fieldVersion    protowire.Number = 1
	fieldDimensions protowire.Number = 2
	fieldEntries    protowire.Number = 3
	fieldPartitions protowire.Number = 4

	fieldEntryOwner  protowire.Number = 1
	fieldEntryVector protowire.Number = 2

	fieldPartitionUser    protowire.Number = 1
	fieldPartitionRecords protowire.Number = 2

	fieldRecordID        protowire.Number = 1
	fieldRecordSlot      protowire.Number = 2
	fieldRecordSummary   protowire.Number = 3
	fieldRecordEmotions  protowire.Number = 4
	fieldRecordTimestamp protowire.Number = 5
)

// Encode serializes snap.
func Encode(snap *core.Snapshot) ([]byte, error) {
	if err := validate(snap); err != nil {
		return nil, err
	}

	b := append([]byte{}, magic...)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, formatVersion)
	b = protowire.AppendTag(b, fieldDimensions, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.Dimensions))

	for _, e := range snap.Entries {
		b = protowire.AppendTag(b, fieldEntries, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEntry(e))
	}
	for _, p := range snap.Partitions {
		b = protowire.AppendTag(b, fieldPartitions, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePartition(p))
	}
	return b, nil
}

func encodeEntry(e core.IndexEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryOwner, protowire.BytesType)
	b = protowire.AppendString(b, e.OwnerID)

	packed := make([]byte, 0, 4*len(e.Vector))
	for _, v := range e.Vector {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldEntryVector, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}

func encodePartition(p core.Partition) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPartitionUser, protowire.BytesType)
	b = protowire.AppendString(b, p.UserID)
	for _, rec := range p.Records {
		b = protowire.AppendTag(b, fieldPartitionRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRecord(rec))
	}
	return b
}

func encodeRecord(rec core.Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRecordID, protowire.BytesType)
	b = protowire.AppendString(b, rec.ID)
	b = protowire.AppendTag(b, fieldRecordSlot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Slot))
	b = protowire.AppendTag(b, fieldRecordSummary, protowire.BytesType)
	b = protowire.AppendString(b, rec.Summary)
	for _, emotion := range rec.Emotions {
		b = protowire.AppendTag(b, fieldRecordEmotions, protowire.BytesType)
		b = protowire.AppendString(b, emotion)
	}
	b = protowire.AppendTag(b, fieldRecordTimestamp, protowire.BytesType)
	b = protowire.AppendString(b, rec.Timestamp.Format(time.RFC3339Nano))
	return b
}

// Decode parses an artifact produced by Encode and checks that every record
// refers to exactly one index entry of the same owner and vice versa.
func Decode(data []byte) (*core.Snapshot, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	data = data[len(magic):]

	snap := &core.Snapshot{}
	var version uint64
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			version = v
			return n, nil
		case num == fieldDimensions && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			snap.Dimensions = int(v)
			return n, nil
		case num == fieldEntries && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := decodeEntry(v)
			if err != nil {
				return 0, err
			}
			snap.Entries = append(snap.Entries, e)
			return n, nil
		case num == fieldPartitions && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePartition(v)
			if err != nil {
				return 0, err
			}
			snap.Partitions = append(snap.Partitions, p)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	if err := attachEmbeddings(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func decodeEntry(data []byte) (core.IndexEntry, error) {
	var e core.IndexEntry
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEntryOwner && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.OwnerID = v
			return n, nil
		case num == fieldEntryVector && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(v)%4 != 0 {
				return 0, fmt.Errorf("%w: vector of %d bytes", ErrCorrupt, len(v))
			}
			e.Vector = make(core.Embedding, 0, len(v)/4)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed32(v)
				if m < 0 {
					return m, nil
				}
				e.Vector = append(e.Vector, math.Float32frombits(bits))
				v = v[m:]
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return e, err
}

func decodePartition(data []byte) (core.Partition, error) {
	var p core.Partition
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldPartitionUser && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.UserID = v
			return n, nil
		case num == fieldPartitionRecords && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return 0, err
			}
			p.Records = append(p.Records, rec)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	for i := range p.Records {
		p.Records[i].UserID = p.UserID
	}
	return p, err
}

func decodeRecord(data []byte) (core.Record, error) {
	rec := core.Record{Emotions: []string{}}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldRecordID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			rec.ID = v
			return n, nil
		case num == fieldRecordSlot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			rec.Slot = int(v)
			return n, nil
		case num == fieldRecordSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			rec.Summary = v
			return n, nil
		case num == fieldRecordEmotions && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			rec.Emotions = append(rec.Emotions, v)
			return n, nil
		case num == fieldRecordTimestamp && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return 0, fmt.Errorf("%w: timestamp %q: %v", ErrCorrupt, v, err)
			}
			rec.Timestamp = ts
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return rec, err
}

// walk iterates the fields of one message. visit returns how many bytes of
// the field value it consumed, or a negative protowire error code.
func walk(data []byte, visit func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]

		m, err := visit(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

// attachEmbeddings fills each record's embedding from its index entry.
func attachEmbeddings(snap *core.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	for pi := range snap.Partitions {
		records := snap.Partitions[pi].Records
		for ri := range records {
			records[ri].Embedding = snap.Entries[records[ri].Slot].Vector.Clone()
		}
	}
	return nil
}

// validate checks that entries and records form a bijection with matching
// owners and that every vector has the declared size.
func validate(snap *core.Snapshot) error {
	for slot, e := range snap.Entries {
		if len(e.Vector) != snap.Dimensions {
			return fmt.Errorf("%w: slot %d has %d dimensions, want %d", ErrCorrupt, slot, len(e.Vector), snap.Dimensions)
		}
	}

	referenced := make([]bool, len(snap.Entries))
	for _, p := range snap.Partitions {
		for _, rec := range p.Records {
			if rec.Slot < 0 || rec.Slot >= len(snap.Entries) {
				return fmt.Errorf("%w: record %s references missing slot %d", ErrCorrupt, rec.ID, rec.Slot)
			}
			if referenced[rec.Slot] {
				return fmt.Errorf("%w: slot %d referenced twice", ErrCorrupt, rec.Slot)
			}
			if owner := snap.Entries[rec.Slot].OwnerID; owner != p.UserID {
				return fmt.Errorf("%w: slot %d owned by %q, found in partition %q", ErrCorrupt, rec.Slot, owner, p.UserID)
			}
			referenced[rec.Slot] = true
		}
	}
	for slot, ok := range referenced {
		if !ok {
			return fmt.Errorf("%w: slot %d has no record", ErrCorrupt, slot)
		}
	}
	return nil
}
