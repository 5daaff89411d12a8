// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shardstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/txplanner/shard"
	"github.com/lightningnetwork/lnd/tlv"
)

// recordVersion is stamped on every envelope this package writes. Decoding
// rejects envelopes stamped with a newer version.
const recordVersion uint8 = 1

const (
	typeRecordVersion   tlv.Type = 1
	typeRecordUpdatedAt tlv.Type = 2
	typeRecordShard     tlv.Type = 3
)

// Record pairs a stored shard with its envelope metadata.
type Record struct {
	// Shard is the decoded shard. Its anchor script is not part of the
	// stored record and must be re-derived from the account key.
	Shard *shard.UtxoShard

	// UpdatedAt is the time the record was last written, at second
	// precision.
	UpdatedAt time.Time
}

// serializeRecord encodes the shard wrapped in a tlv envelope.
func serializeRecord(us *shard.UtxoShard, updatedAt time.Time) ([]byte,
	error) {

	var payload bytes.Buffer
	payload.Grow(us.SerializeSize())
	if err := us.Serialize(&payload); err != nil {
		return nil, err
	}

	var (
		version       = recordVersion
		updatedAtUnix = uint64(updatedAt.Unix())
		payloadBytes  = payload.Bytes()
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecordVersion, &version),
		tlv.MakePrimitiveRecord(typeRecordUpdatedAt, &updatedAtUnix),
		tlv.MakePrimitiveRecord(typeRecordShard, &payloadBytes),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// deserializeRecord decodes an envelope produced by serializeRecord.
func deserializeRecord(value []byte) (*Record, error) {
	var (
		version       uint8
		updatedAtUnix uint64
		payload       []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecordVersion, &version),
		tlv.MakePrimitiveRecord(typeRecordUpdatedAt, &updatedAtUnix),
		tlv.MakePrimitiveRecord(typeRecordShard, &payload),
	)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(
		bytes.NewReader(value),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	if t, ok := parsedTypes[typeRecordVersion]; !ok || t != nil {
		return nil, fmt.Errorf("%w: missing version", ErrCorruptRecord)
	}
	if version > recordVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnknownVersion,
			version)
	}
	if t, ok := parsedTypes[typeRecordShard]; !ok || t != nil {
		return nil, fmt.Errorf("%w: missing shard payload",
			ErrCorruptRecord)
	}

	us, err := shard.DeserializeUtxoShard(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	record := &Record{Shard: us}
	if t, ok := parsedTypes[typeRecordUpdatedAt]; ok && t == nil {
		record.UpdatedAt = time.Unix(int64(updatedAtUnix), 0).UTC()
	}

	return record, nil
}
