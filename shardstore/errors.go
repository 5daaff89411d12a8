// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shardstore

import "errors"

var (
	// ErrShardNotFound is returned when no record exists for the
	// requested pool and account.
	ErrShardNotFound = errors.New("shard not found")

	// ErrInvalidPoolID is returned when the pool identifier is empty.
	ErrInvalidPoolID = errors.New("pool id must not be empty")

	// ErrCorruptRecord is returned when a stored envelope cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt shard envelope")

	// ErrUnknownVersion is returned when a stored envelope was written
	// by a newer version of this package.
	ErrUnknownVersion = errors.New("unknown shard envelope version")
)
