// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shard

import "errors"

var (
	// ErrShardsFull is returned when a new bitcoin UTXO cannot be placed
	// because every used shard is at its UTXO capacity.
	ErrShardsFull = errors.New("all shards are full of btc utxos")

	// ErrNoFreeRuneSlot is returned when a new rune-bearing UTXO cannot
	// be placed because every used shard already holds one.
	ErrNoFreeRuneSlot = errors.New("no shard has a free rune slot")

	// ErrTransferOutputMissing is returned when a rune transfer names an
	// output index the transaction does not have.
	ErrTransferOutputMissing = errors.New(
		"rune transfer output is not in the transaction",
	)

	// ErrRuneInputExceeded is returned when the rune transfers of a
	// transaction move more rune value than its inputs carried.
	ErrRuneInputExceeded = errors.New(
		"rune transfers exceed the rune inputs",
	)

	// ErrPointerOutputMissing is returned when leftover rune value needs
	// a destination but the transfer pointer is unset or names an output
	// the pool does not own.
	ErrPointerOutputMissing = errors.New(
		"no pointer output for leftover runes",
	)

	// ErrInputIndexOutOfRange is returned when a signed input index does
	// not exist in the transaction being applied.
	ErrInputIndexOutOfRange = errors.New("input index out of range")

	// ErrShardIndexOutOfRange is returned when a used-shard index does
	// not exist in the shard list.
	ErrShardIndexOutOfRange = errors.New("shard index out of range")

	// ErrCorruptShard describes a serialized shard that violates the
	// fixed record layout.
	ErrCorruptShard = errors.New("corrupt shard record")
)
