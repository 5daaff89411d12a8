// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package planner assembles fee-correct unsigned Bitcoin transactions from
// pool-owned UTXOs. A Builder collects inputs, outputs and the accounts the
// transaction rewrites, adjusts itself to meet a target fee rate with
// mempool-package awareness, and finalizes into an immutable Plan handed to
// an external signer.
package planner

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/mempool"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/utxo"
)

const (
	// DustLimit is the value of state anchor outputs. It matches the
	// network dust floor for segwit outputs, the smallest value an
	// anchor can carry and still relay.
	DustLimit = btcutil.Amount(546)

	// DefaultMaxInputsToSign bounds the set of inputs handed to the
	// external signer.
	DefaultMaxInputsToSign = 32

	// DefaultMaxModifiedAccounts bounds the set of accounts a single
	// transaction may rewrite.
	DefaultMaxModifiedAccounts = 16
)

// DefaultMaxTxWeight caps the assembled transaction at the standardness
// weight limit nodes apply to relayed transactions.
var DefaultMaxTxWeight = btcunit.NewWeightUnit(400_000)

// Account is anything whose persisted state the planned transaction
// rewrites, identified by its public key.
type Account interface {
	// AccountKey returns the public key identifying the account.
	AccountKey() *btcec.PublicKey
}

// StateAccount is an Account whose on-chain state sits behind an anchor
// output. Every state transition spends the current anchor and recreates it
// at the same value, so the anchor always points at the latest state.
type StateAccount interface {
	Account

	// AnchorOutPoint returns the outpoint of the current anchor output.
	AnchorOutPoint() wire.OutPoint

	// AnchorScript returns the script the anchor output pays to.
	AnchorScript() []byte
}

// InputToSign references a transaction input awaiting an external
// signature.
type InputToSign struct {
	// InputIndex is the index of the input within the transaction.
	InputIndex uint32

	// Signer is the public key whose signature the input needs.
	Signer *btcec.PublicKey
}

// Config bounds a Builder. The zero value of each field selects its
// default.
type Config struct {
	// MaxInputsToSign caps the signer-input set.
	MaxInputsToSign int

	// MaxModifiedAccounts caps the modified-accounts set.
	MaxModifiedAccounts int

	// DustRelayFee is the relay fee rate the dust threshold is derived
	// from.
	DustRelayFee btcutil.Amount

	// MaxTxWeight caps the estimated weight of the assembled
	// transaction.
	MaxTxWeight btcunit.WeightUnit
}

// normalize fills in defaults for unset fields.
func (cfg Config) normalize() Config {
	if cfg.MaxInputsToSign <= 0 {
		cfg.MaxInputsToSign = DefaultMaxInputsToSign
	}
	if cfg.MaxModifiedAccounts <= 0 {
		cfg.MaxModifiedAccounts = DefaultMaxModifiedAccounts
	}
	if cfg.DustRelayFee <= 0 {
		cfg.DustRelayFee = txrules.DefaultRelayFeePerKb
	}
	if cfg.MaxTxWeight.IsZero() {
		cfg.MaxTxWeight = DefaultMaxTxWeight
	}

	return cfg
}

// Builder accumulates a transaction under construction. It is not safe for
// concurrent use; a Builder belongs to a single planning call.
type Builder struct {
	cfg Config

	tx *wire.MsgTx

	// inputs mirrors tx.TxIn, keeping the pool's view of each input for
	// size estimation, fee accounting and PSBT export.
	inputs []utxo.Info

	inputsToSign *fixed.List[InputToSign]
	modified     *fixed.List[Account]

	totalBtcInput btcutil.Amount

	// runeInputs aggregates the rune value entering through the inputs.
	// Distinct rune IDs are bounded by the signer-input capacity.
	runeInputs *runeset.Bounded

	// ancestors aggregates the unconfirmed ancestor packages of the
	// inputs, counted once per distinct parent transaction.
	ancestors mempool.Info

	// changeIndex is the output index of the change output, or -1 when
	// the transaction has none.
	changeIndex int

	consolidations int

	finalized bool
}

// NewBuilder returns an empty Builder for a version 2 transaction.
func NewBuilder(cfg Config) *Builder {
	cfg = cfg.normalize()

	return &Builder{
		cfg: cfg,
		tx:  wire.NewMsgTx(2),
		inputsToSign: fixed.NewList[InputToSign](
			cfg.MaxInputsToSign,
		),
		modified: fixed.NewList[Account](
			cfg.MaxModifiedAccounts,
		),
		runeInputs:  runeset.NewBounded(cfg.MaxInputsToSign),
		changeIndex: -1,
	}
}

// Tx returns the transaction under construction. Callers must treat it as
// read-only; all mutation goes through the Builder.
func (b *Builder) Tx() *wire.MsgTx {
	return b.tx
}

// TotalBtcInput returns the summed value of all inputs added so far.
func (b *Builder) TotalBtcInput() btcutil.Amount {
	return b.totalBtcInput
}

// AncestorTotals returns the aggregated vsize and fee of the unconfirmed
// ancestor packages attached to the current inputs.
func (b *Builder) AncestorTotals() (btcunit.VByte, btcutil.Amount) {
	return b.ancestors.VSize, b.ancestors.Fee
}

// hasInput reports whether an input spending op is already present.
func (b *Builder) hasInput(op wire.OutPoint) bool {
	for i := range b.inputs {
		if b.inputs[i].OutPoint == op {
			return true
		}
	}

	return false
}

// hasParentTx reports whether any current input already spends an output of
// txid. Ancestor packages are aggregated once per distinct parent, so a
// second input from the same pending transaction adds nothing.
func (b *Builder) hasParentTx(txid chainhash.Hash) bool {
	for i := range b.inputs {
		if b.inputs[i].OutPoint.Hash == txid {
			return true
		}
	}

	return false
}
