// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/txplanner/pkg/btcunit"
)

// sizeExtra describes hypothetical additions to the transaction for
// what-if size estimates: extra inputs by script class, extra outputs, and
// a prospective change output identified by its script size.
type sizeExtra struct {
	p2pkhInputs        int
	p2trInputs         int
	p2wpkhInputs       int
	nestedP2WPKHInputs int

	outputs          []*wire.TxOut
	changeScriptSize int
}

// sizeExtraForScript returns the extra of a single additional input paying
// to pkScript.
func sizeExtraForScript(pkScript []byte) sizeExtra {
	var extra sizeExtra
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		extra.p2pkhInputs = 1
	case txscript.WitnessV0PubKeyHashTy:
		extra.p2wpkhInputs = 1
	case txscript.ScriptHashTy:
		extra.nestedP2WPKHInputs = 1
	default:
		// The pool's own outputs are taproot key spends, so inputs
		// without a known script class estimate as such.
		extra.p2trInputs = 1
	}

	return extra
}

// EstimateVirtualSize returns the worst-case virtual size of the
// transaction once all inputs carry signatures. The estimate is recomputed
// from the current inputs and outputs on every call.
func (b *Builder) EstimateVirtualSize() btcunit.VByte {
	return b.estimateVirtualSize(sizeExtra{})
}

// estimateVirtualSize sizes the transaction plus the hypothetical extra.
func (b *Builder) estimateVirtualSize(extra sizeExtra) btcunit.VByte {
	for i := range b.inputs {
		in := sizeExtraForScript(b.inputs[i].PkScript)
		extra.p2pkhInputs += in.p2pkhInputs
		extra.p2trInputs += in.p2trInputs
		extra.p2wpkhInputs += in.p2wpkhInputs
		extra.nestedP2WPKHInputs += in.nestedP2WPKHInputs
	}

	outputs := b.tx.TxOut
	if len(extra.outputs) > 0 {
		outputs = make(
			[]*wire.TxOut, 0, len(b.tx.TxOut)+len(extra.outputs),
		)
		outputs = append(outputs, b.tx.TxOut...)
		outputs = append(outputs, extra.outputs...)
	}

	vsize := txsizes.EstimateVirtualSize(
		extra.p2pkhInputs, extra.p2trInputs, extra.p2wpkhInputs,
		extra.nestedP2WPKHInputs, outputs, extra.changeScriptSize,
	)

	return btcunit.NewVByte(uint64(vsize))
}
