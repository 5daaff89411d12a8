// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/utxo"
)

// Plan is the outcome of a finalized Builder: the unsigned transaction
// skeleton together with everything a signing and broadcasting collaborator
// needs. A plan owns its data, so it stays valid after the builder is
// discarded.
type Plan struct {
	// Tx is the transaction skeleton. Inputs added as foreign may
	// already carry signature data; all other inputs are unsigned.
	Tx *wire.MsgTx

	// InputsToSign lists the inputs that still need an external
	// signature and the key expected to provide it.
	InputsToSign []InputToSign

	// ModifiedAccounts lists the accounts whose state the transaction
	// touches.
	ModifiedAccounts []Account

	// Fee is the implicit fee the transaction pays.
	Fee btcutil.Amount

	// RuneInputs aggregates the rune amounts entering through the
	// transaction's inputs.
	RuneInputs *runeset.Bounded

	inputs []utxo.Info
}

// Inputs returns the UTXOs consumed by the transaction, in input order.
func (p *Plan) Inputs() []utxo.Info {
	return append([]utxo.Info(nil), p.inputs...)
}

// SignedInputIndices returns the indices of the inputs needing an external
// signature, in ascending order.
func (p *Plan) SignedInputIndices() []uint32 {
	indices := make([]uint32, len(p.InputsToSign))
	for i, toSign := range p.InputsToSign {
		indices[i] = toSign.InputIndex
	}
	sort.Slice(indices, func(x, y int) bool {
		return indices[x] < indices[y]
	})

	return indices
}

// Packet converts the plan into a partially signed bitcoin transaction.
// Every input backed by a known previous output carries a WitnessUtxo
// entry; signature data on foreign inputs moves into the final script
// fields, since a PSBT's embedded transaction must be unsigned.
func (p *Plan) Packet() (*psbt.Packet, error) {
	unsigned := p.Tx.Copy()

	type finalSigs struct {
		index   int
		sig     []byte
		witness []byte
	}
	var finals []finalSigs

	for i, txIn := range unsigned.TxIn {
		if len(txIn.SignatureScript) == 0 && len(txIn.Witness) == 0 {
			continue
		}

		final := finalSigs{index: i, sig: txIn.SignatureScript}
		if len(txIn.Witness) > 0 {
			var err error
			final.witness, err = serializeWitness(txIn.Witness)
			if err != nil {
				return nil, fmt.Errorf("input %d witness: %w",
					i, err)
			}
		}
		finals = append(finals, final)

		txIn.SignatureScript = nil
		txIn.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, fmt.Errorf("unable to create packet: %w", err)
	}

	for i := range p.inputs {
		if len(p.inputs[i].PkScript) == 0 {
			continue
		}

		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			int64(p.inputs[i].Value), p.inputs[i].PkScript,
		)
	}

	for _, final := range finals {
		packet.Inputs[final.index].FinalScriptSig = final.sig
		packet.Inputs[final.index].FinalScriptWitness = final.witness
	}

	return packet, nil
}

// serializeWitness encodes a witness stack the way it appears on the wire,
// which is the layout PSBT final witness fields expect.
func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	err := wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	if err != nil {
		return nil, err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
