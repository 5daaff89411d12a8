// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxo

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

// InputSource returns a txauthor.InputSource that draws from utxos in
// largest-value-first order. This adapts a pool snapshot to the txauthor
// funding flow for callers that build plain payment transactions rather
// than planner-managed ones.
func InputSource(utxos []Info) txauthor.InputSource {
	eligible := make([]Info, len(utxos))
	copy(eligible, utxos)
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Value > eligible[j].Value
	})

	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			next := eligible[0]
			eligible = eligible[1:]

			outpoint := next.OutPoint
			currentTotal += next.Value

			currentInputs = append(
				currentInputs, wire.NewTxIn(&outpoint, nil, nil),
			)
			currentScripts = append(currentScripts, next.PkScript)
			currentInputValues = append(
				currentInputValues, next.Value,
			)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}
