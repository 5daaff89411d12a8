// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// txplan builds an unsigned transaction plan from a pool of managed UTXOs.
// The pool is described by a JSON file, requested payments by repeated
// --out flags, and the tool prints the serialized unsigned transaction
// together with the inputs an external signer must cover.
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/planner"
	"github.com/btcsuite/txplanner/utxo"
	flags "github.com/jessevdk/go-flags"
)

var newlineBytes = []byte{'\n'}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

// Flags.
var opts = struct {
	TestNet3    bool     `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	SimNet      bool     `long:"simnet" description:"Use the simulation bitcoin network"`
	PoolFile    string   `long:"pool" description:"Path to the pool JSON file"`
	Outputs     []string `long:"out" description:"Requested payment as address:amount, amount in satoshis (repeatable)"`
	FeeRate     string   `long:"feerate" description:"Target fee rate in sat/vB"`
	Change      string   `long:"change" description:"Address receiving surplus input value"`
	Consolidate bool     `long:"consolidate" description:"Also sweep the pool's consolidation-flagged utxos"`
	PSBT        bool     `long:"psbt" description:"Print the plan as a base64 PSBT packet as well"`
	DebugLevel  string   `long:"debuglevel" description:"Planner logging level {off, error, warn, info, debug, trace}"`
}{
	FeeRate:    "1",
	DebugLevel: "off",
}

var activeNet = &chaincfg.MainNetParams

// Parse and validate flags.
func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	if opts.TestNet3 && opts.SimNet {
		fatalf("Multiple bitcoin networks may not be used simultaneously")
	}
	if opts.TestNet3 {
		activeNet = &chaincfg.TestNet3Params
	} else if opts.SimNet {
		activeNet = &chaincfg.SimNetParams
	}

	if opts.PoolFile == "" {
		fatalf("A pool file is required")
	}
	if opts.Change == "" {
		fatalf("A change address is required")
	}
	if len(opts.Outputs) == 0 && !opts.Consolidate {
		fatalf("Nothing to plan: no outputs requested and " +
			"consolidation not enabled")
	}
}

// poolJSON is the on-disk description of a pool: the key its outputs are
// signed with and the unspent outputs themselves.
type poolJSON struct {
	Signer string     `json:"signer"`
	Utxos  []utxoJSON `json:"utxos"`
}

// utxoJSON is one unspent output in the pool file. Value is in satoshis,
// PkScript is hex. ConsolidationRate, when present, is the sat/kvB fee
// rate ceiling below which the output should be swept.
type utxoJSON struct {
	TxID              string  `json:"txid"`
	Vout              uint32  `json:"vout"`
	Value             int64   `json:"value"`
	PkScript          string  `json:"pkScript"`
	ConsolidationRate *uint64 `json:"consolidationRate,omitempty"`
}

// loadPool reads the pool file and converts it into the planner's UTXO
// records plus the pool's signing key.
func loadPool(path string) (*btcec.PublicKey, []utxo.Info, error) {
	poolFile, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open pool file: %w",
			err)
	}
	defer poolFile.Close()

	var pool poolJSON
	if err := json.NewDecoder(poolFile).Decode(&pool); err != nil {
		return nil, nil, fmt.Errorf("unable to parse pool file: %w",
			err)
	}

	signerBytes, err := hex.DecodeString(pool.Signer)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid signer key: %w", err)
	}
	signer, err := btcec.ParsePubKey(signerBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid signer key: %w", err)
	}

	utxos := make([]utxo.Info, 0, len(pool.Utxos))
	for i, entry := range pool.Utxos {
		txHash, err := chainhash.NewHashFromStr(entry.TxID)
		if err != nil {
			return nil, nil, fmt.Errorf("pool utxo %d: invalid "+
				"txid: %w", i, err)
		}
		pkScript, err := hex.DecodeString(entry.PkScript)
		if err != nil {
			return nil, nil, fmt.Errorf("pool utxo %d: invalid "+
				"pkScript: %w", i, err)
		}
		if entry.Value <= 0 || entry.Value > btcutil.MaxSatoshi {
			return nil, nil, fmt.Errorf("pool utxo %d: "+
				"impossible value %d", i, entry.Value)
		}

		info := utxo.Info{
			OutPoint: wire.OutPoint{
				Hash:  *txHash,
				Index: entry.Vout,
			},
			Value:    btcutil.Amount(entry.Value),
			PkScript: pkScript,
		}
		if entry.ConsolidationRate != nil {
			info.ConsolidationRate = fixed.Some(
				*entry.ConsolidationRate,
			)
		}

		utxos = append(utxos, info)
	}

	return signer, utxos, nil
}

// payment is one requested output, already in script form.
type payment struct {
	pkScript []byte
	amount   btcutil.Amount
}

// scriptForAddress decodes addr against the active network and returns its
// pay-to script.
func scriptForAddress(addr string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, activeNet)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	return txscript.PayToAddrScript(decoded)
}

// parsePayments converts the repeated --out flags into payments. Each flag
// value has the form address:amount with the amount in satoshis.
func parsePayments(outs []string) ([]payment, error) {
	payments := make([]payment, 0, len(outs))
	for _, out := range outs {
		addr, amountStr, found := strings.Cut(out, ":")
		if !found {
			return nil, fmt.Errorf("malformed output %q: "+
				"expected address:amount", out)
		}

		pkScript, err := scriptForAddress(addr)
		if err != nil {
			return nil, err
		}

		amount, err := strconv.ParseInt(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed output %q: %w",
				out, err)
		}
		if amount <= 0 || amount > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("malformed output %q: "+
				"impossible amount", out)
		}

		payments = append(payments, payment{
			pkScript: pkScript,
			amount:   btcutil.Amount(amount),
		})
	}

	return payments, nil
}

// setupLogging routes planner logs to stderr at the requested level.
func setupLogging(level string) error {
	if level == "off" {
		return nil
	}

	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	backend := btclog.NewBackend(os.Stderr)
	plnr := backend.Logger("PLNR")
	plnr.SetLevel(logLevel)
	planner.UseLogger(plnr)

	return nil
}

func main() {
	err := plan()
	if err != nil {
		fatalf("%v", err)
	}
}

func plan() error {
	if err := setupLogging(opts.DebugLevel); err != nil {
		return err
	}

	rate, err := btcunit.NewSatPerVByteFromString(opts.FeeRate)
	if err != nil {
		return fmt.Errorf("invalid fee rate %q: %w", opts.FeeRate,
			err)
	}

	signer, pool, err := loadPool(opts.PoolFile)
	if err != nil {
		return err
	}

	payments, err := parsePayments(opts.Outputs)
	if err != nil {
		return err
	}

	changeScript, err := scriptForAddress(opts.Change)
	if err != nil {
		return err
	}

	// Build the plan: requested payments first, then the flagged sweeps,
	// and finally enough pool value to cover the payments and the fee.
	b := planner.NewBuilder(planner.Config{})
	for _, p := range payments {
		if err := b.AddOutput(p.pkScript, p.amount); err != nil {
			return fmt.Errorf("unable to add output: %w", err)
		}
	}

	var swept []int
	if opts.Consolidate {
		swept, err = b.AddConsolidationUtxos(signer, rate, pool)
		if err != nil {
			return fmt.Errorf("unable to sweep flagged utxos: %w",
				err)
		}
	}

	drawn, err := b.AdjustToPayFees(rate, changeScript, pool, signer)
	if err != nil {
		return fmt.Errorf("unable to fund the transaction: %w", err)
	}

	// A transaction without outputs cannot be relayed. This only happens
	// for a pure consolidation whose surplus fell under the dust
	// threshold.
	if len(b.Tx().TxOut) == 0 {
		return fmt.Errorf("planned transaction has no outputs: " +
			"swept value below the dust threshold")
	}

	vsize := b.EstimateVirtualSize()
	result, err := b.Finalize()
	if err != nil {
		return fmt.Errorf("unable to finalize the plan: %w", err)
	}

	fmt.Printf("Planned transaction %v\n", result.Tx.TxHash())
	fmt.Printf("Fee: %v at %v, estimated size %v\n", result.Fee, rate,
		vsize)
	if opts.Consolidate {
		fmt.Printf("Swept %d flagged %s\n", len(swept),
			pickNoun(len(swept), "utxo", "utxos"))
	}
	if len(drawn) > 0 {
		fmt.Printf("Drew %d pool %s to cover the payments and fee\n",
			len(drawn), pickNoun(len(drawn), "utxo", "utxos"))
	}

	if len(result.InputsToSign) > 0 {
		fmt.Println("Inputs to sign:")
		for _, toSign := range result.InputsToSign {
			prevOut := result.Tx.TxIn[toSign.InputIndex].PreviousOutPoint
			fmt.Printf("  %d: %v key %x\n", toSign.InputIndex,
				&prevOut, toSign.Signer.SerializeCompressed())
		}
	}

	var buf bytes.Buffer
	if err := result.Tx.Serialize(&buf); err != nil {
		return fmt.Errorf("unable to serialize the transaction: %w",
			err)
	}
	fmt.Printf("Unsigned transaction:\n%x\n", buf.Bytes())

	if opts.PSBT {
		packet, err := result.Packet()
		if err != nil {
			return fmt.Errorf("unable to build the psbt packet: "+
				"%w", err)
		}
		encoded, err := packet.B64Encode()
		if err != nil {
			return fmt.Errorf("unable to encode the psbt "+
				"packet: %w", err)
		}
		fmt.Printf("PSBT:\n%s\n", encoded)
	}

	return nil
}

func pickNoun(n int, singularForm, pluralForm string) string {
	if n == 1 {
		return singularForm
	}
	return pluralForm
}
