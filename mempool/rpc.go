// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/safemath"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultStatusTTL is how long a resolved status stays cached before the
// mempool is consulted again. Statuses only move from pending to confirmed,
// so a stale pending entry merely overestimates the ancestor package.
const DefaultStatusTTL = time.Minute

// RPCClient is the part of the chain RPC interface the source depends on.
type RPCClient interface {
	// GetRawMempoolVerbose returns the verbose mempool listing, keyed by
	// txid string.
	GetRawMempoolVerbose() (
		map[string]btcjson.GetRawMempoolVerboseResult, error)
}

// A compile-time assertion that the btcd RPC client satisfies RPCClient.
var _ RPCClient = (*rpcclient.Client)(nil)

// RPCSourceConfig holds the dependencies of an RPCSource.
type RPCSourceConfig struct {
	// Client is the chain RPC client used to fetch the mempool.
	Client RPCClient

	// StatusTTL overrides DefaultStatusTTL when non-zero.
	StatusTTL time.Duration
}

// RPCSource resolves mempool statuses against a bitcoind or btcd backend.
// The verbose mempool listing carries, for every entry, its direct parents,
// so the ancestor package of a transaction is the transitive closure over
// the depends edges. Resolved statuses are cached with a TTL to keep
// repeated planning rounds from hammering the node.
type RPCSource struct {
	client RPCClient
	cache  *ttlcache.Cache[chainhash.Hash, TxStatus]
}

// A compile-time assertion that RPCSource satisfies Source.
var _ Source = (*RPCSource)(nil)

// NewRPCSource creates an RPCSource from the given config.
func NewRPCSource(cfg *RPCSourceConfig) *RPCSource {
	ttl := cfg.StatusTTL
	if ttl == 0 {
		ttl = DefaultStatusTTL
	}

	return &RPCSource{
		client: cfg.Client,
		cache: ttlcache.New[chainhash.Hash, TxStatus](
			ttlcache.WithTTL[chainhash.Hash, TxStatus](ttl),
			ttlcache.WithDisableTouchOnHit[chainhash.Hash, TxStatus](),
		),
	}
}

// Start launches the cache expiration loop.
func (s *RPCSource) Start() {
	go s.cache.Start()
}

// Stop terminates the cache expiration loop.
func (s *RPCSource) Stop() {
	s.cache.Stop()
}

// StatusOf returns the status of the given transaction, consulting the
// cache first.
func (s *RPCSource) StatusOf(ctx context.Context,
	txid chainhash.Hash) (TxStatus, error) {

	if item := s.cache.Get(txid); item != nil {
		return item.Value(), nil
	}

	if err := ctx.Err(); err != nil {
		return TxStatus{}, err
	}

	entries, err := s.client.GetRawMempoolVerbose()
	if err != nil {
		return TxStatus{}, fmt.Errorf("fetch mempool: %w", err)
	}

	status, err := packageStatus(txid, entries)
	if err != nil {
		return TxStatus{}, err
	}

	log.Debugf("Resolved mempool status of %v: %v", txid, status)
	s.cache.Set(txid, status, ttlcache.DefaultTTL)

	return status, nil
}

// Prefetch resolves and caches the statuses of all given transactions using
// a single mempool fetch.
func (s *RPCSource) Prefetch(ctx context.Context,
	txids []chainhash.Hash) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.client.GetRawMempoolVerbose()
	if err != nil {
		return fmt.Errorf("fetch mempool: %w", err)
	}

	for _, txid := range txids {
		status, err := packageStatus(txid, entries)
		if err != nil {
			return err
		}

		s.cache.Set(txid, status, ttlcache.DefaultTTL)
	}

	log.Debugf("Prefetched mempool status of %d transactions",
		len(txids))

	return nil
}

// packageStatus computes the ancestor package aggregate of txid from a
// verbose mempool listing. A transaction absent from the listing is
// confirmed. Ancestors reachable through multiple paths are counted once.
func packageStatus(txid chainhash.Hash,
	entries map[string]btcjson.GetRawMempoolVerboseResult) (TxStatus,
	error) {

	if _, ok := entries[txid.String()]; !ok {
		return Confirmed(), nil
	}

	var (
		total   Info
		visited = make(map[string]struct{})
		queue   = []string{txid.String()}
	)

	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if _, done := visited[id]; done {
			continue
		}
		visited[id] = struct{}{}

		// A parent may have confirmed between the listing being
		// assembled and now. Treat it as not part of the package.
		entry, ok := entries[id]
		if !ok {
			continue
		}

		fee, err := btcutil.NewAmount(entry.Fee)
		if err != nil {
			return TxStatus{}, fmt.Errorf("mempool entry %s: %w",
				id, err)
		}
		if fee < 0 || entry.Vsize < 0 {
			return TxStatus{}, fmt.Errorf("mempool entry %s has "+
				"negative fee or vsize", id)
		}

		totalFee, err := safemath.AddUint64(
			uint64(total.Fee), uint64(fee),
		)
		if err != nil {
			return TxStatus{}, err
		}

		total.Fee = btcutil.Amount(totalFee)
		total.VSize = total.VSize.Add(
			btcunit.NewVByte(uint64(entry.Vsize)),
		)

		queue = append(queue, entry.Depends...)
	}

	return Pending(total), nil
}
