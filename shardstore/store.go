// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package shardstore persists UTXO shards in a walletdb database. Shards
// are grouped by pool so independent pools can share one database file,
// and every stored record is wrapped in a versioned tlv envelope carrying
// the time it was written.
package shardstore

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/txplanner/shard"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// shardsBucketKey is the top-level bucket under which every pool
	// keeps its shard sub-bucket.
	shardsBucketKey = []byte("shards")

	// errMissingShardsBucket is returned when the top-level bucket is
	// absent, meaning the database was not initialized through Open.
	errMissingShardsBucket = errors.New("missing shards bucket")
)

// Config holds the dependencies of a Store.
type Config struct {
	// DB is the wallet database the shards are persisted in.
	DB walletdb.DB

	// Clock stamps records when they are written. The wall clock is
	// used when nil.
	Clock clock.Clock
}

// Store persists UTXO shards, keyed by pool identifier and account key.
type Store struct {
	db    walletdb.DB
	clock clock.Clock
}

// Open binds a store to the given database, creating the shards bucket if
// it does not exist yet.
func Open(cfg *Config) (*Store, error) {
	s := &Store{
		db:    cfg.DB,
		clock: cfg.Clock,
	}
	if s.clock == nil {
		s.clock = clock.NewDefaultClock()
	}

	err := walletdb.Update(cfg.DB, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(shardsBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create shards bucket: %w", err)
	}

	return s, nil
}

// PutShard writes the shard's current state under the given pool,
// overwriting any previous record for the same account.
func (s *Store) PutShard(poolID []byte, us *shard.UtxoShard) error {
	if len(poolID) == 0 {
		return ErrInvalidPoolID
	}

	value, err := serializeRecord(us, s.clock.Now())
	if err != nil {
		return err
	}
	key := us.AccountKey().SerializeCompressed()

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		shards := tx.ReadWriteBucket(shardsBucketKey)
		if shards == nil {
			return errMissingShardsBucket
		}

		pool, err := shards.CreateBucketIfNotExists(poolID)
		if err != nil {
			return err
		}

		return pool.Put(key, value)
	})
	if err != nil {
		return err
	}

	log.Debugf("Stored shard of account %x in pool %x", key, poolID)

	return nil
}

// FetchShard loads the record stored for the given account under the given
// pool. It returns ErrShardNotFound when no such record exists.
func (s *Store) FetchShard(poolID []byte,
	key *btcec.PublicKey) (*Record, error) {

	if len(poolID) == 0 {
		return nil, ErrInvalidPoolID
	}

	keyBytes := key.SerializeCompressed()

	var record *Record
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		shards := tx.ReadBucket(shardsBucketKey)
		if shards == nil {
			return errMissingShardsBucket
		}

		pool := shards.NestedReadBucket(poolID)
		if pool == nil {
			return fmt.Errorf("%w: account %x", ErrShardNotFound,
				keyBytes)
		}

		value := pool.Get(keyBytes)
		if value == nil {
			return fmt.Errorf("%w: account %x", ErrShardNotFound,
				keyBytes)
		}

		var err error
		record, err = deserializeRecord(value)

		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ForEachShard invokes f for every record stored under the given pool, in
// account key order. A pool no shard was ever stored under iterates zero
// records. Returning an error from f aborts the iteration.
func (s *Store) ForEachShard(poolID []byte, f func(*Record) error) error {
	if len(poolID) == 0 {
		return ErrInvalidPoolID
	}

	return walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		shards := tx.ReadBucket(shardsBucketKey)
		if shards == nil {
			return errMissingShardsBucket
		}

		pool := shards.NestedReadBucket(poolID)
		if pool == nil {
			return nil
		}

		return pool.ForEach(func(k, v []byte) error {
			record, err := deserializeRecord(v)
			if err != nil {
				return fmt.Errorf("shard of account %x: %w",
					k, err)
			}

			return f(record)
		})
	})
}

// DeleteShard removes the record stored for the given account under the
// given pool. Deleting a record that does not exist is a no-op.
func (s *Store) DeleteShard(poolID []byte, key *btcec.PublicKey) error {
	if len(poolID) == 0 {
		return ErrInvalidPoolID
	}

	keyBytes := key.SerializeCompressed()

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		shards := tx.ReadWriteBucket(shardsBucketKey)
		if shards == nil {
			return errMissingShardsBucket
		}

		pool := shards.NestedReadWriteBucket(poolID)
		if pool == nil {
			return nil
		}

		return pool.Delete(keyBytes)
	})
	if err != nil {
		return err
	}

	log.Debugf("Deleted shard of account %x from pool %x", keyBytes,
		poolID)

	return nil
}
