// Package vaultstate persists the tranche ledger in a BoltDB file. Records are
// JSON-encoded into three buckets: vaults, positions and underlying accounts.
package vaultstate

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	bolt "go.etcd.io/bbolt"

	"strata/core/types"
	"strata/native/tranche"
)

var (
	bucketVaults    = []byte("vaults")
	bucketPositions = []byte("positions")
	bucketAccounts  = []byte("accounts")
)

// Store implements the engine's persistence interface on top of bbolt.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store at the given path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVaults, bucketPositions, bucketAccounts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func positionKey(vaultID [32]byte, id tranche.TrancheID, owner [20]byte) []byte {
	key := make([]byte, 0, len(vaultID)+1+len(owner))
	key = append(key, vaultID[:]...)
	key = append(key, byte(id))
	key = append(key, owner[:]...)
	return key
}

// GetVault loads a vault record, returning nil when absent.
func (s *Store) GetVault(id [32]byte) (*tranche.Vault, error) {
	var vault *tranche.Vault
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketVaults).Get(id[:])
		if raw == nil {
			return nil
		}
		vault = &tranche.Vault{}
		return json.Unmarshal(raw, vault)
	})
	if err != nil {
		return nil, fmt.Errorf("vaultstate: load vault: %w", err)
	}
	return vault, nil
}

// PutVault persists a vault record.
func (s *Store) PutVault(v *tranche.Vault) error {
	if v == nil {
		return fmt.Errorf("vaultstate: nil vault")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vaultstate: encode vault: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVaults).Put(v.ID[:], raw)
	})
}

// GetPosition loads an investor position, returning nil when absent.
func (s *Store) GetPosition(vaultID [32]byte, id tranche.TrancheID, owner [20]byte) (*tranche.Position, error) {
	var pos *tranche.Position
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPositions).Get(positionKey(vaultID, id, owner))
		if raw == nil {
			return nil
		}
		pos = &tranche.Position{}
		return json.Unmarshal(raw, pos)
	})
	if err != nil {
		return nil, fmt.Errorf("vaultstate: load position: %w", err)
	}
	return pos, nil
}

// PutPosition persists an investor position.
func (s *Store) PutPosition(p *tranche.Position) error {
	if p == nil {
		return fmt.Errorf("vaultstate: nil position")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("vaultstate: encode position: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Put(positionKey(p.VaultID, p.Tranche, p.Owner), raw)
	})
}

// GetAccount loads an underlying account, returning nil when absent.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	var acc *types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get(addr[:])
		if raw == nil {
			return nil
		}
		acc = &types.Account{}
		return json.Unmarshal(raw, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("vaultstate: load account: %w", err)
	}
	return acc, nil
}

// PutAccount persists an underlying account.
func (s *Store) PutAccount(addr [20]byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("vaultstate: nil account")
	}
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("vaultstate: encode account: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(addr[:], raw)
	})
}

// Credit adds amount of underlying to an account. It is the bridge by which
// external settlement (custody, fiat rails) funds addresses the ledger can
// then pull from.
func (s *Store) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vaultstate: credit amount must be positive")
	}
	acc, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return s.PutAccount(addr, acc)
}
