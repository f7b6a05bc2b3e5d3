package tablebase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// Store persists probe results in BadgerDB so repeated sessions do
// not re-ask the endpoint for the same endgames.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) a persistent store under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open probe cache: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenStoreInMemory opens a store that never touches disk. Used by
// tests and by embedders that want the chain without persistence.
func OpenStoreInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory probe cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func storeKey(key uint64) []byte {
	return []byte(fmt.Sprintf("tb:%016x", key))
}

// Lookup fetches a stored probe result by position key.
func (s *Store) Lookup(key uint64) (ProbeResult, bool, error) {
	var result ProbeResult
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &result); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return result, found, err
}

// Save stores a probe result under a position key.
func (s *Store) Save(key uint64, result ProbeResult) error {
	data, err := json.Marshal(&result)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(key), data)
	})
}

// DefaultCacheDir returns the persistent probe-cache location,
// honoring the MINERVA_TB_CACHE override.
func DefaultCacheDir() string {
	if dir := os.Getenv("MINERVA_TB_CACHE"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tbcache")
	}
	return filepath.Join(home, ".minerva", "tbcache")
}
