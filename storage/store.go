package storage

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Config configures the on-disk badger store.
type Config struct {
	Path string
}

// KeyValueItem is a single key/value pair returned by prefix scans.
type KeyValueItem struct {
	Key   []byte
	Value []byte
}

// Store is the KV contract every bundler component is built on: binary-safe
// get/put/del, prefix scan, and a lifecycle pair. The store never interprets
// keys or values; the components that use it store JSON-encoded values.
type Store interface {
	Start() error
	Stop() error

	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Del(key []byte) error
	GetMany(prefix []byte) ([]*KeyValueItem, error)

	CountByPrefix(prefix []byte) (int64, error)
	ListKeys(prefix []byte) ([][]byte, error)
}

// BadgerStore implements Store on an embedded badger database, one file
// tree per store (bundler.buildNetwork opens one per network at
// "./data/{network name}").
type BadgerStore struct {
	config *Config
	db     *badger.DB
}

// NewWithPath returns a badger store for path; Start() opens it, creating it
// if absent.
func NewWithPath(path string) (*BadgerStore, error) {
	return New(&Config{Path: path})
}

// New returns a badger store for config without opening it. Start() must be
// called before use.
func New(c *Config) (*BadgerStore, error) {
	return &BadgerStore{config: c}, nil
}

func (s *BadgerStore) Start() error {
	opts := badger.DefaultOptions(s.config.Path).WithSyncWrites(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger store at %s: %w", s.config.Path, err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) Stop() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *BadgerStore) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) Del(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// GetMany returns every key/value pair whose key has the given prefix.
func (s *BadgerStore) GetMany(prefix []byte) ([]*KeyValueItem, error) {
	var result []*KeyValueItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 30
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result = append(result, &KeyValueItem{Key: k, Value: v})
		}
		return nil
	})

	return result, err
}

func (s *BadgerStore) CountByPrefix(prefix []byte) (int64, error) {
	if len(prefix) == 0 {
		return 0, fmt.Errorf("cannot count prefix with length 0")
	}

	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
		}
		return nil
	})
	return total, err
}

func (s *BadgerStore) ListKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// KeyPrefix joins parts with ":" into a key such as "{chainId}:USEROPKEYS",
// used consistently across mempool/reputation persistence so prefix scans
// stay cheap.
func KeyPrefix(parts ...string) []byte {
	return []byte(strings.Join(parts, ":"))
}
