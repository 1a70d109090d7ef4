package storage

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is the key-value store backing the ledger state trie. Besides raw
// key access it exposes the trie database that shares the same backend so
// committed trie nodes and ledger metadata live side by side.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	kv     *memorydb.Database
	disk   ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	disk := rawdb.NewDatabase(kv)
	return &MemDB{
		kv:     kv,
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, err := db.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("key not found")
	}
	return value, nil
}

// TrieDB returns the hash-scheme trie database layered over the memory store.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB through
// go-ethereum's ethdb adapter so the trie database can share the handle.
type LevelDB struct {
	db     *ethleveldb.Database
	disk   ethdb.Database
	trieDB *triedb.Database
}

// LevelDBOptions tunes the underlying goleveldb instance.
type LevelDBOptions struct {
	CacheMiB int
	Handles  int
}

// NewLevelDB creates or opens a LevelDB database at the specified path using
// default tuning.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{})
}

// NewLevelDBWithOptions opens a LevelDB database with explicit cache and file
// handle budgets.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	cache := opts.CacheMiB
	if cache <= 0 {
		cache = 16
	}
	handles := opts.Handles
	if handles <= 0 {
		handles = 64
	}
	db, err := ethleveldb.NewCustom(path, "", func(o *opt.Options) {
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
		o.OpenFilesCacheCapacity = handles
	})
	if err != nil {
		return nil, err
	}
	disk := rawdb.NewDatabase(db)
	return &LevelDB{
		db:     db,
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key)
}

// TrieDB returns the trie database persisted into the same LevelDB files.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close flushes the trie database and closes the LevelDB handle.
func (ldb *LevelDB) Close() {
	if ldb.trieDB != nil {
		_ = ldb.trieDB.Close()
	}
	ldb.db.Close()
}
