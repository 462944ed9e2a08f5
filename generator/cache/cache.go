// Package cache implements the on-disk tile cache used by elevation and
// imagery downloads. Raw payloads are persisted in a LevelDB database so
// repeated generations of the same area do not hit remote servers again; a
// small in-memory LRU sits in front of the database for tiles reused within
// a single run.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/goleveldb/leveldb"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned by Get when a key has not been stored.
var ErrNotFound = errors.New("cache: key not found")

// Config holds the options for opening a Cache.
type Config struct {
	// Dir is the directory the LevelDB database is created in.
	Dir string
	// MemoryEntries is the capacity of the in-memory LRU in tiles. Values
	// of 0 or lower select a default of 64.
	MemoryEntries int
}

// Cache is a persistent byte cache keyed by namespaced string keys. It is
// safe for concurrent use.
type Cache struct {
	db  *leveldb.DB
	mem *lru.Cache[uint64, []byte]

	mu     sync.Mutex
	flight map[uint64]*fill
}

// fill tracks a single in-progress fill so concurrent requests for the same
// tile share one download.
type fill struct {
	done chan struct{}
	val  []byte
	err  error
}

// Open opens or creates the cache at conf.Dir.
func (conf Config) Open() (*Cache, error) {
	if conf.MemoryEntries <= 0 {
		conf.MemoryEntries = 64
	}
	db, err := leveldb.OpenFile(conf.Dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	mem, err := lru.New[uint64, []byte](conf.MemoryEntries)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache lru: %w", err)
	}
	return &Cache{db: db, mem: mem, flight: make(map[uint64]*fill)}, nil
}

// key hashes a namespace and tile key into the fixed-size database key.
// xxhash keeps keys short without the collision risk of truncated names.
func key(namespace, name string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(namespace)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(name)
	return h.Sum64()
}

func keyBytes(k uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(k >> (56 - 8*i))
	}
	return b
}

// Get returns the payload stored under the namespace and name, or
// ErrNotFound.
func (c *Cache) Get(namespace, name string) ([]byte, error) {
	k := key(namespace, name)
	if v, ok := c.mem.Get(k); ok {
		return v, nil
	}
	v, err := c.db.Get(keyBytes(k), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("cache get %s/%s: %w", namespace, name, err)
	}
	c.mem.Add(k, v)
	return v, nil
}

// Put stores a payload under the namespace and name.
func (c *Cache) Put(namespace, name string, payload []byte) error {
	k := key(namespace, name)
	if err := c.db.Put(keyBytes(k), payload, nil); err != nil {
		return fmt.Errorf("cache put %s/%s: %w", namespace, name, err)
	}
	c.mem.Add(k, payload)
	return nil
}

// GetOrFill returns the cached payload for the key, calling produce to
// create and store it on a miss. Concurrent callers for the same key share a
// single produce call.
func (c *Cache) GetOrFill(namespace, name string, produce func() ([]byte, error)) ([]byte, error) {
	if v, err := c.Get(namespace, name); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	k := key(namespace, name)
	c.mu.Lock()
	if f, ok := c.flight[k]; ok {
		c.mu.Unlock()
		<-f.done
		return f.val, f.err
	}
	f := &fill{done: make(chan struct{})}
	c.flight[k] = f
	c.mu.Unlock()

	f.val, f.err = produce()
	if f.err == nil {
		f.err = c.Put(namespace, name, f.val)
	}

	c.mu.Lock()
	delete(c.flight, k)
	c.mu.Unlock()
	close(f.done)

	return f.val, f.err
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
