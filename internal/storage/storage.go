package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the default block cache size.
	defaultCacheSize = 8 << 20
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Options configures a Store.
type Options struct {
	Path         string        // Path is the database directory, ignored when InMemory
	InMemory     bool          // InMemory keeps everything in a memory filesystem
	SyncInterval time.Duration // SyncInterval is the WAL sync period, 0 for the default
	CacheSize    int64         // CacheSize is the block cache size in bytes, 0 for the default
}

// Store is a key-value store backed by Pebble.
// Writes are NoSync and a background goroutine syncs the WAL periodically,
// unless the caller commits a batch with Sync.
type Store struct {
	db *pebble.DB

	mu       sync.RWMutex // mu guards closed against in-flight operations
	closed   bool
	stopSync chan struct{}
	wg       sync.WaitGroup
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaultSyncInterval
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                4 << 20,
		MemTableStopWritesThreshold: 2,
	}

	path := opts.Path
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
		path = ""
	} else if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q:\n%w", path, err)
	}

	s := &Store{
		db:       db,
		stopSync: make(chan struct{}),
	}

	if !opts.InMemory {
		s.startSyncLoop(opts.SyncInterval)
	}

	return s, nil
}

// OpenMemory opens an in-memory store.
func OpenMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Get returns a copy of the value for key, or nil if it does not exist.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(value), nil
}

// Has reports whether key exists.
func (s *Store) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}

	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// Set stores a key-value pair.
func (s *Store) Set(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes a key.
func (s *Store) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.Delete(key, pebble.NoSync)
}

// Batch groups writes that are applied atomically.
type Batch struct {
	s     *Store
	b     *pebble.Batch
	count int
}

// NewBatch starts an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{s: s, b: s.db.NewBatch()}
}

// Set queues a write.
func (b *Batch) Set(key, value []byte) error {
	b.count++
	return b.b.Set(key, value, nil)
}

// Delete queues a deletion.
func (b *Batch) Delete(key []byte) error {
	b.count++
	return b.b.Delete(key, nil)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int { return b.count }

// Commit applies the batch. With sync set the WAL is flushed before returning.
// The batch cannot be reused.
func (b *Batch) Commit(sync bool) error {
	defer b.b.Close()

	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	if b.s.closed {
		return ErrClosed
	}

	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}

	return b.b.Commit(opts)
}

// Discard drops the batch without applying it.
func (b *Batch) Discard() {
	b.b.Close()
}

// IteratePrefix calls fn for each pair whose key starts with prefix, in key order.
// Key and value are only valid during the call. A non-nil error from fn stops iteration.
func (s *Store) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound returns the exclusive upper bound of a prefix scan, nil when unbounded.
func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync loop, flushes the WAL and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopSync)
	s.wg.Wait()

	if err := s.db.LogData(nil, pebble.Sync); err != nil {
		s.db.Close()
		return fmt.Errorf("final sync:\n%w", err)
	}

	return s.db.Close()
}

func (s *Store) startSyncLoop(interval time.Duration) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.db.LogData(nil, pebble.Sync)
			case <-s.stopSync:
				return
			}
		}
	}()
}
