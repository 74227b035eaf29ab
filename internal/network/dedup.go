package network

import (
	"container/list"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a notice hash is remembered.
	defaultDedupTTL = 30 * time.Second

	// maxDedupEntries caps memory when notices arrive faster than they expire.
	maxDedupEntries = 1 << 16
)

type seenEntry struct {
	hash [32]byte
	at   time.Time
}

// Dedup filters repeated notices. Entries expire after a TTL, checked lazily on
// every call, and the oldest are evicted past maxDedupEntries.
type Dedup struct {
	mu    sync.Mutex
	ttl   time.Duration
	order *list.List                 // order holds entries oldest first
	index map[[32]byte]*list.Element // index maps hash to its entry
	now   func() time.Time
}

// NewDedup creates a filter remembering hashes for ttl; 0 selects the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &Dedup{
		ttl:   ttl,
		order: list.New(),
		index: make(map[[32]byte]*list.Element),
		now:   time.Now,
	}
}

// Check returns true the first time data is seen within the TTL.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expireLocked(now)

	if _, ok := d.index[hash]; ok {
		return false
	}

	d.index[hash] = d.order.PushBack(seenEntry{hash: hash, at: now})

	for d.order.Len() > maxDedupEntries {
		d.removeLocked(d.order.Front())
	}

	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.order.Len()
}

func (d *Dedup) expireLocked(now time.Time) {
	for e := d.order.Front(); e != nil; e = d.order.Front() {
		if now.Sub(e.Value.(seenEntry).at) < d.ttl {
			return
		}

		d.removeLocked(e)
	}
}

func (d *Dedup) removeLocked(e *list.Element) {
	delete(d.index, e.Value.(seenEntry).hash)
	d.order.Remove(e)
}
