// Package hosts implements Hosts: a bounded, deduplicated, LRU-evicted,
// persisted pool of known peer Authorities. Dedup keying
// follows the btcsuite/btcd/addrmgr convention of keying by "ip:port";
// the bucket/tried/new selection model in addrmgr itself solves a
// different problem (eclipse-resistant selection across a large
// untrusted pool) than this module's simple bounded LRU, so it is
// reimplemented directly against container/list (see DESIGN.md).
package hosts

import (
	"bufio"
	"container/list"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/p2perr"
)

// Hosts is a bounded, deduplicated, LRU-evicted, persisted pool of
// Authority values.
type Hosts struct {
	mu       sync.Mutex
	capacity int
	path     string
	rng      *rand.Rand

	order *list.List               // front = most recently stored
	index map[string]*list.Element // Authority.Key() -> element
}

// New returns an empty pool bounded by capacity and persisted at path.
// rng may be nil, in which case a source seeded with 1 is used, so Fetch
// draws the same sequence on every run.
func New(capacity int, path string, rng *rand.Rand) *Hosts {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Hosts{
		capacity: capacity,
		path:     path,
		rng:      rng,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Count returns the current pool size.
func (h *Hosts) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order.Len()
}

// Capacity returns the configured bound (host_pool_capacity).
func (h *Hosts) Capacity() int {
	return h.capacity
}

// Store adds a, evicting the least-recently-stored entry if the pool is
// at capacity. A duplicate (ip,port) is moved to the front instead of
// being stored twice.
func (h *Hosts) Store(a authority.Authority) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeLocked(a)
}

// StoreAll stores each authority in list, same semantics as Store.
func (h *Hosts) StoreAll(list []authority.Authority) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range list {
		h.storeLocked(a)
	}
}

func (h *Hosts) storeLocked(a authority.Authority) {
	key := a.Key()
	if el, ok := h.index[key]; ok {
		h.order.MoveToFront(el)
		return
	}

	if h.capacity > 0 && h.order.Len() >= h.capacity {
		back := h.order.Back()
		if back != nil {
			evicted := back.Value.(authority.Authority)
			h.order.Remove(back)
			delete(h.index, evicted.Key())
		}
	}

	el := h.order.PushFront(a)
	h.index[key] = el
}

// Remove deletes a from the pool, if present.
func (h *Hosts) Remove(a authority.Authority) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if el, ok := h.index[a.Key()]; ok {
		h.order.Remove(el)
		delete(h.index, a.Key())
	}
}

// Fetch returns a uniformly-random entry from the pool, or NotFound if
// the pool is empty.
func (h *Hosts) Fetch() (authority.Authority, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.order.Len()
	if n == 0 {
		return authority.Authority{}, p2perr.New(p2perr.NotFound, nil)
	}

	idx := h.rng.Intn(n)
	el := h.order.Front()
	for i := 0; i < idx; i++ {
		el = el.Next()
	}
	return el.Value.(authority.Authority), nil
}

// Sample returns up to n distinct entries, for protocol_address's getaddr
// reply (capped at 1000 by the caller).
func (h *Hosts) Sample(n int) []authority.Authority {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]authority.Authority, 0, n)
	for el := h.order.Front(); el != nil && len(out) < n; el = el.Next() {
		out = append(out, el.Value.(authority.Authority))
	}
	return out
}

// Load reads the persisted pool from path. A missing file yields an
// empty pool, not an error.
func (h *Hosts) Load() error {
	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return p2perr.New(p2perr.FileSystem, err)
	}
	defer f.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		a, err := authority.Parse(line)
		if err != nil {
			continue // skip malformed lines rather than fail the whole load
		}
		h.storeLocked(a)
	}
	if err := scanner.Err(); err != nil {
		return p2perr.New(p2perr.FileSystem, err)
	}
	return nil
}

// Save persists the pool to path atomically (write-temp-then-rename).
func (h *Hosts) Save() error {
	h.mu.Lock()
	lines := make([]string, 0, h.order.Len())
	for el := h.order.Front(); el != nil; el = el.Next() {
		lines = append(lines, el.Value.(authority.Authority).String())
	}
	h.mu.Unlock()

	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".hosts-*.tmp")
	if err != nil {
		return p2perr.New(p2perr.FileSystem, err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return p2perr.New(p2perr.FileSystem, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return p2perr.New(p2perr.FileSystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return p2perr.New(p2perr.FileSystem, err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return p2perr.New(p2perr.FileSystem, err)
	}
	return nil
}
