package rowcount

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// fileKey identifies one version of a file.
type fileKey struct {
	path    string
	modTime int64
	size    int64
}

type memoEntry struct {
	key  fileKey
	rows int64
	prev *memoEntry
	next *memoEntry
}

// MemoStats reports memo effectiveness.
type MemoStats struct {
	Hits     int64
	Misses   int64
	Entries  int
	Capacity int
}

// HitRate returns hits as a fraction of lookups.
func (s MemoStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// Memo wraps a Counter and remembers row counts of files whose size and
// modification time are unchanged since they were counted. Failures are
// never remembered. The least recently used entry is evicted at capacity.
// Memo is safe for concurrent use by pool workers.
type Memo struct {
	counter  Counter
	capacity int

	mu      sync.Mutex
	entries map[fileKey]*memoEntry
	head    *memoEntry // Most recently used.
	tail    *memoEntry // Least recently used.

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemo wraps counter with a memo of at most capacity files. Capacity
// below one is raised to one.
func NewMemo(counter Counter, capacity int) *Memo {
	return &Memo{
		counter:  counter,
		capacity: max(capacity, 1),
		entries:  make(map[fileKey]*memoEntry),
	}
}

// CountRows implements Counter.
func (m *Memo) CountRows(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	key := fileKey{path: path, modTime: info.ModTime().UnixNano(), size: info.Size()}

	if rows, ok := m.get(key); ok {
		m.hits.Add(1)

		return rows, nil
	}

	m.misses.Add(1)

	rows, err := m.counter.CountRows(path)
	if err != nil {
		return 0, err
	}

	m.put(key, rows)

	return rows, nil
}

// Stats returns the current counters.
func (m *Memo) Stats() MemoStats {
	m.mu.Lock()
	entries := len(m.entries)
	m.mu.Unlock()

	return MemoStats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Entries:  entries,
		Capacity: m.capacity,
	}
}

func (m *Memo) get(key fileKey) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[key]
	if !ok {
		return 0, false
	}

	m.moveToFront(ent)

	return ent.rows, true
}

func (m *Memo) put(key fileKey, rows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.entries[key]; ok {
		ent.rows = rows
		m.moveToFront(ent)

		return
	}

	for len(m.entries) >= m.capacity && m.tail != nil {
		victim := m.tail
		m.unlink(victim)
		delete(m.entries, victim.key)
	}

	ent := &memoEntry{key: key, rows: rows}
	m.entries[key] = ent
	m.pushFront(ent)
}

func (m *Memo) moveToFront(ent *memoEntry) {
	if ent == m.head {
		return
	}

	m.unlink(ent)
	m.pushFront(ent)
}

func (m *Memo) pushFront(ent *memoEntry) {
	ent.prev = nil
	ent.next = m.head

	if m.head != nil {
		m.head.prev = ent
	}

	m.head = ent

	if m.tail == nil {
		m.tail = ent
	}
}

func (m *Memo) unlink(ent *memoEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		m.head = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		m.tail = ent.prev
	}

	ent.prev, ent.next = nil, nil
}
