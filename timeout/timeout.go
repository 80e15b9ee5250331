// File: timeout/timeout.go
// Idle-connection tracker with a coarse one-second tick.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timeout

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one heap element. Entries are never rewritten in place: Update
// only touches the fd map, leaving stale heap entries to be dropped or
// refreshed lazily during Sweep.
type entry struct {
	fd        int
	expiresAt int64 // unix nanos
}

type entryHeap []entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].expiresAt < h[j].expiresAt }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Manager tracks per-descriptor idle deadlines. Sweep is driven by an
// external ticker; timeout behavior is approximate by contract, bounded by
// the sweeper granularity.
type Manager struct {
	timeout   time.Duration
	onTimeout func(fd int)

	mu     sync.Mutex
	queue  entryHeap
	expiry map[int]int64 // fd -> latest deadline, unix nanos

	now func() time.Time // test seam
}

// NewManager builds a manager firing onTimeout for descriptors idle longer
// than timeoutSeconds.
func NewManager(timeoutSeconds int, onTimeout func(fd int)) *Manager {
	return &Manager{
		timeout:   time.Duration(timeoutSeconds) * time.Second,
		onTimeout: onTimeout,
		expiry:    make(map[int]int64),
		now:       time.Now,
	}
}

// Add starts tracking fd with a fresh deadline.
func (m *Manager) Add(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := m.now().Add(m.timeout).UnixNano()
	heap.Push(&m.queue, entry{fd: fd, expiresAt: deadline})
	m.expiry[fd] = deadline
}

// Update pushes fd's deadline forward. Only the map is rewritten; the heap
// entry goes stale and is reconciled during Sweep.
func (m *Manager) Update(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.expiry[fd]; !ok {
		return
	}
	m.expiry[fd] = m.now().Add(m.timeout).UnixNano()
}

// Remove stops tracking fd. Its heap entries are dropped lazily.
func (m *Manager) Remove(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expiry, fd)
}

// Tracked reports whether fd currently has a deadline.
func (m *Manager) Tracked(fd int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.expiry[fd]
	return ok
}

// Sweep pops expired and stale heap tops: removed descriptors are dropped,
// refreshed ones are reinserted at their newer deadline, expired ones fire
// the callback exactly once and leave the map. The callback runs with the
// manager unlocked so it may call back into Add/Update/Remove.
func (m *Manager) Sweep() {
	now := m.now().UnixNano()
	var fired []int

	m.mu.Lock()
	for m.queue.Len() > 0 {
		top := m.queue[0]
		latest, ok := m.expiry[top.fd]
		if !ok {
			heap.Pop(&m.queue)
			continue
		}
		if latest > top.expiresAt {
			heap.Pop(&m.queue)
			heap.Push(&m.queue, entry{fd: top.fd, expiresAt: latest})
			continue
		}
		if top.expiresAt <= now {
			heap.Pop(&m.queue)
			delete(m.expiry, top.fd)
			fired = append(fired, top.fd)
			continue
		}
		break
	}
	m.mu.Unlock()

	if m.onTimeout != nil {
		for _, fd := range fired {
			m.onTimeout(fd)
		}
	}
}
