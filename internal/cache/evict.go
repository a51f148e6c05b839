package cache

import (
	"bytes"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// SweepReport counts what one sweep removed, by reason.
type SweepReport struct {
	Expired    int
	OverSize   int
	LowSpace   int
	FreedBytes int64
}

func (r SweepReport) Removed() int { return r.Expired + r.OverSize + r.LowSpace }

type victim struct {
	key Key
	indexEntry
}

// Sweep enforces the eviction policy: entries older than MaxAge go first,
// then least-recently-used entries until the total is within MaxBytes, then
// more LRU entries, regardless of age, until the filesystem has
// MinFreeBytes available or the cache is empty.
func (m *Manager) Sweep() SweepReport {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	now := m.opts.Now()
	m.mu.Lock()
	order := make([]victim, 0, len(m.index))
	for k, e := range m.index {
		order = append(order, victim{key: k, indexEntry: *e})
	}
	total := m.total
	m.mu.Unlock()

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if !a.lastAccess.Equal(b.lastAccess) {
			return a.lastAccess.Before(b.lastAccess)
		}
		if !a.created.Equal(b.created) {
			return a.created.Before(b.created)
		}
		return bytes.Compare(a.key[:], b.key[:]) < 0
	})

	var rep SweepReport
	removed := make(map[Key]bool)
	evict := func(v victim) bool {
		if removed[v.key] {
			return false
		}
		size, ok := m.evictIfUnchanged(v)
		if !ok {
			return false
		}
		removed[v.key] = true
		total -= size
		rep.FreedBytes += size
		return true
	}

	if m.opts.MaxAge > 0 {
		for _, v := range order {
			if now.Sub(v.created) > m.opts.MaxAge && evict(v) {
				rep.Expired++
			}
		}
	}

	if m.opts.MaxBytes > 0 {
		for _, v := range order {
			if total <= m.opts.MaxBytes {
				break
			}
			if evict(v) {
				rep.OverSize++
			}
		}
	}

	if m.opts.MinFreeBytes > 0 {
		for _, v := range order {
			free, err := m.opts.FreeSpace(m.dir)
			if err != nil {
				m.log.Debug("free space probe unavailable", "error", err)
				break
			}
			if free >= uint64(m.opts.MinFreeBytes) {
				break
			}
			if evict(v) {
				rep.LowSpace++
			}
		}
	}

	if n := rep.Removed(); n > 0 {
		m.evictions.Add(int64(n))
		m.log.Info("cache sweep",
			"expired", rep.Expired,
			"over_size", rep.OverSize,
			"low_space", rep.LowSpace,
			"freed", humanize.Bytes(uint64(rep.FreedBytes)),
			"remaining", humanize.Bytes(uint64(max(total, 0))),
		)
	}
	return rep
}

// evictIfUnchanged removes v unless it was rewritten or read since the
// snapshot was taken. It waits for in-flight reads of the key to finish.
func (m *Manager) evictIfUnchanged(v victim) (int64, bool) {
	unlock := m.locks.lock(v.key)
	defer unlock()

	m.mu.Lock()
	cur, ok := m.index[v.key]
	unchanged := ok && cur.created.Equal(v.created) && !cur.lastAccess.After(v.lastAccess)
	m.mu.Unlock()
	if !unchanged {
		return 0, false
	}
	return m.removeLocked(v.key)
}

// Age reports how long ago the entry for key was written.
func (m *Manager) Age(key Key) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.index[key]
	if !ok {
		return 0, false
	}
	return m.opts.Now().Sub(e.created), true
}
