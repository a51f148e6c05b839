// Package cache stores extraction results on disk, keyed by content
// fingerprint, with single-flight computation and size/age/free-space
// eviction.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/toricodesthings/docintel/internal/logger"
)

// ErrMiss is returned by Get-style helpers when no valid entry exists.
var ErrMiss = errors.New("cache miss")

// SourceInfo describes the input a cached entry was computed from. Entries
// whose stored size or modification time differ are treated as stale.
type SourceInfo struct {
	Size    int64
	ModTime time.Time
}

func (s SourceInfo) modNanos() int64 {
	if s.ModTime.IsZero() {
		return 0
	}
	return s.ModTime.UnixNano()
}

type Options struct {
	Dir          string
	MaxAge       time.Duration // 0 disables age eviction
	MaxBytes     int64         // 0 disables size eviction
	MinFreeBytes int64         // 0 disables the free-space floor
	Logger       *slog.Logger

	// FreeSpace and Now are overridable for tests.
	FreeSpace func(dir string) (uint64, error)
	Now       func() time.Time
}

type Stats struct {
	Dir       string `json:"dir"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Writes    int64  `json:"writes"`
	Evictions int64  `json:"evictions"`
}

type indexEntry struct {
	size       int64
	created    time.Time
	lastAccess time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	dir  string
	opts Options
	log  *slog.Logger

	group singleflight.Group
	locks *keyLocks

	sweepMu sync.Mutex // one sweep at a time

	mu    sync.Mutex // guards index and total
	index map[Key]*indexEntry
	total int64

	hits, misses, writes, evictions atomic.Int64
}

// Open creates dir if needed and indexes the records already in it.
func Open(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = freeSpace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.With("component", "cache")
	}

	m := &Manager{
		dir:   opts.Dir,
		opts:  opts,
		log:   log,
		locks: newKeyLocks(),
		index: make(map[Key]*indexEntry),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(key Key) string {
	return filepath.Join(m.dir, key.String()+recordExt)
}

// load rebuilds the index from disk. Unreadable records and leftover temp
// files are removed.
func (m *Manager) load() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, de := range entries {
		name := de.Name()
		full := filepath.Join(m.dir, name)
		if de.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(full)
			continue
		}
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		key, err := ParseKey(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		rec, info, err := statRecord(full)
		if err != nil || rec.Key != key {
			m.log.Warn("dropping unreadable cache record", "file", name, "error", err)
			_ = os.Remove(full)
			continue
		}
		m.index[key] = &indexEntry{size: info.Size(), created: rec.Created, lastAccess: info.ModTime()}
		m.total += info.Size()
	}
	if len(m.index) > 0 {
		m.log.Debug("cache index loaded", "entries", len(m.index), "size", humanize.Bytes(uint64(m.total)))
	}
	return nil
}

func statRecord(path string) (Record, fs.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Record{}, nil, err
	}
	rec, err := readHeader(f)
	return rec, info, err
}

// Get returns the payload stored under key when it is still valid for src.
// Unreadable, corrupt and stale entries are removed and reported as misses.
func (m *Manager) Get(key Key, src SourceInfo) ([]byte, bool) {
	payload, err := m.read(key, src)
	if err == nil {
		m.hits.Add(1)
		m.touch(key)
		return payload, true
	}
	m.misses.Add(1)
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrMiss) {
		m.log.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
	}
	if errors.Is(err, errCorrupt) || errors.Is(err, errStale) {
		m.Invalidate(key)
	}
	return nil, false
}

var errStale = fmt.Errorf("%w: source changed", ErrMiss)

func (m *Manager) read(key Key, src SourceInfo) ([]byte, error) {
	unlock := m.locks.rlock(key)
	defer unlock()

	m.mu.Lock()
	_, indexed := m.index[key]
	m.mu.Unlock()
	if !indexed {
		return nil, ErrMiss
	}

	raw, err := os.ReadFile(m.path(key))
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.Key != key {
		return nil, fmt.Errorf("%w: key mismatch", errCorrupt)
	}
	if rec.SourceSize != src.Size || rec.SourceMod != src.modNanos() {
		return nil, errStale
	}
	return rec.Payload, nil
}

// touch records an access for LRU ordering. The file mtime mirrors it so
// the order survives a restart.
func (m *Manager) touch(key Key) {
	now := m.opts.Now()
	m.mu.Lock()
	if e, ok := m.index[key]; ok {
		e.lastAccess = now
	}
	m.mu.Unlock()
	_ = os.Chtimes(m.path(key), now, now)
}

// Put stores payload under key, replacing any previous entry, then sweeps.
func (m *Manager) Put(key Key, src SourceInfo, payload []byte) error {
	now := m.opts.Now()
	raw := encodeRecord(Record{
		Key:        key,
		SourceSize: src.Size,
		SourceMod:  src.modNanos(),
		Created:    now,
		Payload:    payload,
	})

	unlock := m.locks.lock(key)
	err := m.writeFile(key, raw, now)
	if err == nil {
		m.mu.Lock()
		if old, ok := m.index[key]; ok {
			m.total -= old.size
		}
		m.index[key] = &indexEntry{size: int64(len(raw)), created: now, lastAccess: now}
		m.total += int64(len(raw))
		m.mu.Unlock()
		m.writes.Add(1)
	}
	unlock()
	if err != nil {
		return err
	}

	m.Sweep()
	return nil
}

func (m *Manager) writeFile(key Key, raw []byte, now time.Time) error {
	tmp, err := os.CreateTemp(m.dir, key.String()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpName, m.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish record: %w", err)
	}
	_ = os.Chtimes(m.path(key), now, now)
	return nil
}

type flight struct {
	payload []byte
	hit     bool
}

// GetOrCompute returns the cached payload for key or runs compute exactly
// once across concurrent callers and stores its output. Waiters share the
// leader's outcome, errors included; errors are never cached. A flight that
// failed because the leader's own context ended is not shared: waiters whose
// context is still live start a new one. A failed write is logged and the
// computed payload is still returned. The returned slice is shared and must
// not be modified.
func (m *Manager) GetOrCompute(ctx context.Context, key Key, src SourceInfo, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if payload, ok := m.Get(key, src); ok {
		return payload, true, nil
	}

	for {
		ch := m.group.DoChan(key.String(), func() (any, error) {
			// A flight that finished just before this one may have stored it.
			if payload, ok := m.Get(key, src); ok {
				return flight{payload: payload, hit: true}, nil
			}
			payload, err := compute(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &abortedFlight{err: err}
				}
				return nil, err
			}
			if err := m.Put(key, src, payload); err != nil {
				m.log.Warn("cache write failed, continuing without cache", "key", key.String(), "error", err)
			}
			return flight{payload: payload}, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				var aborted *abortedFlight
				if errors.As(res.Err, &aborted) {
					if ctx.Err() == nil {
						m.log.Debug("leading caller gave up, recomputing", "key", key.String())
						continue
					}
					return nil, false, aborted.err
				}
				return nil, false, res.Err
			}
			f := res.Val.(flight)
			return f.payload, f.hit, nil
		}
	}
}

// abortedFlight marks a compute failure that happened after the leading
// caller's context ended.
type abortedFlight struct{ err error }

func (a *abortedFlight) Error() string { return a.err.Error() }
func (a *abortedFlight) Unwrap() error { return a.err }

// Invalidate removes the entry for key, if any.
func (m *Manager) Invalidate(key Key) {
	unlock := m.locks.lock(key)
	defer unlock()
	m.removeLocked(key)
}

// removeLocked drops key from the index and disk; the caller holds its key lock.
func (m *Manager) removeLocked(key Key) (int64, bool) {
	m.mu.Lock()
	e, ok := m.index[key]
	if ok {
		delete(m.index, key)
		m.total -= e.size
	}
	m.mu.Unlock()
	if err := os.Remove(m.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.log.Warn("remove cache record", "key", key.String(), "error", err)
	}
	if !ok {
		return 0, false
	}
	return e.size, true
}

// Clear removes every entry.
func (m *Manager) Clear() error {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	m.mu.Lock()
	keys := make([]Key, 0, len(m.index))
	for k := range m.index {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.Invalidate(k)
		m.evictions.Add(1)
	}
	m.log.Info("cache cleared", "entries", len(keys))
	return nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	entries, total := len(m.index), m.total
	m.mu.Unlock()
	return Stats{
		Dir:       m.dir,
		Entries:   entries,
		Bytes:     total,
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Writes:    m.writes.Load(),
		Evictions: m.evictions.Load(),
	}
}

// StartSweeper sweeps every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Sweep()
			}
		}
	}()
}
