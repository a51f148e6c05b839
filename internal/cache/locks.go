package cache

import "sync"

// keyLocks hands out one RWMutex per key, dropping it once unused, so
// operations on different keys never contend.
type keyLocks struct {
	mu sync.Mutex
	m  map[Key]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[Key]*keyLock)}
}

func (k *keyLocks) ref(key Key) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key Key, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
}

func (k *keyLocks) rlock(key Key) (unlock func()) {
	l := k.ref(key)
	l.RLock()
	return func() {
		l.RUnlock()
		k.unref(key, l)
	}
}

func (k *keyLocks) lock(key Key) (unlock func()) {
	l := k.ref(key)
	l.Lock()
	return func() {
		l.Unlock()
		k.unref(key, l)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
