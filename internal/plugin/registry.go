// Package plugin keeps priority-ordered tables of named plugins and drives
// their initialize/shutdown lifecycle.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrDuplicate = errors.New("plugin already registered")
	ErrNotFound  = errors.New("plugin not registered")
	ErrShutdown  = errors.New("plugin has been shut down")
)

// Initializer is run once, on the first dispatch to the plugin.
type Initializer interface {
	Initialize() error
}

// Shutdowner is run when the plugin leaves its registry.
type Shutdowner interface {
	Shutdown() error
}

// Descriptor describes how a plugin is matched and ranked.
type Descriptor struct {
	Name     string
	Priority int
	// Types lists supported type ids. Empty means every type; "image/*"
	// style wildcards match a whole top-level type.
	Types []string
	// Requires names features that must be enabled for the plugin to be
	// considered.
	Requires []string
}

// Features is the set of enabled capabilities for one request.
type Features map[string]struct{}

func NewFeatures(names ...string) Features {
	f := make(Features, len(names))
	for _, n := range names {
		f[n] = struct{}{}
	}
	return f
}

func (f Features) Has(name string) bool {
	_, ok := f[name]
	return ok
}

type state int

const (
	stateRegistered state = iota
	stateReady
	stateFailed
	stateShutdown
)

type entry[T any] struct {
	desc   Descriptor
	plugin T
	seq    uint64

	mu      sync.Mutex // serializes lifecycle hooks
	idle    *sync.Cond // signalled when users drops to zero
	state   state
	initErr error
	users   int
}

func newEntry[T any](p T, d Descriptor, seq uint64) *entry[T] {
	e := &entry[T]{desc: d, plugin: p, seq: seq}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Candidate is a resolved registry entry. Acquire must be called before use.
type Candidate[T any] struct {
	e *entry[T]
}

func (c Candidate[T]) Name() string { return c.e.desc.Name }
func (c Candidate[T]) Priority() int { return c.e.desc.Priority }
func (c Candidate[T]) Types() []string { return append([]string(nil), c.e.desc.Types...) }
func (c Candidate[T]) Plugin() T { return c.e.plugin }
func (c Candidate[T]) Requires() []string { return append([]string(nil), c.e.desc.Requires...) }

// Acquire initializes the plugin on first use and returns it with a release
// func that must be called when the caller is done with it. Shutdown waits
// for every outstanding release. A plugin whose initialization failed keeps
// returning that error; a plugin that is shutting down or was shut down
// returns ErrShutdown.
func (c Candidate[T]) Acquire() (T, func(), error) {
	e := c.e
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	switch e.state {
	case stateReady:
		return e.plugin, e.hold(), nil
	case stateFailed:
		return zero, nil, e.initErr
	case stateShutdown:
		return zero, nil, fmt.Errorf("%s: %w", e.desc.Name, ErrShutdown)
	}

	if err := runHook(func() error {
		if in, ok := any(e.plugin).(Initializer); ok {
			return in.Initialize()
		}
		return nil
	}); err != nil {
		e.state = stateFailed
		e.initErr = fmt.Errorf("initialize %s: %w", e.desc.Name, err)
		return zero, nil, e.initErr
	}
	e.state = stateReady
	return e.plugin, e.hold(), nil
}

// hold registers one user; the caller holds e.mu.
func (e *entry[T]) hold() func() {
	e.users++
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.users--
			if e.users == 0 {
				e.idle.Broadcast()
			}
			e.mu.Unlock()
		})
	}
}

// shutdown stops new acquisitions at once, then waits for current users to
// release the plugin before running its hook.
func (e *entry[T]) shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.state
	e.state = stateShutdown
	if prev != stateReady {
		return nil
	}
	for e.users > 0 {
		e.idle.Wait()
	}
	if err := runHook(func() error {
		if sd, ok := any(e.plugin).(Shutdowner); ok {
			return sd.Shutdown()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("shutdown %s: %w", e.desc.Name, err)
	}
	return nil
}

func runHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Registry is a concurrency-safe table of plugins of one kind.
type Registry[T any] struct {
	kind string

	mu      sync.RWMutex
	seq     uint64
	entries map[string]*entry[T]
}

func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, entries: make(map[string]*entry[T])}
}

func (r *Registry[T]) Kind() string { return r.kind }

func (r *Registry[T]) Register(p T, d Descriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%s: plugin name is required", r.kind)
	}
	d.Name = name
	d.Types = normalizeTypes(d.Types)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrDuplicate)
	}
	r.seq++
	r.entries[name] = newEntry(p, d, r.seq)
	return nil
}

// Unregister removes the named plugin and runs its shutdown hook.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrNotFound)
	}
	return e.shutdown()
}

// Clear removes every plugin, shutting each down.
func (r *Registry[T]) Clear() error {
	r.mu.Lock()
	old := r.entries
	r.entries = make(map[string]*entry[T])
	r.mu.Unlock()

	list := make([]*entry[T], 0, len(old))
	for _, e := range old {
		list = append(list, e)
	}
	sortEntries(list)

	var errs []error
	for _, e := range list {
		if err := e.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry[T]) Get(name string) (Candidate[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Candidate[T]{}, false
	}
	return Candidate[T]{e: e}, true
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns registered names in dispatch order.
func (r *Registry[T]) Names() []string {
	all := r.All()
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = c.Name()
	}
	return out
}

// All returns every plugin in dispatch order.
func (r *Registry[T]) All() []Candidate[T] {
	return r.collect(func(*entry[T]) bool { return true })
}

// Resolve returns the plugins supporting typeID whose required features are
// all present, highest priority first. Equal priorities keep registration
// order. An empty typeID matches every plugin.
func (r *Registry[T]) Resolve(typeID string, features Features) []Candidate[T] {
	typeID = normalizeType(typeID)
	return r.collect(func(e *entry[T]) bool {
		for _, need := range e.desc.Requires {
			if !features.Has(need) {
				return false
			}
		}
		return typeID == "" || matchesType(e.desc.Types, typeID)
	})
}

func (r *Registry[T]) collect(keep func(*entry[T]) bool) []Candidate[T] {
	r.mu.RLock()
	list := make([]*entry[T], 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			list = append(list, e)
		}
	}
	r.mu.RUnlock()

	sortEntries(list)
	out := make([]Candidate[T], len(list))
	for i, e := range list {
		out[i] = Candidate[T]{e: e}
	}
	return out
}

func sortEntries[T any](list []*entry[T]) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].desc.Priority != list[j].desc.Priority {
			return list[i].desc.Priority > list[j].desc.Priority
		}
		return list[i].seq < list[j].seq
	})
}

func matchesType(types []string, typeID string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		switch {
		case t == typeID, t == "*", t == "*/*":
			return true
		case strings.HasSuffix(t, "/*") && strings.HasPrefix(typeID, strings.TrimSuffix(t, "*")):
			return true
		}
	}
	return false
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if n := normalizeType(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}
