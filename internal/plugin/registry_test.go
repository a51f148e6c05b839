package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toricodesthings/docintel/internal/extract"
)

type stubPlugin struct {
	name      string
	inits     atomic.Int32
	shutdowns atomic.Int32
	initErr   error
}

func (s *stubPlugin) Name() string { return s.name }

func (s *stubPlugin) Initialize() error {
	s.inits.Add(1)
	return s.initErr
}

func (s *stubPlugin) Shutdown() error {
	s.shutdowns.Add(1)
	return nil
}

func TestResolveOrdersByPriorityThenRegistration(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	mustRegister(t, r, "low", 10, "text/plain")
	mustRegister(t, r, "first-50", 50, "text/plain")
	mustRegister(t, r, "high", 100, "text/plain")
	mustRegister(t, r, "second-50", 50, "text/plain")
	mustRegister(t, r, "other-type", 500, "application/pdf")

	got := names(r.Resolve("text/plain", nil))
	want := []string{"high", "first-50", "second-50", "low"}
	if !equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveMatchesWildcardsAndStripsParameters(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	mustRegister(t, r, "images", 50, "image/*")
	mustRegister(t, r, "any", 10)

	got := names(r.Resolve("IMAGE/PNG", nil))
	if !equal(got, []string{"images", "any"}) {
		t.Fatalf("unexpected candidates %v", got)
	}
	got = names(r.Resolve("text/plain; charset=utf-8", nil))
	if !equal(got, []string{"any"}) {
		t.Fatalf("unexpected candidates %v", got)
	}
}

func TestResolveFiltersMissingFeatures(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	if err := r.Register(&stubPlugin{name: "ocr-image"}, Descriptor{Name: "ocr-image", Priority: 100, Types: []string{"image/png"}, Requires: []string{"ocr"}}); err != nil {
		t.Fatal(err)
	}
	mustRegister(t, r, "image-meta", 10, "image/png")

	if got := names(r.Resolve("image/png", nil)); !equal(got, []string{"image-meta"}) {
		t.Fatalf("expected ocr extractor filtered, got %v", got)
	}
	if got := names(r.Resolve("image/png", NewFeatures("ocr"))); !equal(got, []string{"ocr-image", "image-meta"}) {
		t.Fatalf("expected both extractors, got %v", got)
	}
}

func TestUnregisterFallsBackToNextPriority(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	high := mustRegister(t, r, "high", 100, "text/plain")
	mustRegister(t, r, "mid", 50, "text/plain")

	top := r.Resolve("text/plain", nil)[0]
	_, release, err := top.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	if err := r.Unregister("high"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if high.shutdowns.Load() != 1 {
		t.Fatalf("expected shutdown hook once, got %d", high.shutdowns.Load())
	}
	if _, _, err := top.Acquire(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown for stale candidate, got %v", err)
	}
	if got := names(r.Resolve("text/plain", nil)); !equal(got, []string{"mid"}) {
		t.Fatalf("expected fallback to mid, got %v", got)
	}
	if err := r.Unregister("high"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInitializeRunsOnceUnderConcurrency(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	p := mustRegister(t, r, "p", 50)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := r.Get("p")
			_, release, err := c.Acquire()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			release()
		}()
	}
	wg.Wait()
	if n := p.inits.Load(); n != 1 {
		t.Fatalf("expected exactly one initialize, got %d", n)
	}
}

func TestFailedInitializeIsSticky(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	p := &stubPlugin{name: "broken", initErr: errors.New("no model files")}
	if err := r.Register(p, Descriptor{Name: "broken"}); err != nil {
		t.Fatal(err)
	}
	c, _ := r.Get("broken")
	for i := 0; i < 3; i++ {
		if _, _, err := c.Acquire(); err == nil {
			t.Fatalf("expected init error")
		}
	}
	if p.inits.Load() != 1 {
		t.Fatalf("expected a single init attempt, got %d", p.inits.Load())
	}
	if err := r.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if p.shutdowns.Load() != 0 {
		t.Fatalf("shutdown must not run for a plugin that never became ready")
	}
}

func TestShutdownWaitsForActiveUsers(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	p := mustRegister(t, r, "busy", 50)

	c, _ := r.Get("busy")
	_, release, err := c.Acquire()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Unregister("busy") }()

	time.Sleep(50 * time.Millisecond)
	if n := p.shutdowns.Load(); n != 0 {
		t.Fatalf("shutdown ran while plugin was in use (%d)", n)
	}
	if _, _, err := c.Acquire(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("acquire during shutdown = %v, want ErrShutdown", err)
	}

	release()
	release() // second call is a no-op
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unregister: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unregister did not finish after release")
	}
	if n := p.shutdowns.Load(); n != 1 {
		t.Fatalf("expected one shutdown, got %d", n)
	}
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	mustRegister(t, r, "dup", 50)
	err := r.Register(&stubPlugin{name: "dup"}, Descriptor{Name: "dup"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestClearShutsDownReadyPlugins(t *testing.T) {
	r := NewRegistry[*stubPlugin]("test")
	a := mustRegister(t, r, "a", 50)
	b := mustRegister(t, r, "b", 40)

	for _, c := range r.All() {
		_, release, err := c.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		release()
	}
	if err := r.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if a.shutdowns.Load() != 1 || b.shutdowns.Load() != 1 {
		t.Fatalf("expected both shut down, got a=%d b=%d", a.shutdowns.Load(), b.shutdowns.Load())
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

type fakeExtractor struct {
	name     string
	types    []string
	priority int
}

func (f fakeExtractor) Name() string             { return f.name }
func (f fakeExtractor) SupportedTypes() []string { return f.types }
func (f fakeExtractor) MaxFileSize() int64       { return 0 }
func (f fakeExtractor) Priority() int            { return f.priority }
func (f fakeExtractor) Extract(context.Context, extract.Input) (extract.Result, error) {
	return extract.Result{Content: f.name}, nil
}

func TestSetRegisterExtractorUsesDeclaredPriority(t *testing.T) {
	s := NewSet()
	if err := s.RegisterExtractor(fakeExtractor{name: "a", types: []string{"text/plain"}, priority: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterExtractor(fakeExtractor{name: "b", types: []string{"text/plain"}, priority: 10}, WithPriority(90)); err != nil {
		t.Fatal(err)
	}
	if got := names(s.Extractors.Resolve("text/plain", nil)); !equal(got, []string{"b", "a"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if s.Extractors.Len() != 0 {
		t.Fatalf("expected registries cleared")
	}
}

func mustRegister(t *testing.T, r *Registry[*stubPlugin], name string, prio int, types ...string) *stubPlugin {
	t.Helper()
	p := &stubPlugin{name: name}
	if err := r.Register(p, Descriptor{Name: name, Priority: prio, Types: types}); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return p
}

func names[T any](cs []Candidate[T]) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
