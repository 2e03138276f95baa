package prefetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ckhsu/vvmviz/internal/frame"
)

// fakeLoader records prefetched keys and can simulate cached or
// in-flight candidates.
type fakeLoader struct {
	mu       sync.Mutex
	cached   map[frame.SliceKey]bool
	inflight map[frame.SliceKey]bool
	loaded   []frame.SliceKey
	slow     time.Duration
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		cached:   map[frame.SliceKey]bool{},
		inflight: map[frame.SliceKey]bool{},
	}
}

func (f *fakeLoader) Cached(key frame.SliceKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[key]
}

func (f *fakeLoader) InFlight(key frame.SliceKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[key]
}

func (f *fakeLoader) Prefetch(ctx context.Context, key frame.SliceKey) error {
	if f.slow > 0 {
		select {
		case <-time.After(f.slow):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.loaded = append(f.loaded, key)
	f.cached[key] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) loadedKeys() []frame.SliceKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame.SliceKey, len(f.loaded))
	copy(out, f.loaded)
	return out
}

func (f *fakeLoader) waitLoaded(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := len(f.loaded)
		f.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d prefetches, have %d", n, len(f.loadedKeys()))
}

func key(t int) frame.SliceKey {
	return frame.NewSliceKey("th", t, 5, frame.NewDomain(21.9, 25.3, 119.9, 122.1), nil)
}

func TestExpandForward(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	s.Notify(key(10), frame.Forward)
	loader.waitLoaded(t, 3)

	want := map[int]bool{11: true, 12: true, 13: true}
	for _, k := range loader.loadedKeys() {
		if !want[k.TimeIndex] {
			t.Fatalf("unexpected prefetch at t=%d", k.TimeIndex)
		}
		delete(want, k.TimeIndex)
	}
	if len(want) != 0 {
		t.Fatalf("missing prefetches: %v", want)
	}
}

func TestDepthZeroDisablesLookAhead(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 0, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	s.Notify(key(10), frame.Forward)
	s.Notify(key(11), frame.Forward)
	time.Sleep(50 * time.Millisecond)

	if keys := loader.loadedKeys(); len(keys) != 0 {
		t.Fatalf("depth 0 must disable prefetch, loaded %v", keys)
	}
}

func TestExpandBackwardStopsAtZero(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	s.Notify(key(1), frame.Backward)
	loader.waitLoaded(t, 1)
	time.Sleep(20 * time.Millisecond)

	keys := loader.loadedKeys()
	if len(keys) != 1 || keys[0].TimeIndex != 0 {
		t.Fatalf("backward from t=1 must load only t=0, got %v", keys)
	}
}

func TestExpandRespectsHorizon(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()
	s.SetHorizon(12)

	s.Notify(key(10), frame.Forward)
	loader.waitLoaded(t, 1)
	time.Sleep(20 * time.Millisecond)

	keys := loader.loadedKeys()
	if len(keys) != 1 || keys[0].TimeIndex != 11 {
		t.Fatalf("horizon 12 from t=10 must load only t=11, got %v", keys)
	}
}

func TestStationaryPrefetchesForward(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 2, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	s.Notify(key(5), frame.Stationary)
	loader.waitLoaded(t, 2)

	for _, k := range loader.loadedKeys() {
		if k.TimeIndex <= 5 {
			t.Fatalf("stationary must look ahead, loaded t=%d", k.TimeIndex)
		}
	}
}

func TestSkipsCachedAndInFlight(t *testing.T) {
	loader := newFakeLoader()
	loader.cached[key(11)] = true
	loader.inflight[key(12)] = true
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	s.Notify(key(10), frame.Forward)
	loader.waitLoaded(t, 1)
	time.Sleep(20 * time.Millisecond)

	keys := loader.loadedKeys()
	if len(keys) != 1 || keys[0].TimeIndex != 13 {
		t.Fatalf("cached/in-flight candidates must be skipped, got %v", keys)
	}
}

func TestReversalCancelsQueuedWork(t *testing.T) {
	loader := newFakeLoader()
	loader.slow = 30 * time.Millisecond
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 16}, nil)
	defer s.Close()

	// Forward scrub queues t=11..13, then an immediate reversal.
	s.Notify(key(10), frame.Forward)
	s.Notify(key(10), frame.Backward)

	loader.waitLoaded(t, 1)
	time.Sleep(200 * time.Millisecond)

	backward := 0
	for _, k := range loader.loadedKeys() {
		if k.TimeIndex < 10 {
			backward++
		}
	}
	if backward == 0 {
		t.Fatal("reversal must load frames behind the viewer")
	}
	// All three backward candidates eventually load; forward ones that
	// were still queued at reversal time were cancelled.
	if backward != 3 {
		t.Fatalf("want 3 backward loads, got %d (all: %v)", backward, loader.loadedKeys())
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	loader := newFakeLoader()
	loader.slow = time.Hour // workers wedge immediately
	s := New(loader, Config{Depth: 3, Concurrency: 1, Queue: 2}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Notify(key(i), frame.Forward)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked with a full queue")
	}
	s.Close()
}

func TestCloseStopsWorkers(t *testing.T) {
	loader := newFakeLoader()
	s := New(loader, Config{Depth: 3, Concurrency: 2, Queue: 16}, nil)
	s.Notify(key(10), frame.Forward)
	s.Close() // must return; workers observe cancellation

	n := len(loader.loadedKeys())
	time.Sleep(20 * time.Millisecond)
	if len(loader.loadedKeys()) != n {
		t.Fatal("prefetches continued after Close")
	}
}
