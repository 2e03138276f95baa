// Package coordinator is the façade the request path calls to get a
// processed slice: frame cache first, then a de-duplicated synchronous
// compute through the data reader and processor. Every served request
// also feeds the prefetch scheduler.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ckhsu/vvmviz/internal/cache/framecache"
	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/observability"
	"github.com/ckhsu/vvmviz/internal/vvm"
)

// Scheduler receives the position and direction of every served
// request. Notify must never block the caller.
type Scheduler interface {
	Notify(key frame.SliceKey, dir frame.Direction)
}

// Purger is the dataset-level cache hook; purged together with the
// frame cache on invalidation.
type Purger interface {
	Purge()
}

type call struct {
	done  chan struct{}
	slice *frame.Slice
	err   error
}

type Coordinator struct {
	logger *slog.Logger
	frames *framecache.Cache
	access vvm.DataAccess
	proc   vvm.SliceProcessor

	mu       sync.Mutex
	inflight map[frame.SliceKey]*call
	sched    Scheduler
	datasets Purger
	sim      string
	lastKey  frame.SliceKey
	hasLast  bool
}

// New wires the coordinator. datasets may be nil when there is no
// dataset-level cache to purge.
func New(frames *framecache.Cache, datasets Purger, access vvm.DataAccess, proc vvm.SliceProcessor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:   logger,
		frames:   frames,
		access:   access,
		proc:     proc,
		datasets: datasets,
		inflight: make(map[frame.SliceKey]*call),
	}
}

// AttachScheduler hooks up the prefetch scheduler. Call before serving
// requests; a nil scheduler just disables prefetch notifications.
func (c *Coordinator) AttachScheduler(s Scheduler) {
	c.mu.Lock()
	c.sched = s
	c.mu.Unlock()
}

// SetSimulation switches the active simulation. Cached frames belong
// to the old dataset, so the switch invalidates everything.
func (c *Coordinator) SetSimulation(sim string) {
	c.mu.Lock()
	changed := c.sim != sim
	c.sim = sim
	c.mu.Unlock()
	if changed {
		c.Invalidate("dataset-change")
	}
}

func (c *Coordinator) Simulation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sim
}

// Resolve returns the processed slice for key. On a hit nothing is
// recomputed; on a miss the compute runs synchronously on the caller,
// unless an identical computation is already in flight, in which case
// the caller waits for that one instead of duplicating the work.
func (c *Coordinator) Resolve(ctx context.Context, key frame.SliceKey) (*frame.Slice, error) {
	if e, ok := c.frames.Get(key); ok {
		s := e.Slice()
		e.Release()
		observability.IncFrameHit()
		c.logger.Debug("frame hit", "key", key.String())
		c.notify(key)
		return s, nil
	}
	observability.IncFrameMiss()

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		observability.IncFrameCoalesced()
		select {
		case <-cl.done:
			c.notify(key)
			return cl.slice, cl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	s, err := c.compute(ctx, key)
	c.finish(key, cl, s, err)
	c.notify(key)
	if err != nil {
		c.logger.Warn("frame load failed", "key", key.String(), "err", err)
	}
	return s, err
}

// Prefetch computes and caches a key on the background path. Already
// cached or in-flight keys are skipped; failures are returned for the
// scheduler to log, never cached.
func (c *Coordinator) Prefetch(ctx context.Context, key frame.SliceKey) error {
	if c.frames.Contains(key) {
		return nil
	}
	c.mu.Lock()
	if _, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return nil
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	s, err := c.compute(ctx, key)
	c.finish(key, cl, s, err)
	return err
}

// InFlight reports whether a computation for key has started but not
// finished. Used by the scheduler to skip duplicate candidates.
func (c *Coordinator) InFlight(key frame.SliceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// Cached reports presence without touching recency.
func (c *Coordinator) Cached(key frame.SliceKey) bool {
	return c.frames.Contains(key)
}

// Invalidate clears both cache layers. In-flight computations are left
// to finish; their results land in the fresh cache and a stale frame
// served once is preferable to failing the request.
func (c *Coordinator) Invalidate(reason string) {
	c.frames.InvalidateAll()
	if c.datasets != nil {
		c.datasets.Purge()
	}
	c.mu.Lock()
	c.hasLast = false
	c.mu.Unlock()
	observability.IncInvalidation(reason)
	c.logger.Info("cache invalidated", "reason", reason)
}

func (c *Coordinator) compute(ctx context.Context, key frame.SliceKey) (*frame.Slice, error) {
	start := time.Now()
	c.mu.Lock()
	sim := c.sim
	c.mu.Unlock()

	slab, err := c.access.Fetch(ctx, sim, key)
	if err != nil {
		return nil, &frame.DataUnavailableError{Key: key, Err: err}
	}
	s, err := c.proc.Process(slab, frame.OverlayValues(key.Overlay))
	if err != nil {
		return nil, &frame.ProcessingError{Key: key, Err: err}
	}
	if oc, ok := c.proc.(vvm.OverlayComposer); ok {
		// Companions are attached before the slice enters the cache,
		// so the cached payload is complete and still immutable.
		if err := oc.Compose(ctx, c.access, sim, key, s); err != nil {
			return nil, &frame.DataUnavailableError{Key: key, Err: err}
		}
	}
	c.frames.Put(key, s, s.SizeBytes())
	observability.ObserveFrameLoad(time.Since(start).Seconds())
	return s, nil
}

// finish publishes the result to waiters and retires the in-flight
// slot. Result fields are set before done closes, so waiters always
// observe them.
func (c *Coordinator) finish(key frame.SliceKey, cl *call, s *frame.Slice, err error) {
	cl.slice, cl.err = s, err
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)
}

// notify derives the playback direction from the previous served key
// and informs the scheduler. Fire-and-forget: Notify is non-blocking
// by contract.
func (c *Coordinator) notify(key frame.SliceKey) {
	c.mu.Lock()
	dir := frame.Stationary
	if c.hasLast && key.SameAxis(c.lastKey) {
		switch {
		case key.TimeIndex > c.lastKey.TimeIndex:
			dir = frame.Forward
		case key.TimeIndex < c.lastKey.TimeIndex:
			dir = frame.Backward
		}
	}
	c.lastKey = key
	c.hasLast = true
	sched := c.sched
	c.mu.Unlock()

	if sched != nil {
		sched.Notify(key, dir)
	}
}
