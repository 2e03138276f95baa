// Package prefetch warms the frame cache along the playback axis.
// The scheduler consumes position notifications from the request path,
// expands them into candidate keys ahead of the viewer and hands the
// candidates to a bounded worker pool.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/observability"
)

// Loader is the cache-side surface the scheduler drives. Cached and
// InFlight are cheap membership probes; Prefetch does the actual work.
type Loader interface {
	Cached(key frame.SliceKey) bool
	InFlight(key frame.SliceKey) bool
	Prefetch(ctx context.Context, key frame.SliceKey) error
}

type Config struct {
	// Depth is how many frames ahead of the current position to warm.
	// Zero disables look-ahead entirely; notifications are consumed
	// and dropped.
	Depth int
	// Concurrency bounds the number of simultaneous prefetch loads.
	Concurrency int
	// Queue bounds both the notification inbox and the task queue.
	// When either is full new work is dropped, never blocked on.
	Queue int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Depth < 0 {
		out.Depth = 0
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.Queue <= 0 {
		out.Queue = 16
	}
	return out
}

type notice struct {
	key frame.SliceKey
	dir frame.Direction
}

type task struct {
	key frame.SliceKey
	gen uint64
}

// Scheduler owns one planner goroutine and Concurrency workers.
// Notify never blocks; everything downstream is bounded and lossy.
type Scheduler struct {
	cfg    Config
	loader Loader
	logger *slog.Logger

	notices chan notice
	tasks   chan task
	gen     atomic.Uint64 // bumped on reversal; stale tasks are cancelled
	horizon atomic.Int64  // time steps in the active dataset, 0 = unknown

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(loader Loader, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		loader:  loader,
		logger:  logger,
		notices: make(chan notice, cfg.Queue),
		tasks:   make(chan task, cfg.Queue),
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.plan(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
	return s
}

// SetHorizon tells the scheduler how many time steps the active
// dataset holds, so it never queues candidates past the end. Call it
// again after a dataset switch.
func (s *Scheduler) SetHorizon(steps int) {
	s.horizon.Store(int64(steps))
}

// Notify records the viewer's position. Called on the request path, so
// it drops rather than blocks when the inbox is full; the next frame
// request carries fresher information anyway.
func (s *Scheduler) Notify(key frame.SliceKey, dir frame.Direction) {
	select {
	case s.notices <- notice{key: key, dir: dir}:
	default:
		observability.IncPrefetch("dropped")
	}
}

// Close stops the planner and workers. Queued candidates are
// abandoned; an in-flight load observes context cancellation.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) plan(ctx context.Context) {
	defer s.wg.Done()
	lastDir := frame.Stationary
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notices:
			if reversed(lastDir, n.dir) {
				s.gen.Add(1)
				s.logger.Debug("playback reversed, cancelling queued prefetch",
					"dir", n.dir.String())
			}
			if n.dir != frame.Stationary {
				lastDir = n.dir
			}
			s.expand(n)
		}
	}
}

// reversed reports a direction flip. Stationary is not a flip either
// way: landing on a frame keeps whatever momentum the queue has.
func reversed(prev, cur frame.Direction) bool {
	if prev == frame.Stationary || cur == frame.Stationary {
		return false
	}
	return prev != cur
}

// expand turns one position notice into up to Depth candidate tasks
// walking the time axis in the playback direction.
func (s *Scheduler) expand(n notice) {
	gen := s.gen.Load()
	horizon := int(s.horizon.Load())
	step := n.dir.Step()
	for i := 1; i <= s.cfg.Depth; i++ {
		t := n.key.TimeIndex + i*step
		if t < 0 || (horizon > 0 && t >= horizon) {
			break
		}
		key := n.key.WithTimeIndex(t)
		if s.loader.Cached(key) || s.loader.InFlight(key) {
			observability.IncPrefetch("skipped")
			continue
		}
		select {
		case s.tasks <- task{key: key, gen: gen}:
		default:
			observability.IncPrefetch("dropped")
		}
	}
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tk := <-s.tasks:
			if tk.gen != s.gen.Load() {
				observability.IncPrefetch("cancelled")
				continue
			}
			if err := s.loader.Prefetch(ctx, tk.key); err != nil {
				observability.IncPrefetch("failure")
				s.logger.Warn("prefetch failed", "key", tk.key.String(), "err", err)
				continue
			}
			observability.IncPrefetch("success")
		}
	}
}
