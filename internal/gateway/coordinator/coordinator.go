// Package coordinator makes concurrent requests for the same cache key share
// a single render.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/edgecomet/mediacache/internal/gateway/cache"
	"github.com/edgecomet/mediacache/pkg/types"
)

const shardCount = 32

var (
	ErrShuttingDown = errors.New("coordinator is shutting down")
	ErrRenderPanic  = errors.New("render panicked")
)

// Cache is the subset of the content cache the coordinator needs
type Cache interface {
	Exists(key string) bool
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
}

// Observer receives render lifecycle events, typically the metrics collector
type Observer interface {
	ObserveRender(duration time.Duration, err error)
	ObserveSlotWait(duration time.Duration)
	SetPendingRenders(n int)
}

// RenderFunc produces the bytes for a key. It runs at most once per pending
// render and its context is detached from any single client.
type RenderFunc func(ctx context.Context) ([]byte, error)

// Outcome tells the caller how its result was produced
type Outcome int

const (
	OutcomeHit    Outcome = iota // served from cache
	OutcomeLed                   // this caller started the render
	OutcomeJoined                // this caller waited on another caller's render
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeLed:
		return "led"
	case OutcomeJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Result is what every caller for a key receives
type Result struct {
	Bytes      []byte
	Outcome    Outcome
	RenderTime time.Duration // zero for cache hits
}

// rendered is the shared value every caller of one flight receives
type rendered struct {
	bytes      []byte
	renderTime time.Duration
	cached     bool // published by another path before the render started
}

// pendingKey tracks callers of a key. rendering is true only while the
// flight's function runs, so a caller that observes it is certain to join.
type pendingKey struct {
	rendering bool
	waiters   int
}

type shard struct {
	mu      sync.Mutex
	pending map[string]*pendingKey
}

// Config sizes the coordinator
type Config struct {
	Slots         int           // concurrent renders allowed
	RenderTimeout time.Duration // per render, excluding slot wait; zero disables
}

// Coordinator guarantees at most one in-flight render per key
type Coordinator struct {
	cache    Cache
	slots    *semaphore.Weighted
	timeout  time.Duration
	observer Observer
	logger   *zap.Logger

	group  singleflight.Group
	shards [shardCount]shard

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// New creates a coordinator. observer may be nil.
func New(cfg Config, store Cache, observer Observer, logger *zap.Logger) (*Coordinator, error) {
	if cfg.Slots < 1 {
		return nil, fmt.Errorf("render slots must be at least 1, got %d", cfg.Slots)
	}
	if store == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if observer == nil {
		observer = noopObserver{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cache:      store,
		slots:      semaphore.NewWeighted(int64(cfg.Slots)),
		timeout:    cfg.RenderTimeout,
		observer:   observer,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	for i := range c.shards {
		c.shards[i].pending = make(map[string]*pendingKey)
	}

	return c, nil
}

// GetOrRender returns the cached bytes for key or renders them exactly once
// across all concurrent callers.
//
// release frees resources owned by this caller's request (may be nil). It is
// called exactly once: after the render when this caller leads it, right away
// when it joins a running render, and otherwise once the shared result is in,
// even if ctx ends first.
//
// A failed read after the cache reported a hit is returned as types.ErrCacheIO
// and never falls back to rendering.
func (c *Coordinator) GetOrRender(ctx context.Context, key string, render RenderFunc, release func()) (*Result, error) {
	if release == nil {
		release = func() {}
	}

	if c.cache.Exists(key) {
		release()
		data, err := c.cache.Read(key)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", types.ErrCacheIO, key, err)
		}
		return &Result{Bytes: data, Outcome: OutcomeHit}, nil
	}

	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		release()
		return nil, ErrShuttingDown
	}
	c.wg.Add(1)

	var led atomic.Bool
	s := c.shardFor(key)
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		p = &pendingKey{}
		s.pending[key] = p
	}
	p.waiters++
	joined := p.rendering
	// DoChan only registers the call, so holding the shard lock keeps the
	// rendering flag and the flight in step. The flight runs in its own
	// goroutine and outlives any single caller.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		led.Store(true)
		defer release()
		return c.run(key, render)
	})
	s.mu.Unlock()
	c.closeMu.RUnlock()

	if joined {
		release()
		c.logger.Debug("Joined in-flight render", zap.String("cache_key", key))
	}

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The flight keeps running for the remaining waiters and the cache
		go func() {
			<-ch
			c.settle(key, joined, led.Load(), release)
		}()
		return nil, ctx.Err()
	}
	isLeader := led.Load()
	c.settle(key, joined, isLeader, release)

	if res.Err != nil {
		return nil, res.Err
	}
	out := res.Val.(rendered)
	outcome := OutcomeJoined
	switch {
	case out.cached:
		outcome = OutcomeHit
	case isLeader:
		outcome = OutcomeLed
	}
	return &Result{Bytes: out.bytes, Outcome: outcome, RenderTime: out.renderTime}, nil
}

// settle drops one caller of key once its flight has resolved
func (c *Coordinator) settle(key string, joined, led bool, release func()) {
	defer c.wg.Done()
	if !joined && !led {
		release()
	}

	s := c.shardFor(key)
	s.mu.Lock()
	if p, ok := s.pending[key]; ok {
		p.waiters--
		if p.waiters <= 0 && !p.rendering {
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()
}

// run is the body of one flight, executed on behalf of every caller of key
func (c *Coordinator) run(key string, render RenderFunc) (rendered, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		p = &pendingKey{}
		s.pending[key] = p
	}
	p.rendering = true
	s.mu.Unlock()
	c.observer.SetPendingRenders(c.Pending())

	out, err := c.produce(key, render)

	s.mu.Lock()
	p.rendering = false
	waiters := p.waiters
	if waiters <= 0 {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	c.observer.SetPendingRenders(c.Pending())

	if err != nil {
		c.logger.Warn("Render failed",
			zap.String("cache_key", key),
			zap.Int("waiters", waiters),
			zap.Error(err))
		return rendered{}, err
	}
	c.logger.Debug("Render resolved",
		zap.String("cache_key", key),
		zap.Int("waiters", waiters),
		zap.Bool("cached", out.cached),
		zap.Duration("render_time", out.renderTime))
	return out, nil
}

func (c *Coordinator) produce(key string, render RenderFunc) (rendered, error) {
	waitStart := time.Now()
	if err := c.slots.Acquire(c.baseCtx, 1); err != nil {
		return rendered{}, ErrShuttingDown
	}
	defer c.slots.Release(1)
	c.observer.ObserveSlotWait(time.Since(waitStart))

	// Another path may have published the key while this flight waited
	if c.cache.Exists(key) {
		data, err := c.cache.Read(key)
		if err != nil {
			return rendered{}, fmt.Errorf("%w: reading %s: %v", types.ErrCacheIO, key, err)
		}
		return rendered{bytes: data, cached: true}, nil
	}

	ctx := c.baseCtx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := safeRender(ctx, render)
	renderTime := time.Since(start)
	c.observer.ObserveRender(renderTime, err)
	if err != nil {
		return rendered{}, err
	}

	if err := c.cache.Write(key, data); err != nil && !errors.Is(err, cache.ErrAlreadyExists) {
		c.logger.Error("Failed to write cache entry",
			zap.String("cache_key", key),
			zap.Error(err))
		return rendered{}, fmt.Errorf("%w: writing %s: %v", types.ErrCacheIO, key, err)
	}

	return rendered{bytes: data, renderTime: renderTime}, nil
}

func safeRender(ctx context.Context, render RenderFunc) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrRenderPanic, r, debug.Stack())
		}
	}()
	return render(ctx)
}

// Pending returns the number of in-flight renders
func (c *Coordinator) Pending() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, p := range s.pending {
			if p.rendering {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Shutdown rejects new renders and waits for in-flight ones. When ctx expires
// first, running renders are cancelled and ctx.Err() is returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.cancelBase()
		return nil
	case <-ctx.Done():
		c.logger.Warn("Cancelling in-flight renders", zap.Int("pending", c.Pending()))
		c.cancelBase()
		<-finished
		return ctx.Err()
	}
}

func (c *Coordinator) shardFor(key string) *shard {
	return &c.shards[xxhash.Sum64String(key)%shardCount]
}

type noopObserver struct{}

func (noopObserver) ObserveRender(time.Duration, error) {}
func (noopObserver) ObserveSlotWait(time.Duration)      {}
func (noopObserver) SetPendingRenders(int)              {}
