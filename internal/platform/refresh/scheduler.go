// Package refresh keeps a snapshot current by polling. A Scheduler fetches
// once on start, again on every tick, and again whenever the owner signals
// focus. Every fetch is tagged with a monotonic generation and only results
// newer than the last applied one reach the apply callback, so a slow fetch
// can never overwrite a fresher snapshot.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 5 * time.Second

// FetchFunc loads a fresh value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// ApplyFunc receives a fetched value together with its generation. Calls
// are serialized and generations strictly increase.
type ApplyFunc[T any] func(gen uint64, v T)

// Trigger identifies what started a fetch.
type Trigger string

const (
	TriggerStart Trigger = "start"
	TriggerTick  Trigger = "tick"
	TriggerFocus Trigger = "focus"
)

type options struct {
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

// Option configures a Scheduler.
type Option func(*options)

// WithInterval sets the polling period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName tags log lines emitted by the scheduler.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Scheduler runs fetch on start, on a fixed interval, and on focus.
type Scheduler[T any] struct {
	fetch FetchFunc[T]
	apply ApplyFunc[T]
	opts  options

	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// New creates a Scheduler. It does nothing until Start is called.
func New[T any](fetch FetchFunc[T], apply ApplyFunc[T], opts ...Option) *Scheduler[T] {
	o := options{interval: DefaultInterval, logger: zerolog.Nop(), name: "refresh"}
	for _, fn := range opts {
		fn(&o)
	}
	return &Scheduler[T]{fetch: fetch, apply: apply, opts: o}
}

// Interval returns the configured polling period.
func (s *Scheduler[T]) Interval() time.Duration { return s.opts.interval }

// Applied returns the generation of the last applied result, 0 if none.
func (s *Scheduler[T]) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Start performs an immediate fetch and begins polling. The returned Handle
// must be stopped by the caller; cancelling ctx stops it as well.
func (s *Scheduler[T]) Start(ctx context.Context) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ctx:    loopCtx,
		cancel: cancel,
		focus:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	// Fetches outlive Stop: a fetch already issued runs to completion, but
	// its result is dropped.
	fetchCtx := context.WithoutCancel(ctx)

	s.trigger(fetchCtx, h, TriggerStart)
	go s.loop(loopCtx, fetchCtx, h)
	return h
}

func (s *Scheduler[T]) loop(ctx, fetchCtx context.Context, h *Handle) {
	defer close(h.done)
	ticker := time.NewTicker(s.opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(fetchCtx, h, TriggerTick)
		case <-h.focus:
			s.trigger(fetchCtx, h, TriggerFocus)
		}
	}
}

func (s *Scheduler[T]) trigger(ctx context.Context, h *Handle, why Trigger) {
	s.mu.Lock()
	s.issued++
	gen := s.issued
	s.mu.Unlock()

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		v, err := s.fetch(ctx)
		if err != nil {
			s.opts.logger.Warn().Err(err).
				Str("scheduler", s.opts.name).
				Str("trigger", string(why)).
				Uint64("generation", gen).
				Msg("refresh fetch failed")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if h.ctx.Err() != nil {
			s.opts.logger.Debug().
				Str("scheduler", s.opts.name).
				Uint64("generation", gen).
				Msg("discarding refresh result after stop")
			return
		}
		if gen <= s.applied {
			s.opts.logger.Debug().
				Str("scheduler", s.opts.name).
				Uint64("generation", gen).
				Uint64("applied", s.applied).
				Msg("discarding stale refresh result")
			return
		}
		s.applied = gen
		s.apply(gen, v)
	}()
}

// Handle controls a running Scheduler.
type Handle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	focus    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// Focus requests an out-of-band fetch without resetting the tick phase.
// Signals arriving while one is already queued are coalesced.
func (h *Handle) Focus() {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.focus <- struct{}{}:
	default:
	}
}

// Stop cancels the ticker and the focus listener together and waits for
// the polling loop to exit. Once Stop returns, apply is not called again.
// It is safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the polling loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until every issued fetch has finished. Call it after Stop.
func (h *Handle) Wait() { h.inflight.Wait() }
