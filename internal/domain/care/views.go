package care

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lunysse/lunysse/internal/platform/refresh"
)

// FetchSnapshot loads a practitioner's appointments, patients and requests
// concurrently. Any failure fails the whole snapshot.
func FetchSnapshot(ctx context.Context, store Store, practitionerID uuid.UUID, now func() time.Time) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := store.ListAppointments(gctx, practitionerID)
		snap.Appointments = items
		return classify("list appointments", err)
	})
	g.Go(func() error {
		items, err := store.ListPatients(gctx, practitionerID)
		snap.Patients = items
		return classify("list patients", err)
	})
	g.Go(func() error {
		items, err := store.ListRequests(gctx, practitionerID)
		snap.Requests = items
		return classify("list requests", err)
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.FetchedAt = now()
	return snap, nil
}

// Registry defaults.
const (
	DefaultViewIdleTimeout         = time.Minute
	DefaultMaxViewsPerPractitioner = 10
)

// View is a practitioner's live dashboard. Its snapshot is refreshed by a
// refresh.Scheduler until the view is detached or left idle too long.
type View struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	AttachedAt     time.Time `json:"attached_at"`

	handle *refresh.Handle
	clock  func() time.Time

	mu         sync.RWMutex
	snap       Snapshot
	generation uint64
	loaded     bool
	lastSeen   time.Time
}

func (v *View) touch() {
	v.mu.Lock()
	v.lastSeen = v.clock()
	v.mu.Unlock()
}

// LastSeen returns when a client last read or focused the view.
func (v *View) LastSeen() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeen
}

func (v *View) set(gen uint64, snap Snapshot) {
	v.mu.Lock()
	v.snap = snap
	v.generation = gen
	v.loaded = true
	v.mu.Unlock()
}

// Snapshot returns the latest applied snapshot and its generation.
func (v *View) Snapshot() (Snapshot, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap, v.generation
}

// Loaded reports whether the first fetch has been applied.
func (v *View) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Dashboard aggregates the latest snapshot.
func (v *View) Dashboard(now time.Time, search string) Dashboard {
	snap, _ := v.Snapshot()
	return Aggregate(snap, v.PractitionerID, now, search)
}

// Focus asks for an immediate out-of-band refresh.
func (v *View) Focus() {
	v.touch()
	v.handle.Focus()
}

// ViewOption configures a ViewRegistry.
type ViewOption func(*ViewRegistry)

// WithIdleTimeout sets how long a view may go without Get or Focus before
// it is detached. Non-positive values are ignored.
func WithIdleTimeout(d time.Duration) ViewOption {
	return func(r *ViewRegistry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMaxViews caps the views one practitioner may hold. Attaching past the
// cap detaches that practitioner's least recently seen view. Non-positive
// values are ignored.
func WithMaxViews(n int) ViewOption {
	return func(r *ViewRegistry) {
		if n > 0 {
			r.maxViews = n
		}
	}
}

// WithClock replaces time.Now for snapshots and idle tracking.
func WithClock(now func() time.Time) ViewOption {
	return func(r *ViewRegistry) { r.now = now }
}

// ViewRegistry tracks attached dashboard views and detaches idle ones.
type ViewRegistry struct {
	store       Store
	logger      zerolog.Logger
	interval    time.Duration
	idleTimeout time.Duration
	maxViews    int
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	reaperDone  chan struct{}

	mu    sync.RWMutex
	views map[uuid.UUID]*View
}

// NewViewRegistry creates a registry whose views poll every interval. A
// background loop detaches views idle for longer than the idle timeout.
func NewViewRegistry(store Store, interval time.Duration, logger zerolog.Logger, opts ...ViewOption) *ViewRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ViewRegistry{
		store:       store,
		logger:      logger,
		interval:    interval,
		idleTimeout: DefaultViewIdleTimeout,
		maxViews:    DefaultMaxViewsPerPractitioner,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		reaperDone:  make(chan struct{}),
		views:       make(map[uuid.UUID]*View),
	}
	for _, fn := range opts {
		fn(r)
	}
	go r.reapLoop()
	return r
}

// reapLoop periodically detaches idle views until the registry is closed.
func (r *ViewRegistry) reapLoop() {
	defer close(r.reaperDone)
	ticker := time.NewTicker(r.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

// reap detaches every view idle for longer than the idle timeout and
// returns how many were detached.
func (r *ViewRegistry) reap() int {
	cutoff := r.now().Add(-r.idleTimeout)
	var idle []*View
	r.mu.Lock()
	for id, v := range r.views {
		if v.LastSeen().Before(cutoff) {
			idle = append(idle, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range idle {
		v.handle.Stop()
		r.logger.Info().
			Str("view_id", v.ID.String()).
			Str("practitioner_id", v.PractitionerID.String()).
			Time("last_seen", v.LastSeen()).
			Msg("idle dashboard view detached")
	}
	return len(idle)
}

// Attach starts a refreshing view for the practitioner. The view lives
// until Detach or Close, independent of any request context. The first
// fetch is issued before Attach returns but may still be in flight.
func (r *ViewRegistry) Attach(practitionerID uuid.UUID) *View {
	now := r.now()
	v := &View{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		AttachedAt:     now,
		clock:          r.now,
		lastSeen:       now,
	}
	sched := refresh.New(
		func(ctx context.Context) (Snapshot, error) {
			return FetchSnapshot(ctx, r.store, practitionerID, r.now)
		},
		v.set,
		refresh.WithInterval(r.interval),
		refresh.WithLogger(r.logger),
		refresh.WithName("dashboard:"+v.ID.String()),
	)
	v.handle = sched.Start(r.ctx)

	r.mu.Lock()
	evicted := r.evictLocked(practitionerID)
	r.views[v.ID] = v
	r.mu.Unlock()

	if evicted != nil {
		evicted.handle.Stop()
		r.logger.Info().
			Str("view_id", evicted.ID.String()).
			Str("practitioner_id", practitionerID.String()).
			Int("max_views", r.maxViews).
			Msg("dashboard view limit reached, oldest view detached")
	}

	r.logger.Info().
		Str("view_id", v.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Dur("interval", sched.Interval()).
		Msg("dashboard view attached")
	return v
}

// evictLocked removes the practitioner's least recently seen view when the
// practitioner is at the cap. r.mu must be held.
func (r *ViewRegistry) evictLocked(practitionerID uuid.UUID) *View {
	var (
		count  int
		oldest *View
	)
	for _, v := range r.views {
		if v.PractitionerID != practitionerID {
			continue
		}
		count++
		if oldest == nil || v.LastSeen().Before(oldest.LastSeen()) {
			oldest = v
		}
	}
	if count < r.maxViews {
		return nil
	}
	delete(r.views, oldest.ID)
	return oldest
}

// Get returns an attached view and marks it as seen.
func (r *ViewRegistry) Get(id uuid.UUID) (*View, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	v.touch()
	return v, nil
}

// Detach stops the view's refresh loop and forgets it.
func (r *ViewRegistry) Detach(id uuid.UUID) error {
	r.mu.Lock()
	v, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}
	v.handle.Stop()
	r.logger.Info().Str("view_id", id.String()).Msg("dashboard view detached")
	return nil
}

// Len returns the number of attached views.
func (r *ViewRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Close detaches every view and stops the idle reaper.
func (r *ViewRegistry) Close() {
	r.mu.Lock()
	views := r.views
	r.views = make(map[uuid.UUID]*View)
	r.mu.Unlock()
	for _, v := range views {
		v.handle.Stop()
	}
	r.cancel()
	<-r.reaperDone
}
