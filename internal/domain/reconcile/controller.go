package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/project"
	"marketdash/internal/pkg/metrics"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultPassTimeout  = 15 * time.Second
	defaultIdleTTL      = 30 * time.Minute
)

// Part names used in View.PartErrors and metrics.
const (
	PartMilestones  = "milestones"
	PartTasks       = "tasks"
	PartTimeEntries = "time_entries"
	PartApprovals   = "approvals"
	PartInvoice     = "invoice"
)

type Options struct {
	FetchTimeout time.Duration
	PassTimeout  time.Duration
	Location     *time.Location
	Now          func() time.Time
	Logger       *zap.Logger

	// IdleTTL is how long an unfollowed booking keeps its cached view after
	// its last read or pass before EvictIdle drops it.
	IdleTTL time.Duration
}

// Listener receives every view the controller makes visible, optimistic ones
// included. Called without the controller lock held.
type Listener func(View)

type bookingState struct {
	gen      uint64
	cancel   context.CancelFunc
	latest   *pass
	snapshot *Snapshot
	view     *View
	lastUsed time.Time

	// skipped is the malformed-record count already reported to metrics
	skipped int

	followers  int
	stopFollow context.CancelFunc
}

// pass is the outcome of one Reconcile call; done closes once view/err are set.
type pass struct {
	done chan struct{}
	view *View
	err  error
}

func (p *pass) finish(view *View, err error) {
	p.view, p.err = view, err
	close(p.done)
}

// idle reports whether nothing holds the state: no follower, no pass in flight.
func (st *bookingState) idle() bool {
	return st.followers == 0 && st.cancel == nil
}

// Controller is the only stateful piece of the engine: it caches the latest
// snapshot and view per booking and re-derives them on every change. Passes
// for the same booking supersede each other; only the newest result is applied.
type Controller struct {
	store        Store
	feed         Feed
	logger       *zap.Logger
	now          func() time.Time
	loc          *time.Location
	fetchTimeout time.Duration
	passTimeout  time.Duration
	idleTTL      time.Duration

	mu        sync.Mutex
	bookings  map[int64]*bookingState
	listeners []Listener
}

func NewController(store Store, f Feed, opts Options) *Controller {
	c := &Controller{
		store:        store,
		feed:         f,
		logger:       opts.Logger,
		now:          opts.Now,
		loc:          opts.Location,
		fetchTimeout: opts.FetchTimeout,
		passTimeout:  opts.PassTimeout,
		idleTTL:      opts.IdleTTL,
		bookings:     make(map[int64]*bookingState),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}
	if c.passTimeout <= 0 {
		c.passTimeout = defaultPassTimeout
	}
	if c.idleTTL <= 0 {
		c.idleTTL = defaultIdleTTL
	}
	return c
}

func (c *Controller) OnView(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) state(bookingID int64) *bookingState {
	st, ok := c.bookings[bookingID]
	if !ok {
		st = &bookingState{}
		c.bookings[bookingID] = st
	}
	return st
}

// View returns the cached view, or ErrNoData if the booking has never been
// reconciled successfully.
func (c *Controller) View(bookingID int64) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.bookings[bookingID]
	if !ok || st.view == nil {
		return nil, ErrNoData
	}
	st.lastUsed = c.now()
	v := *st.view
	return &v, nil
}

// ViewOrReconcile serves the cached view and only reconciles on a cold cache.
// A cold read that gets superseded by a concurrent pass waits for that pass
// instead of failing.
func (c *Controller) ViewOrReconcile(ctx context.Context, bookingID int64) (*View, error) {
	if v, err := c.View(bookingID); err == nil {
		return v, nil
	}
	v, err := c.Reconcile(ctx, bookingID)
	if errors.Is(err, ErrStaleReconciliation) {
		return c.AwaitLatest(ctx, bookingID)
	}
	return v, err
}

// AwaitLatest blocks until the newest pass for bookingID has finished and
// returns its outcome, following further supersessions. With no pass on
// record it falls back to the cached view.
func (c *Controller) AwaitLatest(ctx context.Context, bookingID int64) (*View, error) {
	for {
		c.mu.Lock()
		var p *pass
		if st, ok := c.bookings[bookingID]; ok {
			p = st.latest
		}
		c.mu.Unlock()
		if p == nil {
			return c.View(bookingID)
		}

		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(p.err, ErrStaleReconciliation):
			continue
		case p.err != nil:
			return nil, p.err
		}
		v := *p.view
		return &v, nil
	}
}

// Evict drops the cached state for bookingID unless it is followed or a pass
// is in flight. It reports whether anything was removed.
func (c *Controller) Evict(bookingID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.bookings[bookingID]
	if !ok || !st.idle() {
		return false
	}
	delete(c.bookings, bookingID)
	return true
}

// EvictIdle drops every idle booking not read or reconciled within IdleTTL.
func (c *Controller) EvictIdle() int {
	cutoff := c.now().Add(-c.idleTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, st := range c.bookings {
		if st.idle() && st.lastUsed.Before(cutoff) {
			delete(c.bookings, id)
			n++
		}
	}
	if n > 0 {
		metrics.CachedBookings.Set(float64(len(c.bookings)))
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx ends.
func (c *Controller) RunEviction(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictIdle(); n > 0 {
				c.logger.Debug("evicted idle bookings", zap.Int("count", n))
			}
		}
	}
}

// Reconcile re-fetches every part of the booking and recomputes the view.
// An in-flight pass for the same booking is cancelled; if this pass is itself
// superseded before it finishes it returns ErrStaleReconciliation and its
// result is dropped.
func (c *Controller) Reconcile(ctx context.Context, bookingID int64) (*View, error) {
	started := time.Now()
	passID := uuid.NewString()

	c.mu.Lock()
	st := c.state(bookingID)
	if st.cancel != nil {
		st.cancel()
	}
	st.gen++
	gen := st.gen
	passCtx, cancel := context.WithTimeout(ctx, c.passTimeout)
	st.cancel = cancel
	p := &pass{done: make(chan struct{})}
	st.latest = p
	st.lastUsed = c.now()
	var prev *Snapshot
	if st.snapshot != nil {
		prev = st.snapshot.clone()
	}
	c.mu.Unlock()
	defer cancel()

	log := c.logger.With(zap.Int64("booking_id", bookingID), zap.String("pass_id", passID))

	snap, partErrs, err := c.fetch(passCtx, bookingID, prev)

	c.mu.Lock()
	if st.gen != gen {
		c.mu.Unlock()
		metrics.StalePassesDiscarded.Inc()
		metrics.RecordPass("stale", time.Since(started))
		log.Debug("reconciliation superseded, result discarded")
		p.finish(nil, ErrStaleReconciliation)
		return nil, ErrStaleReconciliation
	}
	st.cancel = nil
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			st.snapshot, st.view = nil, nil
			if st.followers == 0 {
				delete(c.bookings, bookingID)
			}
		}
		metrics.CachedBookings.Set(float64(len(c.bookings)))
		p.finish(nil, err)
		c.mu.Unlock()
		metrics.RecordPass("failed", time.Since(started))
		log.Warn("reconciliation failed", zap.Error(err))
		return nil, err
	}

	view := Compose(snap, c.now(), c.loc)
	view.PassID = passID
	if len(partErrs) > 0 {
		view.PartErrors = partErrs
	}
	st.snapshot = snap
	st.view = &view
	newlySkipped := view.Skipped - st.skipped
	st.skipped = view.Skipped
	result := view
	p.finish(&result, nil)
	metrics.CachedBookings.Set(float64(len(c.bookings)))
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	metrics.RecordPass("applied", time.Since(started))
	metrics.RecordSkipped(newlySkipped)
	log.Debug("reconciliation applied",
		zap.String("state", string(view.Status.State)),
		zap.Int("milestones", len(view.Milestones)),
		zap.Int("skipped", view.Skipped),
		zap.Int("part_errors", len(partErrs)),
	)

	for _, l := range listeners {
		l(view)
	}
	out := view
	return &out, nil
}

// fetch reads each part independently under its own timeout. A failed part
// falls back to the previous snapshot's copy and is reported in partErrs; only
// a failed booking read fails the whole pass.
func (c *Controller) fetch(ctx context.Context, bookingID int64, prev *Snapshot) (*Snapshot, map[string]string, error) {
	var (
		booking    *project.Booking
		milestones []project.Milestone
		tasks      []project.Task
		entries    []project.TimeEntry
		approvals  []project.ApprovalRequest
		invoice    *project.Invoice

		bookingErr, milestonesErr, tasksErr, entriesErr, approvalsErr, invoiceErr error
	)

	run := func(g *errgroup.Group, target *error, fn func(ctx context.Context) error) {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
			defer cancel()
			*target = fn(fctx)
			return nil
		})
	}

	var g errgroup.Group
	run(&g, &bookingErr, func(ctx context.Context) (err error) {
		booking, err = c.store.GetBooking(ctx, bookingID)
		return err
	})
	run(&g, &milestonesErr, func(ctx context.Context) (err error) {
		milestones, err = c.store.ListMilestones(ctx, bookingID)
		return err
	})
	run(&g, &tasksErr, func(ctx context.Context) (err error) {
		tasks, err = c.store.ListTasks(ctx, bookingID)
		return err
	})
	run(&g, &entriesErr, func(ctx context.Context) (err error) {
		entries, err = c.store.ListTimeEntries(ctx, bookingID)
		return err
	})
	run(&g, &approvalsErr, func(ctx context.Context) (err error) {
		approvals, err = c.store.ListApprovals(ctx, bookingID)
		return err
	})
	run(&g, &invoiceErr, func(ctx context.Context) (err error) {
		invoice, err = c.store.GetInvoice(ctx, bookingID)
		return err
	})
	_ = g.Wait()

	if bookingErr != nil {
		metrics.RecordFetchFailure("booking")
		if errors.Is(bookingErr, project.ErrNotFound) {
			return nil, nil, fmt.Errorf("booking %d: %w", bookingID, project.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: booking %d: %w", ErrStoreUnavailable, bookingID, bookingErr)
	}
	if booking == nil {
		return nil, nil, fmt.Errorf("booking %d: %w", bookingID, project.ErrNotFound)
	}

	if prev == nil {
		prev = &Snapshot{}
	}
	snap := &Snapshot{Booking: *booking}
	partErrs := make(map[string]string)
	fail := func(part string, err error) {
		metrics.RecordFetchFailure(part)
		partErrs[part] = err.Error()
		c.logger.Warn("part fetch failed, keeping last fetched copy",
			zap.Int64("booking_id", bookingID),
			zap.String("part", part),
			zap.Error(err),
		)
	}

	if milestonesErr != nil {
		fail(PartMilestones, milestonesErr)
		snap.Milestones = prev.Milestones
	} else {
		snap.Milestones = milestones
	}
	if tasksErr != nil {
		fail(PartTasks, tasksErr)
		snap.Tasks = prev.Tasks
	} else {
		snap.Tasks = tasks
	}
	if entriesErr != nil {
		fail(PartTimeEntries, entriesErr)
		snap.TimeEntries = prev.TimeEntries
	} else {
		snap.TimeEntries = entries
	}
	if approvalsErr != nil {
		fail(PartApprovals, approvalsErr)
		snap.Approvals = prev.Approvals
	} else {
		snap.Approvals = approvals
	}
	if invoiceErr != nil {
		fail(PartInvoice, invoiceErr)
		snap.Invoice = prev.Invoice
	} else {
		snap.Invoice = invoice
	}
	return snap, partErrs, nil
}

// Mutate applies an optimistic edit to the cached snapshot (if any) and shows
// it immediately, runs write against the store, publishes a change event and
// then reconciles. The reconciling pass runs even when write fails so a
// rejected optimistic edit is rolled back; the write error is returned.
func (c *Controller) Mutate(
	ctx context.Context,
	bookingID int64,
	entity feed.EntityType,
	kind feed.ChangeKind,
	optimistic func(*Snapshot),
	write func(ctx context.Context) error,
) (*View, error) {
	if optimistic != nil {
		c.applyOptimistic(bookingID, optimistic)
	}

	writeErr := write(ctx)
	if writeErr == nil && c.feed != nil {
		ev := feed.ChangeEvent{BookingID: bookingID, Entity: entity, Kind: kind, At: c.now().UTC()}
		if err := c.feed.Publish(ctx, ev); err != nil {
			c.logger.Warn("change event publish failed",
				zap.Int64("booking_id", bookingID),
				zap.String("entity", string(entity)),
				zap.Error(err),
			)
		}
	}

	view, err := c.Reconcile(ctx, bookingID)
	if writeErr != nil {
		return view, writeErr
	}
	return view, err
}

func (c *Controller) applyOptimistic(bookingID int64, edit func(*Snapshot)) {
	c.mu.Lock()
	st, ok := c.bookings[bookingID]
	if !ok || st.snapshot == nil {
		c.mu.Unlock()
		return
	}
	snap := st.snapshot.clone()
	edit(snap)
	view := Compose(snap, c.now(), c.loc)
	view.Optimistic = true
	if st.view != nil {
		view.PassID = st.view.PassID
	}
	st.view = &view
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(view)
	}
}

// HandleChange reacts to one feed event. The pass runs in its own goroutine
// so a burst of events supersedes rather than queues.
func (c *Controller) HandleChange(ctx context.Context, ev feed.ChangeEvent) {
	go func() {
		_, err := c.Reconcile(ctx, ev.BookingID)
		switch {
		case err == nil, errors.Is(err, ErrStaleReconciliation), ctx.Err() != nil:
		default:
			c.logger.Warn("feed-triggered reconciliation failed",
				zap.Int64("booking_id", ev.BookingID),
				zap.String("entity", string(ev.Entity)),
				zap.Error(err),
			)
		}
	}()
}

// Watch subscribes to the feed for bookingID and reconciles on every event
// until ctx ends or the feed closes.
func (c *Controller) Watch(ctx context.Context, bookingID int64) error {
	if c.feed == nil {
		return errors.New("reconcile: no change feed configured")
	}
	events, err := c.feed.Subscribe(ctx, bookingID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return feed.ErrClosed
			}
			metrics.RecordFeedEvent(string(ev.Entity))
			c.HandleChange(ctx, ev)
		}
	}
}

// Follow keeps one feed watcher alive per booking for as long as at least one
// caller holds it. The returned release must be called exactly once.
func (c *Controller) Follow(bookingID int64) (release func()) {
	c.mu.Lock()
	st := c.state(bookingID)
	st.followers++
	if st.followers == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		st.stopFollow = cancel
		go func() {
			if err := c.Watch(ctx, bookingID); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("change feed watch ended", zap.Int64("booking_id", bookingID), zap.Error(err))
			}
		}()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			st.followers--
			st.lastUsed = c.now()
			if st.followers == 0 && st.stopFollow != nil {
				st.stopFollow()
				st.stopFollow = nil
			}
		})
	}
}
