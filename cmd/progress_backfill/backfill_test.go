package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/progress"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
)

type fakeBookings struct {
	bookings map[int64]*project.Booking
}

func (f *fakeBookings) ListBookingIDs(_ context.Context, after int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range f.bookings {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeBookings) GetBooking(_ context.Context, id int64) (*project.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) ForceReconcile(ctx context.Context, actor dashboard.Actor, bookingID int64) (*reconcile.View, error) {
	args := m.Called(ctx, actor, bookingID)
	v, _ := args.Get(0).(*reconcile.View)
	return v, args.Error(1)
}

type evictions struct {
	mu  sync.Mutex
	ids []int64
}

func (e *evictions) evict(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return true
}

func (e *evictions) sorted() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]int64(nil), e.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func pct(v float64) *float64 { return &v }

func viewWithStored(id int64, stored *float64) *reconcile.View {
	return &reconcile.View{BookingID: id, Booking: project.Booking{ID: id, ProgressPercentage: stored}, Progress: progress.Of(40)}
}

func newBackfiller(src bookingSource, rec progressReconciler, ev *evictions) *backfiller {
	return &backfiller{
		bookings:    src,
		reconciler:  rec,
		evict:       ev.evict,
		logger:      zap.NewNop(),
		pageSize:    2,
		parallelism: 2,
	}
}

func TestBackfillCountsAndEvictsEveryBooking(t *testing.T) {
	src := &fakeBookings{bookings: map[int64]*project.Booking{
		1: {ID: 1},
		2: {ID: 2, ProgressPercentage: pct(40)},
		3: {ID: 3},
	}}
	rec := &mockReconciler{}
	admin := dashboard.Actor{Role: project.RoleAdmin}
	rec.On("ForceReconcile", mock.Anything, admin, int64(1)).Return(viewWithStored(1, pct(40)), nil)
	rec.On("ForceReconcile", mock.Anything, admin, int64(2)).Return(viewWithStored(2, pct(40)), nil)
	rec.On("ForceReconcile", mock.Anything, admin, int64(3)).Return(nil, fmt.Errorf("booking 3: %w", project.ErrNotFound))
	ev := &evictions{}

	stats, err := newBackfiller(src, rec, ev).run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, backfillStats{Scanned: 3, Rewritten: 1, Failed: 1}, stats)
	assert.Equal(t, []int64{1, 2, 3}, ev.sorted())
	rec.AssertExpectations(t)
}

func TestBackfillAbortsOnStoreOutage(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"store error wrapped by the controller", fmt.Errorf("%w: booking 1: %w", reconcile.ErrStoreUnavailable, project.ErrUnavailable)},
		{"controller outage only", fmt.Errorf("%w: booking 1: %w", reconcile.ErrStoreUnavailable, context.DeadlineExceeded)},
		{"raw store error", project.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeBookings{bookings: map[int64]*project.Booking{1: {ID: 1}}}
			rec := &mockReconciler{}
			rec.On("ForceReconcile", mock.Anything, mock.Anything, int64(1)).Return(nil, tc.err)

			stats, err := newBackfiller(src, rec, &evictions{}).run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Zero(t, stats.Failed)
		})
	}
}
