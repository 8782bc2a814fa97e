package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
)

type bookingSource interface {
	ListBookingIDs(ctx context.Context, after int64, limit int) ([]int64, error)
	GetBooking(ctx context.Context, id int64) (*project.Booking, error)
}

type progressReconciler interface {
	ForceReconcile(ctx context.Context, actor dashboard.Actor, bookingID int64) (*reconcile.View, error)
}

type backfillStats struct {
	Scanned   int64
	Rewritten int64
	Failed    int64
}

// backfiller walks every booking once. The cached state of each booking is
// dropped after its pass so memory stays flat over the whole table.
type backfiller struct {
	bookings    bookingSource
	reconciler  progressReconciler
	evict       func(bookingID int64) bool
	logger      *zap.Logger
	pageSize    int
	parallelism int
}

// retryable reports whether err is an outage rather than a per-booking problem.
func retryable(err error) bool {
	return reconcile.IsRetryable(err) || project.IsRetryable(err)
}

func changed(before, after *float64) bool {
	if before == nil || after == nil {
		return before != after
	}
	return *before != *after
}

// run stops at the first store outage; per-booking failures are counted and
// skipped.
func (b *backfiller) run(ctx context.Context) (backfillStats, error) {
	var scanned, rewritten, failed atomic.Int64
	stats := func() backfillStats {
		return backfillStats{Scanned: scanned.Load(), Rewritten: rewritten.Load(), Failed: failed.Load()}
	}
	system := dashboard.Actor{Role: project.RoleAdmin}

	var after int64
	for {
		ids, err := b.bookings.ListBookingIDs(ctx, after, b.pageSize)
		if err != nil {
			return stats(), fmt.Errorf("list bookings after %d: %w", after, err)
		}
		if len(ids) == 0 {
			return stats(), nil
		}
		after = ids[len(ids)-1]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.parallelism)
		for _, id := range ids {
			g.Go(func() error {
				scanned.Add(1)
				if b.evict != nil {
					defer b.evict(id)
				}
				before, err := b.bookings.GetBooking(gctx, id)
				if err != nil {
					if retryable(err) {
						return err
					}
					failed.Add(1)
					b.logger.Warn("booking read failed", zap.Int64("booking_id", id), zap.Error(err))
					return nil
				}
				v, err := b.reconciler.ForceReconcile(gctx, system, id)
				if err != nil {
					if retryable(err) {
						return err
					}
					failed.Add(1)
					b.logger.Warn("reconcile failed", zap.Int64("booking_id", id), zap.Error(err))
					return nil
				}
				if changed(before.ProgressPercentage, v.Booking.ProgressPercentage) {
					rewritten.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats(), err
		}
	}
}
