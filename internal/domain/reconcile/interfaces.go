package reconcile

import (
	"context"

	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/project"
)

// Store is the read side of the entity store the controller reconciles from.
// GetInvoice returns (nil, nil) when the booking has no invoice.
type Store interface {
	GetBooking(ctx context.Context, id int64) (*project.Booking, error)
	ListMilestones(ctx context.Context, bookingID int64) ([]project.Milestone, error)
	ListTasks(ctx context.Context, bookingID int64) ([]project.Task, error)
	ListTimeEntries(ctx context.Context, bookingID int64) ([]project.TimeEntry, error)
	ListApprovals(ctx context.Context, bookingID int64) ([]project.ApprovalRequest, error)
	GetInvoice(ctx context.Context, bookingID int64) (*project.Invoice, error)
}

type Feed = feed.Feed
