package dashboard

import (
	"context"

	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
)

// Repository is what the service needs from the entity store.
type Repository interface {
	reconcile.Store

	GetMilestone(ctx context.Context, id int64) (*project.Milestone, error)
	UpdateMilestoneStatus(ctx context.Context, id int64, status project.MilestoneStatus) error
	GetTask(ctx context.Context, id int64) (*project.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status project.TaskStatus) error
	AppendTimeEntry(ctx context.Context, e *project.TimeEntry) error
	AddComment(ctx context.Context, c *project.TaskComment) error
	AddAttachment(ctx context.Context, a *project.TaskAttachment) error
	GetApproval(ctx context.Context, id int64) (*project.ApprovalRequest, error)
	CreateApproval(ctx context.Context, a *project.ApprovalRequest) error
	RespondApproval(ctx context.Context, id int64, status project.ApprovalRequestStatus, notes string) error
	CacheBookingProgress(ctx context.Context, id int64, pct *float64) error
}

// Reconciler is the slice of reconcile.Controller the service drives.
type Reconciler interface {
	ViewOrReconcile(ctx context.Context, bookingID int64) (*reconcile.View, error)
	View(bookingID int64) (*reconcile.View, error)
	Reconcile(ctx context.Context, bookingID int64) (*reconcile.View, error)
	AwaitLatest(ctx context.Context, bookingID int64) (*reconcile.View, error)
	Mutate(ctx context.Context, bookingID int64, entity feed.EntityType, kind feed.ChangeKind,
		optimistic func(*reconcile.Snapshot), write func(ctx context.Context) error) (*reconcile.View, error)
}
