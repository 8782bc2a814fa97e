package dashboard

import (
	"time"

	"marketdash/internal/domain/progress"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID int64
	Role   project.Role
}

type UpdateMilestoneStatusRequest struct {
	Status project.MilestoneStatus `json:"status" binding:"required"`
}

type UpdateTaskStatusRequest struct {
	Status project.TaskStatus `json:"status" binding:"required"`
}

type LogTimeRequest struct {
	DurationMinutes *float64   `json:"duration_minutes"`
	DurationHours   *float64   `json:"duration_hours"`
	LoggedAt        *time.Time `json:"logged_at"`
}

type AddCommentRequest struct {
	Body string `json:"body" binding:"required"`
}

type AddAttachmentRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type RequestApprovalRequest struct {
	Type  project.ApprovalType `json:"type" binding:"required"`
	Notes string               `json:"notes"`
}

type RespondApprovalRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Notes   string `json:"notes"`
}

// MutationResult is returned by every write: the reconciled view plus any
// soft dependency warnings.
type MutationResult struct {
	View     *reconcile.View              `json:"view"`
	Warnings []progress.DependencyWarning `json:"-"`
}
