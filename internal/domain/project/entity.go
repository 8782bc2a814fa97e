package project

import (
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPending     BookingStatus = "pending"
	BookingApproved    BookingStatus = "approved"
	BookingInProgress  BookingStatus = "in_progress"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingDeclined    BookingStatus = "declined"
	BookingRescheduled BookingStatus = "rescheduled"
	BookingOnHold      BookingStatus = "on_hold"
)

// ApprovalStatus is independent of BookingStatus. Empty means "not set".
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDeclined ApprovalStatus = "declined"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskOnHold     TaskStatus = "on_hold"
	TaskCancelled  TaskStatus = "cancelled"
)

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "draft"
	InvoiceIssued InvoiceStatus = "issued"
	InvoicePaid   InvoiceStatus = "paid"
)

type ApprovalType string

const (
	ApprovalTypeMilestone  ApprovalType = "milestone"
	ApprovalTypeCompletion ApprovalType = "completion"
	ApprovalTypeChange     ApprovalType = "change"
)

type ApprovalRequestStatus string

const (
	RequestPending  ApprovalRequestStatus = "pending"
	RequestApproved ApprovalRequestStatus = "approved"
	RequestRejected ApprovalRequestStatus = "rejected"
)

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProvider || r == RoleAdmin
}

type Booking struct {
	ID                 int64          `json:"id" gorm:"primaryKey"`
	ClientID           int64          `json:"client_id" gorm:"index"`
	ProviderID         int64          `json:"provider_id" gorm:"index"`
	Status             BookingStatus  `json:"status"`
	ApprovalStatus     ApprovalStatus `json:"approval_status,omitempty"`
	ProgressPercentage *float64       `json:"progress_percentage,omitempty"`
	Amount             float64        `json:"amount"`
	Currency           string         `json:"currency"`
	Notes              string         `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type Milestone struct {
	ID                 int64           `json:"id" gorm:"primaryKey"`
	BookingID          int64           `json:"booking_id" gorm:"uniqueIndex:idx_milestone_order"`
	Title              string          `json:"title"`
	OrderIndex         int             `json:"order_index" gorm:"uniqueIndex:idx_milestone_order"`
	Status             MilestoneStatus `json:"status"`
	ProgressPercentage *float64        `json:"progress_percentage,omitempty"`
	EstimatedHours     float64         `json:"estimated_hours"`
	ActualHours        float64         `json:"actual_hours"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

type Task struct {
	ID             int64        `json:"id" gorm:"primaryKey"`
	MilestoneID    int64        `json:"milestone_id" gorm:"index"`
	BookingID      int64        `json:"booking_id" gorm:"index"`
	Title          string       `json:"title"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	DueDate        *time.Time   `json:"due_date,omitempty"`
	EstimatedHours float64      `json:"estimated_hours"`
	ActualHours    float64      `json:"actual_hours"`
	Progress       *float64     `json:"progress,omitempty"`
	OrderIndex     int          `json:"order_index"`
	Dependencies   []int64      `json:"dependencies,omitempty" gorm:"serializer:json"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

type TaskComment struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	TaskID     int64     `json:"task_id" gorm:"index"`
	BookingID  int64     `json:"booking_id" gorm:"index"`
	AuthorID   int64     `json:"author_id"`
	AuthorRole Role      `json:"author_role"`
	Body       string    `json:"body" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskAttachment points at an object stored elsewhere; Reference is opaque.
type TaskAttachment struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	TaskID    int64     `json:"task_id" gorm:"index"`
	BookingID int64     `json:"booking_id" gorm:"index"`
	AddedBy   int64     `json:"added_by"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeEntry is append-only. Either DurationMinutes or DurationHours is set;
// minutes are canonical.
type TimeEntry struct {
	ID              int64      `json:"id" gorm:"primaryKey"`
	TaskID          int64      `json:"task_id" gorm:"index"`
	BookingID       int64      `json:"booking_id" gorm:"index"`
	DurationMinutes *float64   `json:"duration_minutes,omitempty"`
	DurationHours   *float64   `json:"duration_hours,omitempty"`
	LoggedAt        *time.Time `json:"logged_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// Minutes returns the canonical duration. ok is false for missing or negative durations.
func (e TimeEntry) Minutes() (float64, bool) {
	switch {
	case e.DurationMinutes != nil:
		if *e.DurationMinutes < 0 {
			return 0, false
		}
		return *e.DurationMinutes, true
	case e.DurationHours != nil:
		if *e.DurationHours < 0 {
			return 0, false
		}
		return *e.DurationHours * 60, true
	}
	return 0, false
}

// Timestamp prefers LoggedAt and falls back to CreatedAt.
func (e TimeEntry) Timestamp() (time.Time, bool) {
	if e.LoggedAt != nil && !e.LoggedAt.IsZero() {
		return *e.LoggedAt, true
	}
	if e.CreatedAt != nil && !e.CreatedAt.IsZero() {
		return *e.CreatedAt, true
	}
	return time.Time{}, false
}

type ApprovalRequest struct {
	ID              int64                 `json:"id" gorm:"primaryKey"`
	TaskID          int64                 `json:"task_id" gorm:"index"`
	BookingID       int64                 `json:"booking_id" gorm:"index"`
	Type            ApprovalType          `json:"type"`
	Status          ApprovalRequestStatus `json:"status"`
	RequestedByRole Role                  `json:"requested_by_role"`
	Notes           string                `json:"notes,omitempty" gorm:"type:text"`
	RequestedAt     time.Time             `json:"requested_at"`
	RespondedAt     *time.Time            `json:"responded_at,omitempty"`
}

type Invoice struct {
	ID          int64         `json:"id" gorm:"primaryKey"`
	BookingID   int64         `json:"booking_id" gorm:"index"`
	Status      InvoiceStatus `json:"status"`
	AmountCents int64         `json:"amount_cents"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NormalizeTaskStatus folds the legacy "pending" spelling into not_started.
func NormalizeTaskStatus(s TaskStatus) TaskStatus {
	v := TaskStatus(strings.ToLower(strings.TrimSpace(string(s))))
	if v == "pending" || v == "" {
		return TaskNotStarted
	}
	return v
}

func NormalizePriority(p TaskPriority) TaskPriority {
	switch strings.ToLower(strings.TrimSpace(string(p))) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical", "urgent":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Models lists every entity for AutoMigrate.
func Models() []any {
	return []any{
		&Booking{},
		&Milestone{},
		&Task{},
		&TaskComment{},
		&TaskAttachment{},
		&TimeEntry{},
		&ApprovalRequest{},
		&Invoice{},
	}
}
