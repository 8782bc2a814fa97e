package project

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the gorm-backed entity store. Every call honours the deadline
// carried by ctx; callers own the timeout.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, classify(err)
	}
	return &b, nil
}

func (r *Repository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.Status == "" {
		b.Status = BookingPending
	}
	return classify(r.db.WithContext(ctx).Create(b).Error)
}

// ListBookingIDs pages through bookings in id order, starting after afterID.
func (r *Repository) ListBookingIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

func (r *Repository) UpdateBookingStatus(ctx context.Context, id int64, status BookingStatus) error {
	tx := r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CacheBookingProgress writes the recomputed roll-up back as a best-effort cache.
func (r *Repository) CacheBookingProgress(ctx context.Context, id int64, pct *float64) error {
	return classify(r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", id).
		Update("progress_percentage", pct).Error)
}

func (r *Repository) ListMilestones(ctx context.Context, bookingID int64) ([]Milestone, error) {
	var rows []Milestone
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("order_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *Repository) GetMilestone(ctx context.Context, id int64) (*Milestone, error) {
	var m Milestone
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (r *Repository) CreateMilestone(ctx context.Context, m *Milestone) error {
	if m.OrderIndex < 1 {
		return ErrValidation
	}
	if m.Status == "" {
		m.Status = MilestonePending
	}
	r.logger.Debug("inserting milestone",
		zap.Int64("booking_id", m.BookingID),
		zap.Int("order_index", m.OrderIndex),
	)
	return classify(r.db.WithContext(ctx).Create(m).Error)
}

func (r *Repository) UpdateMilestoneStatus(ctx context.Context, id int64, status MilestoneStatus) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == MilestoneCompleted {
		updates["completed_at"] = now
	} else {
		updates["completed_at"] = nil
	}
	tx := r.db.WithContext(ctx).Model(&Milestone{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CacheMilestoneProgress(ctx context.Context, id int64, pct float64, actualHours float64) error {
	return classify(r.db.WithContext(ctx).
		Model(&Milestone{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"progress_percentage": pct,
			"actual_hours":        actualHours,
		}).Error)
}

func (r *Repository) ListTasks(ctx context.Context, bookingID int64) ([]Task, error) {
	var rows []Task
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("milestone_id ASC, order_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *Repository) GetTask(ctx context.Context, id int64) (*Task, error) {
	var t Task
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (r *Repository) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskNotStarted
	}
	t.Priority = NormalizePriority(t.Priority)
	return classify(r.db.WithContext(ctx).Create(t).Error)
}

func (r *Repository) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if status == TaskCompleted {
		updates["completed_at"] = now
	} else {
		updates["completed_at"] = nil
	}
	tx := r.db.WithContext(ctx).Model(&Task{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListTimeEntries(ctx context.Context, bookingID int64) ([]TimeEntry, error) {
	var rows []TimeEntry
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// AppendTimeEntry inserts into the ledger and refreshes the task's cached
// actual_hours from the ledger sum in the same transaction.
func (r *Repository) AppendTimeEntry(ctx context.Context, e *TimeEntry) error {
	if _, ok := e.Minutes(); !ok {
		return ErrValidation
	}
	if e.CreatedAt == nil {
		now := time.Now().UTC()
		e.CreatedAt = &now
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		var entries []TimeEntry
		if err := tx.Where("task_id = ?", e.TaskID).Find(&entries).Error; err != nil {
			return err
		}
		var minutes float64
		for _, x := range entries {
			if m, ok := x.Minutes(); ok {
				minutes += m
			}
		}
		return tx.Model(&Task{}).Where("id = ?", e.TaskID).Update("actual_hours", minutes/60).Error
	})
	return classify(err)
}

func (r *Repository) AddComment(ctx context.Context, c *TaskComment) error {
	if c.Body == "" {
		return ErrValidation
	}
	return classify(r.db.WithContext(ctx).Create(c).Error)
}

func (r *Repository) ListComments(ctx context.Context, taskID int64) ([]TaskComment, error) {
	var rows []TaskComment
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *Repository) AddAttachment(ctx context.Context, a *TaskAttachment) error {
	if a.Reference == "" {
		return ErrValidation
	}
	return classify(r.db.WithContext(ctx).Create(a).Error)
}

func (r *Repository) ListAttachments(ctx context.Context, taskID int64) ([]TaskAttachment, error) {
	var rows []TaskAttachment
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *Repository) ListApprovals(ctx context.Context, bookingID int64) ([]ApprovalRequest, error) {
	var rows []ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("requested_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *Repository) GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error) {
	var a ApprovalRequest
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (r *Repository) CreateApproval(ctx context.Context, a *ApprovalRequest) error {
	if a.Status == "" {
		a.Status = RequestPending
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now().UTC()
	}
	return classify(r.db.WithContext(ctx).Create(a).Error)
}

// RespondApproval resolves a pending request. Already-resolved requests are left
// untouched and reported as ErrValidation.
func (r *Repository) RespondApproval(ctx context.Context, id int64, status ApprovalRequestStatus, notes string) error {
	updates := map[string]any{
		"status":       status,
		"responded_at": time.Now().UTC(),
	}
	if notes != "" {
		updates["notes"] = notes
	}
	tx := r.db.WithContext(ctx).
		Model(&ApprovalRequest{}).
		Where("id = ? AND status = ?", id, RequestPending).
		Updates(updates)
	if tx.Error != nil {
		return classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrValidation
	}
	return nil
}

// GetInvoice returns the most recent invoice for the booking, or nil when none exists.
func (r *Repository) GetInvoice(ctx context.Context, bookingID int64) (*Invoice, error) {
	var rows []Invoice
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Repository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.Status == "" {
		inv.Status = InvoiceDraft
	}
	return classify(r.db.WithContext(ctx).Create(inv).Error)
}
