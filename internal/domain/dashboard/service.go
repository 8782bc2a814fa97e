package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/notification"
	"marketdash/internal/domain/progress"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
)

// Service owns the booking dashboard: authorised reads of the reconciled view
// and the mutations that feed it. Every mutation goes through the controller
// so the caller sees its optimistic edit first and the reconciled state after.
type Service struct {
	repo       Repository
	controller Reconciler
	dispatcher notification.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(repo Repository, controller Reconciler, dispatcher notification.Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = notification.NopDispatcher{Logger: logger}
	}
	return &Service{
		repo:       repo,
		controller: controller,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// AuthorizeBooking lets admins see everything and parties see their own bookings.
func (s *Service) AuthorizeBooking(ctx context.Context, bookingID, userID int64, role project.Role) error {
	_, err := s.authorized(ctx, bookingID, Actor{UserID: userID, Role: role})
	return err
}

func (s *Service) authorized(ctx context.Context, bookingID int64, actor Actor) (*project.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case project.RoleAdmin:
		return b, nil
	case project.RoleClient:
		if b.ClientID == actor.UserID {
			return b, nil
		}
	case project.RoleProvider:
		if b.ProviderID == actor.UserID {
			return b, nil
		}
	}
	return nil, ErrForbidden
}

func requireProvider(actor Actor) error {
	if actor.Role == project.RoleProvider || actor.Role == project.RoleAdmin {
		return nil
	}
	return ErrForbidden
}

func (s *Service) GetProgress(ctx context.Context, actor Actor, bookingID int64) (*reconcile.View, error) {
	if _, err := s.authorized(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.controller.ViewOrReconcile(ctx, bookingID)
}

// ForceReconcile runs a fresh pass. If a concurrent pass supersedes it, that
// pass's outcome is returned instead.
func (s *Service) ForceReconcile(ctx context.Context, actor Actor, bookingID int64) (*reconcile.View, error) {
	if _, err := s.authorized(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	v, err := s.controller.Reconcile(ctx, bookingID)
	if errors.Is(err, reconcile.ErrStaleReconciliation) {
		v, err = s.controller.AwaitLatest(ctx, bookingID)
	}
	if err != nil {
		return nil, err
	}
	s.cacheProgress(ctx, v)
	return v, nil
}

func validMilestoneStatus(st project.MilestoneStatus) bool {
	switch st {
	case project.MilestonePending, project.MilestoneInProgress, project.MilestoneCompleted:
		return true
	}
	return false
}

// UpdateMilestoneStatus moves a milestone along its chain. Leaving pending
// needs the predecessor completed; completing also needs every live task done.
func (s *Service) UpdateMilestoneStatus(ctx context.Context, actor Actor, milestoneID int64, status project.MilestoneStatus) (*reconcile.View, error) {
	status = project.MilestoneStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !validMilestoneStatus(status) {
		return nil, fmt.Errorf("%w: milestone status %q", ErrInvalidStatus, status)
	}
	if err := requireProvider(actor); err != nil {
		return nil, err
	}

	m, err := s.repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorized(ctx, m.BookingID, actor); err != nil {
		return nil, err
	}
	if m.Status == status {
		return s.controller.ViewOrReconcile(ctx, m.BookingID)
	}

	milestones, err := s.repo.ListMilestones(ctx, m.BookingID)
	if err != nil {
		return nil, err
	}
	chain := progress.NewMilestoneChain(milestones)

	switch status {
	case project.MilestoneInProgress:
		if gate := chain.CheckMilestone(*m); !gate.Startable {
			return nil, fmt.Errorf("%w: %s", ErrDependencyLocked, gate.Reason)
		}
	case project.MilestoneCompleted:
		tasks, err := s.repo.ListTasks(ctx, m.BookingID)
		if err != nil {
			return nil, err
		}
		if res := chain.CanComplete(*m, tasks); !res.Startable {
			return nil, fmt.Errorf("%w: %s", ErrDependencyLocked, res.Reason)
		}
	}

	now := s.now().UTC()
	view, err := s.mutate(ctx, m.BookingID, feed.EntityMilestone, feed.ChangeUpdate,
		func(snap *reconcile.Snapshot) {
			for i := range snap.Milestones {
				if snap.Milestones[i].ID == m.ID {
					snap.Milestones[i].Status = status
					if status == project.MilestoneCompleted {
						snap.Milestones[i].CompletedAt = &now
					} else {
						snap.Milestones[i].CompletedAt = nil
					}
				}
			}
		},
		func(ctx context.Context) error { return s.repo.UpdateMilestoneStatus(ctx, m.ID, status) },
	)
	if err != nil {
		return nil, err
	}

	if status == project.MilestoneCompleted {
		done := *m
		done.Status = status
		s.dispatcher.Dispatch(ctx, notification.MilestoneCompleted(m.BookingID, done))
	}
	return view, nil
}

func validTaskStatus(st project.TaskStatus) bool {
	switch st {
	case project.TaskNotStarted, project.TaskInProgress, project.TaskCompleted, project.TaskOnHold, project.TaskCancelled:
		return true
	}
	return false
}

// UpdateTaskStatus never blocks on task dependencies; open ones come back as
// warnings. Starting or completing a task does need its milestone to be
// startable: a pending milestone behind an unfinished predecessor is locked.
func (s *Service) UpdateTaskStatus(ctx context.Context, actor Actor, taskID int64, status project.TaskStatus) (*MutationResult, error) {
	status = project.NormalizeTaskStatus(status)
	if !validTaskStatus(status) {
		return nil, fmt.Errorf("%w: task status %q", ErrInvalidStatus, status)
	}
	if err := requireProvider(actor); err != nil {
		return nil, err
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorized(ctx, task.BookingID, actor); err != nil {
		return nil, err
	}

	var warnings []progress.DependencyWarning
	if status == project.TaskInProgress || status == project.TaskCompleted {
		if err := s.checkMilestoneOpen(ctx, *task); err != nil {
			return nil, err
		}
		siblings, err := s.repo.ListTasks(ctx, task.BookingID)
		if err != nil {
			return nil, err
		}
		warnings = progress.TaskDependencyWarnings(*task, siblings)
	}

	wasCompleted := project.NormalizeTaskStatus(task.Status) == project.TaskCompleted
	now := s.now().UTC()
	view, err := s.mutate(ctx, task.BookingID, feed.EntityTask, feed.ChangeUpdate,
		func(snap *reconcile.Snapshot) {
			for i := range snap.Tasks {
				if snap.Tasks[i].ID == task.ID {
					snap.Tasks[i].Status = status
					snap.Tasks[i].UpdatedAt = now
					if status == project.TaskCompleted {
						snap.Tasks[i].CompletedAt = &now
					} else {
						snap.Tasks[i].CompletedAt = nil
					}
				}
			}
		},
		func(ctx context.Context) error { return s.repo.UpdateTaskStatus(ctx, task.ID, status) },
	)
	if err != nil {
		return nil, err
	}

	if status == project.TaskCompleted && !wasCompleted {
		done := *task
		done.Status = status
		s.dispatcher.Dispatch(ctx, notification.TaskCompleted(task.BookingID, done))
	}
	if len(warnings) > 0 {
		s.logger.Info("task moved with open dependencies",
			zap.Int64("task_id", task.ID),
			zap.Int("warnings", len(warnings)),
		)
	}
	return &MutationResult{View: view, Warnings: warnings}, nil
}

func (s *Service) checkMilestoneOpen(ctx context.Context, task project.Task) error {
	milestones, err := s.repo.ListMilestones(ctx, task.BookingID)
	if err != nil {
		return err
	}
	chain := progress.NewMilestoneChain(milestones)
	for _, m := range chain.Ordered() {
		if m.ID != task.MilestoneID {
			continue
		}
		if gate := chain.CheckMilestone(m); !gate.Startable {
			return fmt.Errorf("%w: milestone_locked (%s)", ErrDependencyLocked, gate.Reason)
		}
		return nil
	}
	return nil
}

// LogTime appends to the time ledger. Exactly one of minutes or hours is read;
// minutes win when both are sent.
func (s *Service) LogTime(ctx context.Context, actor Actor, taskID int64, req LogTimeRequest) (*project.TimeEntry, *reconcile.View, error) {
	if err := requireProvider(actor); err != nil {
		return nil, nil, err
	}
	entry := &project.TimeEntry{
		TaskID:          taskID,
		DurationMinutes: req.DurationMinutes,
		LoggedAt:        req.LoggedAt,
	}
	if entry.DurationMinutes == nil {
		entry.DurationHours = req.DurationHours
	}
	if _, ok := entry.Minutes(); !ok {
		return nil, nil, fmt.Errorf("%w: duration must be a non-negative number of minutes or hours", project.ErrValidation)
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorized(ctx, task.BookingID, actor); err != nil {
		return nil, nil, err
	}
	entry.BookingID = task.BookingID
	now := s.now().UTC()
	if entry.LoggedAt == nil {
		entry.LoggedAt = &now
	}

	view, err := s.mutate(ctx, task.BookingID, feed.EntityTimeEntry, feed.ChangeInsert,
		func(snap *reconcile.Snapshot) {
			optimistic := *entry
			optimistic.CreatedAt = &now
			snap.TimeEntries = append(snap.TimeEntries, optimistic)
		},
		func(ctx context.Context) error { return s.repo.AppendTimeEntry(ctx, entry) },
	)
	if err != nil {
		return nil, nil, err
	}
	return entry, view, nil
}

func (s *Service) AddComment(ctx context.Context, actor Actor, taskID int64, body string) (*project.TaskComment, *reconcile.View, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil, fmt.Errorf("%w: comment body is required", project.ErrValidation)
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorized(ctx, task.BookingID, actor); err != nil {
		return nil, nil, err
	}

	comment := &project.TaskComment{
		TaskID:     task.ID,
		BookingID:  task.BookingID,
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Body:       body,
	}
	view, err := s.mutate(ctx, task.BookingID, feed.EntityComment, feed.ChangeInsert, nil,
		func(ctx context.Context) error { return s.repo.AddComment(ctx, comment) },
	)
	if err != nil {
		return nil, nil, err
	}
	return comment, view, nil
}

// AddAttachment records an opaque object reference against a task. Either
// party may attach.
func (s *Service) AddAttachment(ctx context.Context, actor Actor, taskID int64, reference string) (*project.TaskAttachment, *reconcile.View, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil, fmt.Errorf("%w: attachment reference is required", project.ErrValidation)
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorized(ctx, task.BookingID, actor); err != nil {
		return nil, nil, err
	}

	a := &project.TaskAttachment{
		TaskID:    task.ID,
		BookingID: task.BookingID,
		AddedBy:   actor.UserID,
		Reference: reference,
	}
	view, err := s.mutate(ctx, task.BookingID, feed.EntityAttachment, feed.ChangeInsert, nil,
		func(ctx context.Context) error { return s.repo.AddAttachment(ctx, a) },
	)
	if err != nil {
		return nil, nil, err
	}
	return a, view, nil
}

func validApprovalType(t project.ApprovalType) bool {
	switch t {
	case project.ApprovalTypeMilestone, project.ApprovalTypeCompletion, project.ApprovalTypeChange:
		return true
	}
	return false
}

func (s *Service) RequestApproval(ctx context.Context, actor Actor, taskID int64, req RequestApprovalRequest) (*project.ApprovalRequest, *reconcile.View, error) {
	if !validApprovalType(req.Type) {
		return nil, nil, fmt.Errorf("%w: approval type %q", project.ErrValidation, req.Type)
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorized(ctx, task.BookingID, actor); err != nil {
		return nil, nil, err
	}

	a := &project.ApprovalRequest{
		TaskID:          task.ID,
		BookingID:       task.BookingID,
		Type:            req.Type,
		Status:          project.RequestPending,
		RequestedByRole: actor.Role,
		Notes:           strings.TrimSpace(req.Notes),
		RequestedAt:     s.now().UTC(),
	}
	view, err := s.mutate(ctx, task.BookingID, feed.EntityApproval, feed.ChangeInsert,
		func(snap *reconcile.Snapshot) { snap.Approvals = append(snap.Approvals, *a) },
		func(ctx context.Context) error { return s.repo.CreateApproval(ctx, a) },
	)
	if err != nil {
		return nil, nil, err
	}
	s.dispatcher.Dispatch(ctx, notification.ApprovalRequested(*a))
	return a, view, nil
}

// RespondApproval resolves a pending request. Only the other party may answer;
// admins may answer anything.
func (s *Service) RespondApproval(ctx context.Context, actor Actor, approvalID int64, req RespondApprovalRequest) (*project.ApprovalRequest, *reconcile.View, error) {
	if req.Approve == nil {
		return nil, nil, fmt.Errorf("%w: approve is required", project.ErrValidation)
	}
	a, err := s.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.authorized(ctx, a.BookingID, actor); err != nil {
		return nil, nil, err
	}
	if actor.Role != project.RoleAdmin && actor.Role == a.RequestedByRole {
		return nil, nil, ErrForbidden
	}
	if a.Status != project.RequestPending {
		return nil, nil, fmt.Errorf("%w: approval already %s", project.ErrValidation, a.Status)
	}

	status := project.RequestRejected
	if *req.Approve {
		status = project.RequestApproved
	}
	notes := strings.TrimSpace(req.Notes)
	respondedAt := s.now().UTC()

	view, err := s.mutate(ctx, a.BookingID, feed.EntityApproval, feed.ChangeUpdate,
		func(snap *reconcile.Snapshot) {
			for i := range snap.Approvals {
				if snap.Approvals[i].ID == a.ID {
					snap.Approvals[i].Status = status
					snap.Approvals[i].RespondedAt = &respondedAt
				}
			}
		},
		func(ctx context.Context) error { return s.repo.RespondApproval(ctx, a.ID, status, notes) },
	)
	if err != nil {
		return nil, nil, err
	}

	a.Status = status
	a.RespondedAt = &respondedAt
	if notes != "" {
		a.Notes = notes
	}
	s.dispatcher.Dispatch(ctx, notification.ApprovalResolved(*a))
	return a, view, nil
}

// mutate runs the write through the controller. A failed write is returned
// as is; once the write has landed, a superseded reconcile waits for the pass
// that replaced it and a failed one falls back to the cached view. A nil view
// with a nil error means the write landed but no view exists yet.
func (s *Service) mutate(
	ctx context.Context,
	bookingID int64,
	entity feed.EntityType,
	kind feed.ChangeKind,
	optimistic func(*reconcile.Snapshot),
	write func(ctx context.Context) error,
) (*reconcile.View, error) {
	var writeErr error
	view, err := s.controller.Mutate(ctx, bookingID, entity, kind, optimistic, func(ctx context.Context) error {
		writeErr = write(ctx)
		return writeErr
	})
	if writeErr != nil {
		return nil, writeErr
	}
	if err != nil {
		if errors.Is(err, reconcile.ErrStaleReconciliation) {
			view, err = s.controller.AwaitLatest(ctx, bookingID)
		}
		if err != nil {
			s.logger.Warn("write applied but reconciliation failed",
				zap.Int64("booking_id", bookingID),
				zap.String("entity", string(entity)),
				zap.Error(err),
			)
			if view, err = s.controller.View(bookingID); err != nil {
				return nil, nil
			}
		}
	}
	s.cacheProgress(ctx, view)
	return view, nil
}

// cacheProgress writes the recomputed booking progress back when the stored
// copy is missing or has drifted, and patches v to match. Best effort.
func (s *Service) cacheProgress(ctx context.Context, v *reconcile.View) {
	if v == nil || v.Optimistic {
		return
	}
	missing := v.Booking.ProgressPercentage == nil && v.Progress.Valid
	if !missing && !v.StoredProgressStale {
		return
	}
	var pct *float64
	if v.Progress.Valid {
		value := v.Progress.Value
		pct = &value
	}
	if err := s.repo.CacheBookingProgress(ctx, v.BookingID, pct); err != nil {
		s.logger.Debug("progress cache write failed", zap.Int64("booking_id", v.BookingID), zap.Error(err))
		return
	}
	v.Booking.ProgressPercentage = pct
	v.StoredProgressStale = false
}
