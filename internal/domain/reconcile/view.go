package reconcile

import (
	"math"
	"time"

	"marketdash/internal/domain/progress"
	"marketdash/internal/domain/project"
)

// Snapshot is one consistent-enough read of everything scoped to a booking.
// Each part is fetched independently; there is no cross-record transaction.
type Snapshot struct {
	Booking     project.Booking
	Milestones  []project.Milestone
	Tasks       []project.Task
	TimeEntries []project.TimeEntry
	Approvals   []project.ApprovalRequest
	Invoice     *project.Invoice
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Milestones = append([]project.Milestone(nil), s.Milestones...)
	c.Tasks = append([]project.Task(nil), s.Tasks...)
	c.TimeEntries = append([]project.TimeEntry(nil), s.TimeEntries...)
	c.Approvals = append([]project.ApprovalRequest(nil), s.Approvals...)
	if s.Invoice != nil {
		inv := *s.Invoice
		c.Invoice = &inv
	}
	return &c
}

type TaskView struct {
	project.Task
	Progress    float64                      `json:"progress_percentage"`
	IsOverdue   bool                         `json:"is_overdue"`
	LedgerHours float64                      `json:"ledger_hours"`
	Warnings    []progress.DependencyWarning `json:"dependency_warnings,omitempty"`
}

type MilestoneView struct {
	project.Milestone
	Progress       progress.Percent    `json:"progress"`
	Gate           progress.GateResult `json:"gate"`
	CanComplete    progress.GateResult `json:"can_complete"`
	LedgerHours    float64             `json:"ledger_hours"`
	TotalTasks     int                 `json:"total_tasks"`
	CompletedTasks int                 `json:"completed_tasks"`
	OverdueTasks   int                 `json:"overdue_tasks"`
	Tasks          []TaskView          `json:"tasks"`
}

// View is the derived, display-ready state of one booking. It is always
// computed from a Snapshot, never patched in place.
type View struct {
	PassID              string                    `json:"pass_id"`
	BookingID           int64                     `json:"booking_id"`
	ComputedAt          time.Time                 `json:"computed_at"`
	Optimistic          bool                      `json:"optimistic"`
	Booking             project.Booking           `json:"booking"`
	Status              progress.Derivation       `json:"status"`
	Progress            progress.Percent          `json:"progress"`
	StoredProgressStale bool                      `json:"stored_progress_stale"`
	Milestones          []MilestoneView           `json:"milestones"`
	OverdueTasks        int                       `json:"overdue_tasks"`
	PendingApprovals    int                       `json:"pending_approvals"`
	Efficiency          progress.EfficiencyReport `json:"efficiency"`
	Weekly              progress.WeeklyReport     `json:"weekly"`
	Daily               progress.DailyReport      `json:"daily"`
	HoursMismatches     []progress.HoursMismatch  `json:"hours_mismatches,omitempty"`
	Skipped             int                       `json:"skipped_records"`
	PartErrors          map[string]string         `json:"part_errors,omitempty"`
}

// Compose runs every calculator over the snapshot. Pure.
func Compose(s *Snapshot, now time.Time, loc *time.Location) View {
	chain := progress.NewMilestoneChain(s.Milestones)
	ordered := chain.Ordered()
	rollup := progress.RollUp(ordered, s.Tasks, now)
	ledger, mismatches := progress.ReconcileTaskHours(s.Tasks, s.TimeEntries)

	tasksByMilestone := make(map[int64][]TaskView, len(ordered))
	for _, t := range s.Tasks {
		tasksByMilestone[t.MilestoneID] = append(tasksByMilestone[t.MilestoneID], TaskView{
			Task:        t,
			Progress:    progress.TaskProgress(t),
			IsOverdue:   progress.IsOverdue(t, now),
			LedgerHours: ledger[t.ID],
			Warnings:    progress.TaskDependencyWarnings(t, s.Tasks),
		})
	}

	milestones := make([]MilestoneView, 0, len(ordered))
	for i, m := range ordered {
		r := rollup.Milestones[i]
		var hours float64
		for _, tv := range tasksByMilestone[m.ID] {
			hours += tv.LedgerHours
		}
		milestones = append(milestones, MilestoneView{
			Milestone:      m,
			Progress:       r.Progress,
			Gate:           chain.CheckMilestone(m),
			CanComplete:    chain.CanComplete(m, s.Tasks),
			LedgerHours:    math.Round(hours*100) / 100,
			TotalTasks:     r.TotalTasks,
			CompletedTasks: r.CompletedTasks,
			OverdueTasks:   r.OverdueTasks,
			Tasks:          tasksByMilestone[m.ID],
		})
	}

	pending := 0
	for _, a := range s.Approvals {
		if a.Status == project.RequestPending {
			pending++
		}
	}

	efficiency := progress.Efficiency(ordered, s.TimeEntries)
	weekly := progress.WeeklyTrend(s.Tasks, ordered, now, loc)
	daily := progress.DailyTrend(s.TimeEntries, loc)

	v := View{
		BookingID:        s.Booking.ID,
		ComputedAt:       now,
		Booking:          s.Booking,
		Status:           progress.DeriveStatus(progress.SignalsFrom(s.Booking), progress.InvoiceFrom(s.Invoice)),
		Progress:         rollup.Booking,
		Milestones:       milestones,
		OverdueTasks:     rollup.OverdueTasks,
		PendingApprovals: pending,
		Efficiency:       efficiency,
		Weekly:           weekly,
		Daily:            daily,
		HoursMismatches:  mismatches,
		Skipped:          daily.Skipped + weekly.Skipped,
	}
	v.StoredProgressStale = storedProgressStale(s.Booking.ProgressPercentage, rollup.Booking)
	return v
}

func storedProgressStale(stored *float64, derived progress.Percent) bool {
	if stored == nil {
		return false
	}
	if !derived.Valid {
		return true
	}
	return progress.RoundHalfUp(progress.Clamp(*stored)) != derived.Value
}
