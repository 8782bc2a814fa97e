package progress

import (
	"time"

	"marketdash/internal/domain/project"
)

// IsOverdue is true when the due date has passed and the task is still open.
// Completed and cancelled tasks are never overdue.
func IsOverdue(t project.Task, now time.Time) bool {
	switch project.NormalizeTaskStatus(t.Status) {
	case project.TaskCompleted, project.TaskCancelled:
		return false
	}
	if t.DueDate == nil || t.DueDate.IsZero() {
		return false
	}
	return t.DueDate.Before(now)
}

// TaskProgress returns the task's 0–100 progress: completed is 100,
// not_started is 0, anything else keeps its last explicit value.
func TaskProgress(t project.Task) float64 {
	switch project.NormalizeTaskStatus(t.Status) {
	case project.TaskCompleted:
		return 100
	case project.TaskNotStarted:
		return 0
	}
	if t.Progress == nil {
		return 0
	}
	return RoundHalfUp(Clamp(*t.Progress))
}

// MilestoneProgress rolls the milestone's tasks up into a percentage. With no
// tasks the milestone's own stored percentage acts as a manual override.
func MilestoneProgress(m project.Milestone, tasks []project.Task) Percent {
	total, completed := 0, 0
	for _, t := range tasks {
		if t.MilestoneID != m.ID {
			continue
		}
		total++
		if project.NormalizeTaskStatus(t.Status) == project.TaskCompleted {
			completed++
		}
	}
	if total == 0 {
		if m.ProgressPercentage == nil {
			return Of(0)
		}
		return Of(RoundHalfUp(Clamp(*m.ProgressPercentage)))
	}
	return Ratio(completed, total)
}

// BookingProgress is the share of completed milestones. No milestones means
// NotApplicable, not zero.
func BookingProgress(milestones []project.Milestone) Percent {
	completed := 0
	for _, m := range milestones {
		if m.Status == project.MilestoneCompleted {
			completed++
		}
	}
	return Ratio(completed, len(milestones))
}

func OverdueCount(tasks []project.Task, now time.Time) int {
	n := 0
	for _, t := range tasks {
		if IsOverdue(t, now) {
			n++
		}
	}
	return n
}

type MilestoneRollup struct {
	MilestoneID    int64   `json:"milestone_id"`
	Progress       Percent `json:"progress"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	OverdueTasks   int     `json:"overdue_tasks"`
}

type Rollup struct {
	Milestones   []MilestoneRollup `json:"milestones"`
	Booking      Percent           `json:"booking_progress"`
	OverdueTasks int               `json:"overdue_tasks"`
}

// RollUp computes every milestone's progress plus the booking totals in one pass
// over the snapshot.
func RollUp(milestones []project.Milestone, tasks []project.Task, now time.Time) Rollup {
	byMilestone := make(map[int64][]project.Task, len(milestones))
	for _, t := range tasks {
		byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t)
	}

	out := Rollup{
		Milestones:   make([]MilestoneRollup, 0, len(milestones)),
		Booking:      BookingProgress(milestones),
		OverdueTasks: OverdueCount(tasks, now),
	}
	for _, m := range milestones {
		children := byMilestone[m.ID]
		mr := MilestoneRollup{
			MilestoneID:  m.ID,
			Progress:     MilestoneProgress(m, children),
			TotalTasks:   len(children),
			OverdueTasks: OverdueCount(children, now),
		}
		for _, t := range children {
			if project.NormalizeTaskStatus(t.Status) == project.TaskCompleted {
				mr.CompletedTasks++
			}
		}
		out.Milestones = append(out.Milestones, mr)
	}
	return out
}
