package progress

import (
	"math"
	"sort"
	"time"

	"github.com/jinzhu/now"

	"marketdash/internal/domain/project"
)

type EfficiencyClass string

const (
	EfficiencyOver          EfficiencyClass = "over"
	EfficiencyUnder         EfficiencyClass = "under"
	EfficiencyOnTrack       EfficiencyClass = "on_track"
	EfficiencyNotApplicable EfficiencyClass = "not_applicable"
)

// Fixed band edges, in percent of estimate.
const (
	efficiencyUnderBelow = 80.0
	efficiencyOverAbove  = 100.0
)

const (
	trendWeeks = 4
	trendDays  = 7
)

// ClassifyEfficiency bands a percentage: above 100 is over, below 80 is under,
// everything in between (both edges included) is on track.
func ClassifyEfficiency(p Percent) EfficiencyClass {
	switch {
	case !p.Valid:
		return EfficiencyNotApplicable
	case p.Value > efficiencyOverAbove:
		return EfficiencyOver
	case p.Value < efficiencyUnderBelow:
		return EfficiencyUnder
	default:
		return EfficiencyOnTrack
	}
}

type EfficiencyReport struct {
	ActualHours    float64         `json:"actual_hours"`
	EstimatedHours float64         `json:"estimated_hours"`
	Percentage     Percent         `json:"efficiency_percentage"`
	Class          EfficiencyClass `json:"classification"`
	Skipped        int             `json:"skipped_entries"`
}

// Efficiency compares logged time against the milestones' estimates.
// Entries with a missing or negative duration are skipped and counted. The
// percentage is not clamped: 130% over estimate is meaningful here.
func Efficiency(milestones []project.Milestone, entries []project.TimeEntry) EfficiencyReport {
	var minutes float64
	skipped := 0
	for _, e := range entries {
		m, ok := e.Minutes()
		if !ok {
			skipped++
			continue
		}
		minutes += m
	}

	var estimated float64
	for _, m := range milestones {
		if m.EstimatedHours > 0 {
			estimated += m.EstimatedHours
		}
	}

	actual := minutes / 60
	pct := NotApplicable
	if estimated > 0 {
		pct = Of(100 * actual / estimated)
	}
	return EfficiencyReport{
		ActualHours:    round2(actual),
		EstimatedHours: round2(estimated),
		Percentage:     pct,
		Class:          ClassifyEfficiency(pct),
		Skipped:        skipped,
	}
}

type WeekBucket struct {
	WeekStart         time.Time `json:"week_start"`
	WeekEnd           time.Time `json:"week_end"`
	TasksCreated      int       `json:"tasks_created"`
	TasksCompleted    int       `json:"tasks_completed"`
	MilestonesCreated int       `json:"milestones_created"`
	Progress          float64   `json:"week_progress"`
}

type WeeklyReport struct {
	Weeks   []WeekBucket `json:"weeks"`
	Skipped int          `json:"skipped_records"`
}

func calendar(loc *time.Location) *now.Config {
	if loc == nil {
		loc = time.UTC
	}
	return &now.Config{WeekStartDay: time.Sunday, TimeLocation: loc}
}

// WeeklyTrend buckets task and milestone activity into the trailing four
// Sunday-aligned calendar weeks ending with the week containing at, oldest first.
// Records without a usable creation timestamp are skipped.
func WeeklyTrend(tasks []project.Task, milestones []project.Milestone, at time.Time, loc *time.Location) WeeklyReport {
	cal := calendar(loc)
	current := cal.With(at.In(cal.TimeLocation)).BeginningOfWeek()

	weeks := make([]WeekBucket, trendWeeks)
	for i := range weeks {
		start := current.AddDate(0, 0, -7*(trendWeeks-1-i))
		weeks[i] = WeekBucket{WeekStart: start, WeekEnd: start.AddDate(0, 0, 7)}
	}
	bucketOf := func(t time.Time) int {
		for i := range weeks {
			if !t.Before(weeks[i].WeekStart) && t.Before(weeks[i].WeekEnd) {
				return i
			}
		}
		return -1
	}

	skipped := 0
	for _, t := range tasks {
		if t.CreatedAt.IsZero() {
			skipped++
			continue
		}
		if i := bucketOf(t.CreatedAt); i >= 0 {
			weeks[i].TasksCreated++
		}
		if done, ok := completedAt(t); ok {
			if i := bucketOf(done); i >= 0 {
				weeks[i].TasksCompleted++
			}
		}
	}
	for _, m := range milestones {
		if m.CreatedAt.IsZero() {
			skipped++
			continue
		}
		if i := bucketOf(m.CreatedAt); i >= 0 {
			weeks[i].MilestonesCreated++
		}
	}

	for i := range weeks {
		if weeks[i].TasksCreated > 0 {
			weeks[i].Progress = RoundHalfUp(Clamp(100 * float64(weeks[i].TasksCompleted) / float64(weeks[i].TasksCreated)))
		}
	}
	return WeeklyReport{Weeks: weeks, Skipped: skipped}
}

// completedAt prefers the explicit completion stamp; a completed task without
// one falls back to its last update.
func completedAt(t project.Task) (time.Time, bool) {
	if project.NormalizeTaskStatus(t.Status) != project.TaskCompleted {
		return time.Time{}, false
	}
	if t.CompletedAt != nil && !t.CompletedAt.IsZero() {
		return *t.CompletedAt, true
	}
	if !t.UpdatedAt.IsZero() {
		return t.UpdatedAt, true
	}
	return time.Time{}, false
}

type DayBucket struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
}

type DailyReport struct {
	Days    []DayBucket `json:"days"`
	Skipped int         `json:"skipped_entries"`
}

// DailyTrend sums logged hours per local calendar day and keeps the most recent
// seven days that have entries, oldest first.
func DailyTrend(entries []project.TimeEntry, loc *time.Location) DailyReport {
	cal := calendar(loc)
	minutesByDay := make(map[string]float64)
	skipped := 0
	for _, e := range entries {
		ts, ok := e.Timestamp()
		if !ok {
			skipped++
			continue
		}
		m, ok := e.Minutes()
		if !ok {
			skipped++
			continue
		}
		day := cal.With(ts.In(cal.TimeLocation)).BeginningOfDay().Format(time.DateOnly)
		minutesByDay[day] += m
	}

	days := make([]DayBucket, 0, len(minutesByDay))
	for d, m := range minutesByDay {
		days = append(days, DayBucket{Date: d, Hours: round2(m / 60)})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	if len(days) > trendDays {
		days = days[len(days)-trendDays:]
	}
	return DailyReport{Days: days, Skipped: skipped}
}

type HoursMismatch struct {
	TaskID      int64   `json:"task_id"`
	StoredHours float64 `json:"stored_hours"`
	LedgerHours float64 `json:"ledger_hours"`
}

const hoursTolerance = 0.01

// ReconcileTaskHours recomputes each task's actual hours from the time entry
// ledger. The ledger wins; tasks whose stored value disagrees are reported.
func ReconcileTaskHours(tasks []project.Task, entries []project.TimeEntry) (map[int64]float64, []HoursMismatch) {
	minutes := make(map[int64]float64, len(tasks))
	for _, e := range entries {
		if m, ok := e.Minutes(); ok {
			minutes[e.TaskID] += m
		}
	}

	hours := make(map[int64]float64, len(tasks))
	var mismatches []HoursMismatch
	for _, t := range tasks {
		h := round2(minutes[t.ID] / 60)
		hours[t.ID] = h
		if math.Abs(h-t.ActualHours) > hoursTolerance {
			mismatches = append(mismatches, HoursMismatch{TaskID: t.ID, StoredHours: t.ActualHours, LedgerHours: h})
		}
	}
	return hours, mismatches
}
