package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketdash/internal/domain/project"
)

func chainOf(statuses ...project.MilestoneStatus) []project.Milestone {
	out := make([]project.Milestone, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, project.Milestone{ID: int64(100 + i), OrderIndex: i + 1, Status: s})
	}
	return out
}

func TestGateScenarioC(t *testing.T) {
	c := NewMilestoneChain(chainOf(project.MilestoneCompleted, project.MilestoneInProgress, project.MilestonePending))

	assert.True(t, c.IsStartable(1))
	assert.True(t, c.IsStartable(2))
	assert.False(t, c.IsStartable(3))
	assert.Equal(t, ReasonPredecessorIncomplete, c.Check(3).Reason)
}

func TestGateFirstMilestoneAlwaysStartable(t *testing.T) {
	c := NewMilestoneChain(chainOf(project.MilestonePending, project.MilestonePending))
	assert.Equal(t, GateResult{Startable: true, Reason: ReasonFirstMilestone}, c.Check(1))
	assert.False(t, c.IsStartable(2))
}

func TestGateStartedMilestoneNeverRelocks(t *testing.T) {
	// predecessor reopened after the successor started
	c := NewMilestoneChain(chainOf(project.MilestoneInProgress, project.MilestoneCompleted, project.MilestoneInProgress))
	assert.True(t, c.IsStartable(2))
	assert.True(t, c.IsStartable(3))
	assert.Equal(t, ReasonAlreadyStarted, c.Check(3).Reason)
}

func TestGateProperty(t *testing.T) {
	statuses := []project.MilestoneStatus{project.MilestonePending, project.MilestoneInProgress, project.MilestoneCompleted}
	for _, a := range statuses {
		for _, b := range statuses {
			ms := chainOf(a, b, project.MilestonePending)
			c := NewMilestoneChain(ms)
			for n := 1; n <= 3; n++ {
				m, _ := c.At(n)
				want := n == 1 || m.Status != project.MilestonePending
				if n > 1 {
					prev, _ := c.At(n - 1)
					want = want || prev.Status == project.MilestoneCompleted
				}
				assert.Equal(t, want, c.IsStartable(n), "statuses %v/%v index %d", a, b, n)
			}
		}
	}
}

func TestGateFailsClosedOnMissingPredecessor(t *testing.T) {
	c := NewMilestoneChain([]project.Milestone{
		{ID: 1, OrderIndex: 1, Status: project.MilestoneCompleted},
		{ID: 3, OrderIndex: 3, Status: project.MilestonePending},
	})
	assert.Equal(t, GateResult{Startable: false, Reason: ReasonMissingDependency}, c.Check(3))
	assert.Equal(t, GateResult{Startable: false, Reason: ReasonMissingDependency}, c.Check(7))
}

func TestMilestoneChainSortsAndDedupes(t *testing.T) {
	c := NewMilestoneChain([]project.Milestone{
		{ID: 9, OrderIndex: 2},
		{ID: 4, OrderIndex: 1},
		{ID: 2, OrderIndex: 2},
	})
	ordered := c.Ordered()
	assert.Equal(t, []int64{4, 2, 9}, []int64{ordered[0].ID, ordered[1].ID, ordered[2].ID})
	m, ok := c.At(2)
	assert.True(t, ok)
	assert.Equal(t, int64(2), m.ID)
}

func TestCanComplete(t *testing.T) {
	ms := chainOf(project.MilestoneCompleted, project.MilestoneInProgress)
	c := NewMilestoneChain(ms)
	tasks := []project.Task{
		{ID: 1, MilestoneID: ms[1].ID, Status: project.TaskCompleted},
		{ID: 2, MilestoneID: ms[1].ID, Status: project.TaskCancelled},
		{ID: 3, MilestoneID: ms[1].ID, Status: project.TaskInProgress},
		{ID: 4, MilestoneID: ms[0].ID, Status: project.TaskInProgress},
	}
	assert.Equal(t, ReasonTasksIncomplete, c.CanComplete(ms[1], tasks).Reason)

	tasks[2].Status = project.TaskCompleted
	assert.Equal(t, GateResult{Startable: true, Reason: ReasonReady}, c.CanComplete(ms[1], tasks))

	locked := NewMilestoneChain(chainOf(project.MilestonePending, project.MilestonePending))
	m2, _ := locked.At(2)
	assert.False(t, locked.CanComplete(m2, nil).Startable)
}

func TestTaskDependencyWarnings(t *testing.T) {
	tasks := []project.Task{
		{ID: 1, Status: project.TaskCompleted},
		{ID: 2, Status: "pending"},
		{ID: 3, Status: project.TaskInProgress, Dependencies: []int64{1, 2, 42, 3}},
	}
	got := TaskDependencyWarnings(tasks[2], tasks)
	assert.Equal(t, []DependencyWarning{
		{TaskID: 3, DependsOn: 2, Reason: "incomplete"},
		{TaskID: 3, DependsOn: 42, Reason: "missing"},
	}, got)

	assert.Nil(t, TaskDependencyWarnings(tasks[0], tasks))
}
