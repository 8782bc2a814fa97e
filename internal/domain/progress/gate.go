package progress

import (
	"sort"

	"marketdash/internal/domain/project"
)

type GateReason string

const (
	ReasonFirstMilestone        GateReason = "first_milestone"
	ReasonAlreadyStarted        GateReason = "already_started"
	ReasonPredecessorCompleted  GateReason = "predecessor_completed"
	ReasonPredecessorIncomplete GateReason = "predecessor_incomplete"
	ReasonMissingDependency     GateReason = "missing_dependency"
	ReasonTasksIncomplete       GateReason = "tasks_incomplete"
	ReasonReady                 GateReason = "ready"
)

type GateResult struct {
	Startable bool       `json:"startable"`
	Reason    GateReason `json:"reason"`
}

// MilestoneChain is the linear order of a booking's milestones keyed by
// order_index. Milestones form a chain, never a graph.
type MilestoneChain struct {
	ordered []project.Milestone
	byOrder map[int]project.Milestone
}

// NewMilestoneChain copies and sorts ms by order_index. If two milestones share
// an index (a broken invariant), the lower id wins the slot.
func NewMilestoneChain(ms []project.Milestone) *MilestoneChain {
	ordered := make([]project.Milestone, len(ms))
	copy(ordered, ms)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OrderIndex != ordered[j].OrderIndex {
			return ordered[i].OrderIndex < ordered[j].OrderIndex
		}
		return ordered[i].ID < ordered[j].ID
	})

	byOrder := make(map[int]project.Milestone, len(ordered))
	for _, m := range ordered {
		if _, dup := byOrder[m.OrderIndex]; !dup {
			byOrder[m.OrderIndex] = m
		}
	}
	return &MilestoneChain{ordered: ordered, byOrder: byOrder}
}

func (c *MilestoneChain) Ordered() []project.Milestone {
	return c.ordered
}

func (c *MilestoneChain) Len() int {
	return len(c.ordered)
}

func (c *MilestoneChain) At(orderIndex int) (project.Milestone, bool) {
	m, ok := c.byOrder[orderIndex]
	return m, ok
}

// Check evaluates the gate for the milestone at orderIndex. An index that is
// not in the chain, or whose predecessor is not, fails closed.
func (c *MilestoneChain) Check(orderIndex int) GateResult {
	m, ok := c.byOrder[orderIndex]
	if !ok {
		return GateResult{Startable: false, Reason: ReasonMissingDependency}
	}
	return c.CheckMilestone(m)
}

// CheckMilestone evaluates the gate for m using m's own status, so a freshly
// edited copy can be checked against the chain it came from.
func (c *MilestoneChain) CheckMilestone(m project.Milestone) GateResult {
	if m.Status == project.MilestoneInProgress || m.Status == project.MilestoneCompleted {
		return GateResult{Startable: true, Reason: ReasonAlreadyStarted}
	}
	if m.OrderIndex == 1 {
		return GateResult{Startable: true, Reason: ReasonFirstMilestone}
	}
	prev, ok := c.byOrder[m.OrderIndex-1]
	if !ok {
		return GateResult{Startable: false, Reason: ReasonMissingDependency}
	}
	if prev.Status == project.MilestoneCompleted {
		return GateResult{Startable: true, Reason: ReasonPredecessorCompleted}
	}
	return GateResult{Startable: false, Reason: ReasonPredecessorIncomplete}
}

func (c *MilestoneChain) IsStartable(orderIndex int) bool {
	return c.Check(orderIndex).Startable
}

// CanComplete reports whether m may move to completed: its gate must be open
// and every non-cancelled task under it must be completed.
func (c *MilestoneChain) CanComplete(m project.Milestone, tasks []project.Task) GateResult {
	gate := c.CheckMilestone(m)
	if !gate.Startable {
		return gate
	}
	for _, t := range tasks {
		if t.MilestoneID != m.ID {
			continue
		}
		switch project.NormalizeTaskStatus(t.Status) {
		case project.TaskCompleted, project.TaskCancelled:
		default:
			return GateResult{Startable: false, Reason: ReasonTasksIncomplete}
		}
	}
	return GateResult{Startable: true, Reason: ReasonReady}
}

type DependencyWarning struct {
	TaskID    int64  `json:"task_id"`
	DependsOn int64  `json:"depends_on"`
	Reason    string `json:"reason"` // "incomplete" or "missing"
}

// TaskDependencyWarnings lists the declared dependencies of task that are not
// completed. Warnings only: callers must not block on them.
func TaskDependencyWarnings(task project.Task, tasks []project.Task) []DependencyWarning {
	if len(task.Dependencies) == 0 {
		return nil
	}
	byID := make(map[int64]project.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var out []DependencyWarning
	for _, dep := range task.Dependencies {
		if dep == task.ID {
			continue
		}
		d, ok := byID[dep]
		if !ok {
			out = append(out, DependencyWarning{TaskID: task.ID, DependsOn: dep, Reason: "missing"})
			continue
		}
		if project.NormalizeTaskStatus(d.Status) != project.TaskCompleted {
			out = append(out, DependencyWarning{TaskID: task.ID, DependsOn: dep, Reason: "incomplete"})
		}
	}
	return out
}
