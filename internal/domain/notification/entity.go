package notification

import (
	"fmt"
	"time"

	"marketdash/internal/domain/project"
)

// Template names a message layout the delivery side knows how to render.
type Template string

const (
	TemplateMilestoneCompleted Template = "milestone_completed" // Client: a phase is done
	TemplateTaskCompleted      Template = "task_completed"      // Client: a task is done
	TemplateApprovalRequested  Template = "approval_requested"  // Other party: sign-off needed
	TemplateApprovalResolved   Template = "approval_resolved"   // Requester: sign-off answered
)

// Message is addressed to a role on a booking, not to a user; the delivery
// side resolves the actual recipient.
type Message struct {
	Template      Template       `json:"template"`
	RecipientRole project.Role   `json:"recipient_role"`
	BookingID     int64          `json:"booking_id"`
	Title         string         `json:"title"`
	Body          string         `json:"body,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RoutingKey is the topic key the message is published under.
func (m Message) RoutingKey() string {
	return "notify." + string(m.RecipientRole)
}

func MilestoneCompleted(bookingID int64, m project.Milestone) Message {
	return Message{
		Template:      TemplateMilestoneCompleted,
		RecipientRole: project.RoleClient,
		BookingID:     bookingID,
		Title:         "Milestone completed",
		Body:          fmt.Sprintf("%q is complete", m.Title),
		Data: map[string]any{
			"milestone_id": m.ID,
			"order_index":  m.OrderIndex,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TaskCompleted(bookingID int64, t project.Task) Message {
	return Message{
		Template:      TemplateTaskCompleted,
		RecipientRole: project.RoleClient,
		BookingID:     bookingID,
		Title:         "Task completed",
		Body:          fmt.Sprintf("%q is complete", t.Title),
		Data: map[string]any{
			"task_id":      t.ID,
			"milestone_id": t.MilestoneID,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// ApprovalRequested goes to whichever party did not ask.
func ApprovalRequested(a project.ApprovalRequest) Message {
	return Message{
		Template:      TemplateApprovalRequested,
		RecipientRole: counterpart(a.RequestedByRole),
		BookingID:     a.BookingID,
		Title:         "Approval requested",
		Data: map[string]any{
			"approval_id": a.ID,
			"task_id":     a.TaskID,
			"type":        a.Type,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func ApprovalResolved(a project.ApprovalRequest) Message {
	return Message{
		Template:      TemplateApprovalResolved,
		RecipientRole: a.RequestedByRole,
		BookingID:     a.BookingID,
		Title:         "Approval " + string(a.Status),
		Body:          a.Notes,
		Data: map[string]any{
			"approval_id": a.ID,
			"task_id":     a.TaskID,
			"status":      a.Status,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func counterpart(r project.Role) project.Role {
	if r == project.RoleClient {
		return project.RoleProvider
	}
	return project.RoleClient
}
