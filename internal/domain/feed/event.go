package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type EntityType string

const (
	EntityBooking    EntityType = "bookings"
	EntityMilestone  EntityType = "milestones"
	EntityTask       EntityType = "tasks"
	EntityTimeEntry  EntityType = "time_entries"
	EntityApproval   EntityType = "approval_requests"
	EntityComment    EntityType = "task_comments"
	EntityAttachment EntityType = "task_attachments"
	EntityInvoice    EntityType = "invoices"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent signals that some row scoped to BookingID changed. It carries no
// row data; subscribers re-fetch.
type ChangeEvent struct {
	BookingID int64      `json:"booking_id"`
	Entity    EntityType `json:"entity"`
	Kind      ChangeKind `json:"kind"`
	At        time.Time  `json:"at"`
}

var ErrClosed = errors.New("feed closed")

// Feed is the change-notification subscription keyed by booking id.
// Channels returned by Subscribe are closed when ctx ends.
type Feed interface {
	Subscribe(ctx context.Context, bookingID int64) (<-chan ChangeEvent, error)
	Publish(ctx context.Context, ev ChangeEvent) error
}

func encode(ev ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decode(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
