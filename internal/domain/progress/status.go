package progress

import (
	"fmt"
	"strings"

	"marketdash/internal/domain/project"
)

type DerivedState string

const (
	StateDelivered     DerivedState = "delivered"
	StateInProduction  DerivedState = "in_production"
	StateReadyToLaunch DerivedState = "ready_to_launch"
	StateApproved      DerivedState = "approved"
	StatePendingReview DerivedState = "pending_review"
	StateCancelled     DerivedState = "cancelled"
	StateOnHold        DerivedState = "on_hold"
)

// AllStates lists every value DeriveStatus can return.
var AllStates = []DerivedState{
	StateDelivered,
	StateInProduction,
	StateReadyToLaunch,
	StateApproved,
	StatePendingReview,
	StateCancelled,
	StateOnHold,
}

// BookingSignals are the independently-written booking fields the derived
// state is computed from.
type BookingSignals struct {
	Status             project.BookingStatus
	ApprovalStatus     project.ApprovalStatus
	ProgressPercentage *float64
}

type InvoiceSignal struct {
	Status project.InvoiceStatus
}

type Derivation struct {
	State    DerivedState `json:"state"`
	Subtitle string       `json:"subtitle"`
}

type statusRule struct {
	name     string
	match    func(b BookingSignals, inv *InvoiceSignal) bool
	state    DerivedState
	subtitle func(b BookingSignals) string
}

func fixed(s string) func(BookingSignals) string {
	return func(BookingSignals) string { return s }
}

// statusRules is evaluated top to bottom and the first match wins. The order
// is the contract; do not sort or reorder.
var statusRules = []statusRule{
	{
		name:     "completed",
		match:    func(b BookingSignals, _ *InvoiceSignal) bool { return b.Status == project.BookingCompleted },
		state:    StateDelivered,
		subtitle: fixed("Project delivered"),
	},
	{
		name:     "in_progress",
		match:    func(b BookingSignals, _ *InvoiceSignal) bool { return b.Status == project.BookingInProgress },
		state:    StateInProduction,
		subtitle: inProductionSubtitle,
	},
	{
		name: "invoice_issued",
		match: func(_ BookingSignals, inv *InvoiceSignal) bool {
			return inv != nil && (inv.Status == project.InvoiceIssued || inv.Status == project.InvoicePaid)
		},
		state:    StateReadyToLaunch,
		subtitle: fixed("Invoice issued, ready to launch"),
	},
	{
		name: "approved",
		match: func(b BookingSignals, _ *InvoiceSignal) bool {
			return b.ApprovalStatus == project.ApprovalApproved || b.Status == project.BookingApproved
		},
		state:    StateApproved,
		subtitle: fixed("Approved, awaiting kickoff"),
	},
	{
		name: "cancelled",
		match: func(b BookingSignals, _ *InvoiceSignal) bool {
			return b.Status == project.BookingDeclined ||
				b.Status == project.BookingCancelled ||
				b.ApprovalStatus == project.ApprovalDeclined
		},
		state:    StateCancelled,
		subtitle: fixed("Booking cancelled or declined"),
	},
	{
		name:     "on_hold",
		match:    func(b BookingSignals, _ *InvoiceSignal) bool { return b.Status == project.BookingOnHold },
		state:    StateOnHold,
		subtitle: fixed("Work paused"),
	},
}

var fallbackRule = statusRule{
	name:     "fallback",
	state:    StatePendingReview,
	subtitle: fixed("Awaiting review"),
}

func inProductionSubtitle(b BookingSignals) string {
	if b.ProgressPercentage == nil {
		return "In production"
	}
	return fmt.Sprintf("In production · %.0f%% complete", RoundHalfUp(Clamp(*b.ProgressPercentage)))
}

// DeriveStatus maps booking signals (and the optional invoice) onto one
// canonical state. Unknown raw values fall through to pending_review.
func DeriveStatus(b BookingSignals, inv *InvoiceSignal) Derivation {
	b = normalizeSignals(b)
	rule := matchRule(b, normalizeInvoice(inv))
	return Derivation{State: rule.state, Subtitle: rule.subtitle(b)}
}

// MatchedRule names the rule that produced the derivation. Used in logs.
func MatchedRule(b BookingSignals, inv *InvoiceSignal) string {
	return matchRule(normalizeSignals(b), normalizeInvoice(inv)).name
}

func matchRule(b BookingSignals, inv *InvoiceSignal) statusRule {
	for _, r := range statusRules {
		if r.match(b, inv) {
			return r
		}
	}
	return fallbackRule
}

func SignalsFrom(b project.Booking) BookingSignals {
	return BookingSignals{
		Status:             b.Status,
		ApprovalStatus:     b.ApprovalStatus,
		ProgressPercentage: b.ProgressPercentage,
	}
}

func InvoiceFrom(inv *project.Invoice) *InvoiceSignal {
	if inv == nil {
		return nil
	}
	return &InvoiceSignal{Status: inv.Status}
}

func normalizeSignals(b BookingSignals) BookingSignals {
	b.Status = project.BookingStatus(lower(string(b.Status)))
	b.ApprovalStatus = project.ApprovalStatus(lower(string(b.ApprovalStatus)))
	return b
}

func normalizeInvoice(inv *InvoiceSignal) *InvoiceSignal {
	if inv == nil {
		return nil
	}
	return &InvoiceSignal{Status: project.InvoiceStatus(lower(string(inv.Status)))}
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
