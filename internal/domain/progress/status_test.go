package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketdash/internal/domain/project"
)

func f64(v float64) *float64 { return &v }

func TestDeriveStatusPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		signals BookingSignals
		invoice *InvoiceSignal
		want    DerivedState
	}{
		{"completed beats everything", BookingSignals{Status: project.BookingCompleted, ApprovalStatus: project.ApprovalDeclined}, &InvoiceSignal{Status: project.InvoicePaid}, StateDelivered},
		{"in progress beats paid invoice", BookingSignals{Status: project.BookingInProgress}, &InvoiceSignal{Status: project.InvoicePaid}, StateInProduction},
		{"issued invoice", BookingSignals{Status: project.BookingPending}, &InvoiceSignal{Status: project.InvoiceIssued}, StateReadyToLaunch},
		{"draft invoice ignored", BookingSignals{Status: project.BookingPending}, &InvoiceSignal{Status: project.InvoiceDraft}, StatePendingReview},
		{"invoice beats declined approval", BookingSignals{Status: project.BookingPending, ApprovalStatus: project.ApprovalDeclined}, &InvoiceSignal{Status: project.InvoicePaid}, StateReadyToLaunch},
		{"approval status approved", BookingSignals{Status: project.BookingPending, ApprovalStatus: project.ApprovalApproved}, nil, StateApproved},
		{"raw status approved", BookingSignals{Status: project.BookingApproved}, nil, StateApproved},
		{"approved beats cancelled", BookingSignals{Status: project.BookingCancelled, ApprovalStatus: project.ApprovalApproved}, nil, StateApproved},
		{"declined", BookingSignals{Status: project.BookingDeclined}, nil, StateCancelled},
		{"cancelled", BookingSignals{Status: project.BookingCancelled}, nil, StateCancelled},
		{"approval declined", BookingSignals{Status: project.BookingPending, ApprovalStatus: project.ApprovalDeclined}, nil, StateCancelled},
		{"cancelled beats on hold approval", BookingSignals{Status: project.BookingOnHold, ApprovalStatus: project.ApprovalDeclined}, nil, StateCancelled},
		{"on hold", BookingSignals{Status: project.BookingOnHold}, nil, StateOnHold},
		{"rescheduled falls back", BookingSignals{Status: project.BookingRescheduled}, nil, StatePendingReview},
		{"unknown falls back", BookingSignals{Status: "archived_by_robot"}, nil, StatePendingReview},
		{"empty falls back", BookingSignals{}, nil, StatePendingReview},
		{"case insensitive", BookingSignals{Status: " Completed "}, nil, StateDelivered},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(tc.signals, tc.invoice)
			assert.Equal(t, tc.want, got.State)
			assert.NotEmpty(t, got.Subtitle)
		})
	}
}

func TestDeriveStatusScenarioA(t *testing.T) {
	got := DeriveStatus(BookingSignals{Status: project.BookingPending, ApprovalStatus: project.ApprovalApproved}, nil)
	assert.Equal(t, StateApproved, got.State)
}

func TestDeriveStatusScenarioB(t *testing.T) {
	got := DeriveStatus(BookingSignals{Status: project.BookingInProgress}, &InvoiceSignal{Status: project.InvoicePaid})
	assert.Equal(t, StateInProduction, got.State)
}

func TestDeriveStatusAlwaysOneOfSeven(t *testing.T) {
	statuses := []project.BookingStatus{"", "pending", "approved", "in_progress", "completed", "cancelled", "declined", "rescheduled", "on_hold", "weird"}
	approvals := []project.ApprovalStatus{"", "pending", "approved", "declined", "weird"}
	invoices := []*InvoiceSignal{nil, {Status: "draft"}, {Status: "issued"}, {Status: "paid"}, {Status: "weird"}}

	allowed := make(map[DerivedState]bool, len(AllStates))
	for _, s := range AllStates {
		allowed[s] = true
	}
	assert.Len(t, allowed, 7)

	for _, s := range statuses {
		for _, a := range approvals {
			for _, inv := range invoices {
				got := DeriveStatus(BookingSignals{Status: s, ApprovalStatus: a, ProgressPercentage: f64(140)}, inv)
				assert.True(t, allowed[got.State], "unexpected state %q", got.State)
				if s == project.BookingCompleted {
					assert.Equal(t, StateDelivered, got.State)
				}
			}
		}
	}
}

func TestDeriveStatusSubtitleClampsProgress(t *testing.T) {
	got := DeriveStatus(BookingSignals{Status: project.BookingInProgress, ProgressPercentage: f64(142.4)}, nil)
	assert.Equal(t, "In production · 100% complete", got.Subtitle)

	got = DeriveStatus(BookingSignals{Status: project.BookingInProgress, ProgressPercentage: f64(39.5)}, nil)
	assert.Equal(t, "In production · 40% complete", got.Subtitle)

	got = DeriveStatus(BookingSignals{Status: project.BookingInProgress}, nil)
	assert.Equal(t, "In production", got.Subtitle)
}

func TestMatchedRule(t *testing.T) {
	assert.Equal(t, "invoice_issued", MatchedRule(BookingSignals{Status: project.BookingPending}, &InvoiceSignal{Status: "PAID"}))
	assert.Equal(t, "fallback", MatchedRule(BookingSignals{Status: project.BookingRescheduled}, nil))
}
