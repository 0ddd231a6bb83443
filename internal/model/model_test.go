package model

import (
	"errors"
	"testing"
)

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []EscrowStatus{EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(ValidEscrowTransitions[s]) != 0 {
			t.Errorf("terminal %s has outgoing transitions", s)
		}
	}
	for _, s := range []MilestoneStatus{MilestoneStatusReleased, MilestoneStatusClosed} {
		if len(ValidMilestoneTransitions[s]) != 0 {
			t.Errorf("settled milestone %s has outgoing transitions", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to EscrowStatus
		want     bool
	}{
		{EscrowStatusPending, EscrowStatusFunded, true},
		{EscrowStatusPending, EscrowStatusCancelled, true},
		{EscrowStatusFunded, EscrowStatusCancelled, false},
		{EscrowStatusFunded, EscrowStatusRefunded, true},
		{EscrowStatusWorkSubmitted, EscrowStatusReleased, true},
		{EscrowStatusDisputed, EscrowStatusWorkStarted, false},
		{EscrowStatusReleased, EscrowStatusRefunded, false},
	}
	for _, tt := range tests {
		if got := CanEscrowTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanEscrowTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if CanMilestoneTransition(MilestoneStatusReleased, MilestoneStatusApproved) {
		t.Error("released milestone must not move back to approved")
	}
	if !CanMilestoneTransition(MilestoneStatusRevisionRequested, MilestoneStatusSubmitted) {
		t.Error("revision loop must allow resubmission")
	}
}

func TestCheckInvariant(t *testing.T) {
	e := &EscrowAccount{ID: "ESC1", TotalAmount: 1000, FundedAmount: 1000, ReleasedAmount: 600, RefundedAmount: 400}
	if err := e.CheckInvariant(); err != nil {
		t.Fatalf("balanced escrow rejected: %v", err)
	}
	if e.Held().Amount != 0 {
		t.Fatalf("held = %d", e.Held().Amount)
	}

	e.ReleasedAmount = 601
	if err := e.CheckInvariant(); err == nil {
		t.Fatal("over-release accepted")
	}

	e = &EscrowAccount{ID: "ESC2", TotalAmount: 1000, FundedAmount: 1200}
	if err := e.CheckInvariant(); err == nil {
		t.Fatal("over-funding accepted")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&LockTimeoutError{EscrowID: "ESC1"}) {
		t.Error("lock timeout should be retryable")
	}
	wrapped := errors.Join(errors.New("context"), &InvalidTransitionError{Action: ActionApprove, From: "released"})
	if IsRetryable(wrapped) {
		t.Error("invalid transition must not be retryable")
	}
	if IsRetryable(ErrEscrowNotFound) {
		t.Error("plain errors are not retryable")
	}
}
