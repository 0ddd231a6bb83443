package statemachine

import (
	"time"

	"escrowsystem/internal/model"
)

// Start pending -> in_progress，托管必须已注资且未冻结
func (a *Aggregate) Start(milestoneID string, now time.Time) (Effect, error) {
	if err := guardOpen(a.Escrow, model.ActionStart); err != nil {
		return Effect{}, err
	}
	m, err := a.milestone(milestoneID)
	if err != nil {
		return Effect{}, err
	}
	if m.Status != model.MilestoneStatusPending {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionStart, From: string(m.Status)}
	}
	if err := setMilestoneStatus(m, model.MilestoneStatusInProgress, model.ActionStart); err != nil {
		return Effect{}, err
	}
	return Effect{MilestoneID: m.ID}, a.project(model.ActionStart)
}

// Submit {in_progress, revision_requested} -> submitted，备注可以为空
func (a *Aggregate) Submit(milestoneID, notes string, now time.Time) (Effect, error) {
	if err := guardOpen(a.Escrow, model.ActionSubmit); err != nil {
		return Effect{}, err
	}
	m, err := a.milestone(milestoneID)
	if err != nil {
		return Effect{}, err
	}
	if m.Status != model.MilestoneStatusInProgress && m.Status != model.MilestoneStatusRevisionRequested {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionSubmit, From: string(m.Status)}
	}
	if err := setMilestoneStatus(m, model.MilestoneStatusSubmitted, model.ActionSubmit); err != nil {
		return Effect{}, err
	}
	m.WorkerNotes = &notes
	m.SubmittedAt = &now
	return Effect{MilestoneID: m.ID}, a.project(model.ActionSubmit)
}

// ApproveAndRelease submitted -> approved -> released，同一动作内完成，不存在“已批准未付款”的静止状态
func (a *Aggregate) ApproveAndRelease(milestoneID, feedback string, rating *int, now time.Time) (Effect, error) {
	e := a.Escrow
	if err := guardOpen(e, model.ActionApprove); err != nil {
		return Effect{}, err
	}
	m, err := a.milestone(milestoneID)
	if err != nil {
		return Effect{}, err
	}
	if m.Status != model.MilestoneStatusSubmitted {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionApprove, From: string(m.Status)}
	}

	held := e.Held().Amount
	if m.Amount > held {
		return Effect{}, &model.InsufficientFundsError{EscrowID: e.ID, Requested: m.Amount, Available: held}
	}
	released, err := e.Released().Add(m.Money())
	if err != nil {
		return Effect{}, err
	}

	if err := setMilestoneStatus(m, model.MilestoneStatusApproved, model.ActionApprove); err != nil {
		return Effect{}, err
	}
	if err := setMilestoneStatus(m, model.MilestoneStatusReleased, model.ActionApprove); err != nil {
		return Effect{}, err
	}
	if feedback != "" {
		m.ClientFeedback = &feedback
	}
	m.ClientRating = rating
	m.ReleasedAt = &now
	e.ReleasedAmount = released.Amount

	if err := a.project(model.ActionApprove); err != nil {
		return Effect{}, err
	}
	if e.Status == model.EscrowStatusReleased {
		e.ClosedAt = &now
	}
	return Effect{MilestoneID: m.ID, Released: m.Amount}, nil
}

// RequestRevision submitted -> revision_requested，次数受 max_revisions 限制，用尽后只能发起争议
func (a *Aggregate) RequestRevision(milestoneID, feedback string, now time.Time) (Effect, error) {
	e := a.Escrow
	if err := guardOpen(e, model.ActionRequestRevision); err != nil {
		return Effect{}, err
	}
	m, err := a.milestone(milestoneID)
	if err != nil {
		return Effect{}, err
	}
	if m.Status != model.MilestoneStatusSubmitted {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionRequestRevision, From: string(m.Status)}
	}
	if e.RevisionCount >= e.MaxRevisions {
		return Effect{}, &model.RevisionLimitExceededError{EscrowID: e.ID, RevisionCount: e.RevisionCount, MaxRevisions: e.MaxRevisions}
	}
	if err := setMilestoneStatus(m, model.MilestoneStatusRevisionRequested, model.ActionRequestRevision); err != nil {
		return Effect{}, err
	}
	m.ClientFeedback = &feedback
	e.RevisionCount++
	return Effect{MilestoneID: m.ID}, a.project(model.ActionRequestRevision)
}

// Dispute {submitted, revision_requested} -> disputed，托管随之冻结，不移动资金
func (a *Aggregate) Dispute(milestoneID, reason string, now time.Time) (Effect, error) {
	e := a.Escrow
	if err := guardOpen(e, model.ActionDispute); err != nil {
		return Effect{}, err
	}
	m, err := a.milestone(milestoneID)
	if err != nil {
		return Effect{}, err
	}
	if m.Status != model.MilestoneStatusSubmitted && m.Status != model.MilestoneStatusRevisionRequested {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionDispute, From: string(m.Status)}
	}
	if err := setMilestoneStatus(m, model.MilestoneStatusDisputed, model.ActionDispute); err != nil {
		return Effect{}, err
	}
	if reason != "" {
		m.DisputeReason = &reason
	}
	if err := setEscrowStatus(e, model.EscrowStatusDisputed, model.ActionDispute); err != nil {
		return Effect{}, err
	}
	return Effect{MilestoneID: m.ID}, nil
}
