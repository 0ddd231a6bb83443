package statemachine

import (
	"fmt"
	"time"

	"escrowsystem/internal/model"
	"escrowsystem/pkg/money"
)

// Fund pending -> funded，全额一次性注资，不支持部分注资
func (a *Aggregate) Fund(amount money.Money, now time.Time) (Effect, error) {
	e := a.Escrow
	if e.Status != model.EscrowStatusPending {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionFund, From: string(e.Status)}
	}
	if amount.Currency != e.Currency || amount.Amount != e.TotalAmount {
		return Effect{}, fmt.Errorf("%w: got %s, want %s", model.ErrFundingMismatch, amount, e.Total())
	}
	funded, err := e.Funded().Add(amount)
	if err != nil {
		return Effect{}, err
	}
	if err := setEscrowStatus(e, model.EscrowStatusFunded, model.ActionFund); err != nil {
		return Effect{}, err
	}
	e.FundedAmount = funded.Amount
	e.FundedAt = &now
	return Effect{Funded: amount.Amount}, nil
}

// Refund funded -> refunded，仅在尚未放款时允许，已放款只能走争议裁决
func (a *Aggregate) Refund(now time.Time) (Effect, error) {
	e := a.Escrow
	if e.Status != model.EscrowStatusFunded {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionRefund, From: string(e.Status)}
	}
	if e.ReleasedAmount != 0 {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionRefund, From: string(e.Status), Reason: "funds already released"}
	}
	if err := setEscrowStatus(e, model.EscrowStatusRefunded, model.ActionRefund); err != nil {
		return Effect{}, err
	}
	if err := a.closeOpenMilestones(model.ActionRefund); err != nil {
		return Effect{}, err
	}
	held := e.Held()
	refunded, err := e.Refunded().Add(held)
	if err != nil {
		return Effect{}, err
	}
	e.RefundedAmount = refunded.Amount
	e.ClosedAt = &now
	return Effect{Refunded: held.Amount}, nil
}

// Cancel pending -> cancelled，从未注资过的托管才能取消
func (a *Aggregate) Cancel(now time.Time) (Effect, error) {
	e := a.Escrow
	if e.Status != model.EscrowStatusPending {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionCancel, From: string(e.Status)}
	}
	if e.FundedAmount != 0 {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionCancel, From: string(e.Status), Reason: "escrow was funded"}
	}
	if err := setEscrowStatus(e, model.EscrowStatusCancelled, model.ActionCancel); err != nil {
		return Effect{}, err
	}
	if err := a.closeOpenMilestones(model.ActionCancel); err != nil {
		return Effect{}, err
	}
	e.ClosedAt = &now
	return Effect{}, nil
}

// Resolve 争议外部裁决：releaseAmount 放给工作者，其余托管余额退回客户
func (a *Aggregate) Resolve(releaseAmount int64, now time.Time) (Effect, error) {
	e := a.Escrow
	if e.Status != model.EscrowStatusDisputed {
		return Effect{}, &model.InvalidTransitionError{Action: model.ActionResolve, From: string(e.Status)}
	}
	if releaseAmount < 0 {
		return Effect{}, fmt.Errorf("%w: negative release amount", model.ErrInvalidPayload)
	}
	held := e.Held()
	if releaseAmount > held.Amount {
		return Effect{}, &model.InsufficientFundsError{EscrowID: e.ID, Requested: releaseAmount, Available: held.Amount}
	}
	release := money.New(releaseAmount, e.Currency)
	refund, err := held.Sub(release)
	if err != nil {
		return Effect{}, err
	}
	released, err := e.Released().Add(release)
	if err != nil {
		return Effect{}, err
	}
	refunded, err := e.Refunded().Add(refund)
	if err != nil {
		return Effect{}, err
	}

	target := model.EscrowStatusReleased
	if releaseAmount == 0 {
		target = model.EscrowStatusRefunded
	}
	if err := setEscrowStatus(e, target, model.ActionResolve); err != nil {
		return Effect{}, err
	}
	if err := a.closeOpenMilestones(model.ActionResolve); err != nil {
		return Effect{}, err
	}
	e.ReleasedAmount = released.Amount
	e.RefundedAmount = refunded.Amount
	e.ClosedAt = &now
	return Effect{Released: releaseAmount, Refunded: refund.Amount}, nil
}

func (a *Aggregate) closeOpenMilestones(action model.ActionKind) error {
	for _, m := range a.Milestones {
		if m.Status.IsSettled() {
			continue
		}
		if err := setMilestoneStatus(m, model.MilestoneStatusClosed, action); err != nil {
			return err
		}
	}
	return nil
}
