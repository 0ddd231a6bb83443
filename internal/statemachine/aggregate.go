// Package statemachine 托管账户与里程碑的状态迁移与守卫。
//
// 所有函数只修改内存中的聚合，不做任何 I/O；调用方负责在同一事务内持久化，
// 出错时丢弃聚合即可，不会有部分写入。
package statemachine

import (
	"sort"

	"escrowsystem/internal/model"
)

// Aggregate 一个托管账户及其全部里程碑
type Aggregate struct {
	Escrow     *model.EscrowAccount
	Milestones []*model.Milestone

	original map[string]model.MilestoneStatus
}

// Effect 单次动作造成的资金变动
type Effect struct {
	MilestoneID string
	Funded      int64
	Released    int64
	Refunded    int64
}

// Moved 本次动作移动的总金额
func (e Effect) Moved() int64 {
	return e.Funded + e.Released + e.Refunded
}

func NewAggregate(escrow *model.EscrowAccount, milestones []*model.Milestone) *Aggregate {
	sorted := make([]*model.Milestone, len(milestones))
	copy(sorted, milestones)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	original := make(map[string]model.MilestoneStatus, len(sorted))
	for _, m := range sorted {
		original[m.ID] = m.Status
	}
	return &Aggregate{Escrow: escrow, Milestones: sorted, original: original}
}

func (a *Aggregate) milestone(id string) (*model.Milestone, error) {
	for _, m := range a.Milestones {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, model.ErrMilestoneNotFound
}

// Changed 状态发生变化的里程碑及其原状态，用于按原状态做 CAS 更新
func (a *Aggregate) Changed() map[*model.Milestone]model.MilestoneStatus {
	out := make(map[*model.Milestone]model.MilestoneStatus)
	for _, m := range a.Milestones {
		if from := a.original[m.ID]; from != m.Status {
			out[m] = from
		}
	}
	return out
}

func setEscrowStatus(e *model.EscrowAccount, target model.EscrowStatus, action model.ActionKind) error {
	if e.Status == target {
		return nil
	}
	if !model.CanEscrowTransition(e.Status, target) {
		return &model.InvalidTransitionError{
			Action: action,
			From:   string(e.Status),
			Reason: "escrow cannot move to " + string(target),
		}
	}
	e.Status = target
	return nil
}

func setMilestoneStatus(m *model.Milestone, target model.MilestoneStatus, action model.ActionKind) error {
	if !model.CanMilestoneTransition(m.Status, target) {
		return &model.InvalidTransitionError{
			Action: action,
			From:   string(m.Status),
			Reason: "milestone " + m.ID + " cannot move to " + string(target),
		}
	}
	m.Status = target
	return nil
}

// guardOpen 争议冻结或已终结的托管拒绝一切里程碑动作
func guardOpen(e *model.EscrowAccount, action model.ActionKind) error {
	switch {
	case e.Status == model.EscrowStatusDisputed:
		return &model.InvalidTransitionError{Action: action, From: string(e.Status), Reason: "escrow is frozen by dispute"}
	case e.Status.IsTerminal():
		return &model.InvalidTransitionError{Action: action, From: string(e.Status), Reason: "escrow is closed"}
	case !e.Status.IsActive():
		return &model.InvalidTransitionError{Action: action, From: string(e.Status), Reason: "escrow is not funded"}
	}
	return nil
}

// Project 由里程碑推导托管聚合状态
//
// 全额放款即 released；否则按 submitted > revision_requested > in_progress 取当前活跃里程碑，
// 已有放款但其余里程碑尚未开始时仍视为 work_started。
func Project(e *model.EscrowAccount, milestones []*model.Milestone) model.EscrowStatus {
	if e.TotalAmount > 0 && e.ReleasedAmount == e.TotalAmount {
		return model.EscrowStatusReleased
	}

	var submitted, revision, inProgress bool
	for _, m := range milestones {
		switch m.Status {
		case model.MilestoneStatusSubmitted:
			submitted = true
		case model.MilestoneStatusRevisionRequested:
			revision = true
		case model.MilestoneStatusInProgress:
			inProgress = true
		}
	}

	switch {
	case submitted:
		return model.EscrowStatusWorkSubmitted
	case revision:
		return model.EscrowStatusRevisionRequested
	case inProgress, e.ReleasedAmount > 0:
		return model.EscrowStatusWorkStarted
	default:
		return model.EscrowStatusFunded
	}
}

func (a *Aggregate) project(action model.ActionKind) error {
	return setEscrowStatus(a.Escrow, Project(a.Escrow, a.Milestones), action)
}
