package model

import (
	"time"
)

// ActionKind 编排器可接受的动作，封闭集合
type ActionKind string

const (
	ActionFund            ActionKind = "fund"
	ActionStart           ActionKind = "start"
	ActionSubmit          ActionKind = "submit"
	ActionApprove         ActionKind = "approve"
	ActionRequestRevision ActionKind = "request_revision"
	ActionDispute         ActionKind = "dispute"
	ActionRefund          ActionKind = "refund"
	ActionCancel          ActionKind = "cancel"
	ActionResolve         ActionKind = "resolve"
)

// SettlementEvent 每次成功的 apply 产生一条，下游按 EventID 幂等消费
type SettlementEvent struct {
	EventID         string       `json:"event_id"`
	EscrowID        string       `json:"escrow_id"`
	ContractID      string       `json:"contract_id"`
	MilestoneID     string       `json:"milestone_id,omitempty"`
	Action          ActionKind   `json:"action"`
	ActorID         string       `json:"actor_id"`
	ResultingStatus EscrowStatus `json:"resulting_status"`
	AmountMoved     int64        `json:"amount_moved"`
	RefundedAmount  int64        `json:"refunded_amount,omitempty"`
	WorkerPayout    int64        `json:"worker_payout,omitempty"`
	Currency        string       `json:"currency"`
	OccurredAt      time.Time    `json:"occurred_at"`
}
