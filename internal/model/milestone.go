package model

import (
	"time"

	"escrowsystem/pkg/money"
)

type MilestoneStatus string

const (
	MilestoneStatusPending           MilestoneStatus = "pending"
	MilestoneStatusInProgress        MilestoneStatus = "in_progress"
	MilestoneStatusSubmitted         MilestoneStatus = "submitted"
	MilestoneStatusApproved          MilestoneStatus = "approved"
	MilestoneStatusRevisionRequested MilestoneStatus = "revision_requested"
	MilestoneStatusDisputed          MilestoneStatus = "disputed"
	MilestoneStatusReleased          MilestoneStatus = "released"
	MilestoneStatusClosed            MilestoneStatus = "closed" // 退款、取消或争议裁决后结清
)

var ValidMilestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:           {MilestoneStatusInProgress, MilestoneStatusClosed},
	MilestoneStatusInProgress:        {MilestoneStatusSubmitted, MilestoneStatusClosed},
	MilestoneStatusSubmitted:         {MilestoneStatusApproved, MilestoneStatusRevisionRequested, MilestoneStatusDisputed, MilestoneStatusClosed},
	MilestoneStatusApproved:          {MilestoneStatusReleased},
	MilestoneStatusRevisionRequested: {MilestoneStatusSubmitted, MilestoneStatusDisputed, MilestoneStatusClosed},
	MilestoneStatusDisputed:          {MilestoneStatusClosed},
}

func CanMilestoneTransition(current, target MilestoneStatus) bool {
	for _, s := range ValidMilestoneTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func (s MilestoneStatus) IsSettled() bool {
	return s == MilestoneStatusReleased || s == MilestoneStatusClosed
}

// Milestone 里程碑，只随所属托管账户在同一事务内修改
type Milestone struct {
	ID             string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	EscrowID       string          `gorm:"type:varchar(64);index;not null" json:"escrow_id"`
	Position       int             `gorm:"not null" json:"position"`
	Title          string          `gorm:"type:varchar(256);not null" json:"title"`
	Amount         int64           `gorm:"not null" json:"amount"`
	Currency       string          `gorm:"type:char(3);not null" json:"currency"`
	DueDate        *time.Time      `json:"due_date"`
	Status         MilestoneStatus `gorm:"type:varchar(32);not null" json:"status"`
	WorkerNotes    *string         `gorm:"type:text" json:"worker_notes"`
	ClientFeedback *string         `gorm:"type:text" json:"client_feedback"`
	ClientRating   *int            `json:"client_rating"`
	DisputeReason  *string         `gorm:"type:text" json:"dispute_reason"`
	SubmittedAt    *time.Time      `json:"submitted_at"`
	ReleasedAt     *time.Time      `json:"released_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Milestone) TableName() string {
	return "escrow_milestone"
}

func (m *Milestone) Money() money.Money {
	return money.New(m.Amount, m.Currency)
}
