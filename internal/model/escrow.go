package model

import (
	"fmt"
	"time"

	"escrowsystem/pkg/money"
)

type EscrowStatus string

const (
	EscrowStatusPending           EscrowStatus = "pending"
	EscrowStatusFunded            EscrowStatus = "funded"
	EscrowStatusWorkStarted       EscrowStatus = "work_started"
	EscrowStatusWorkSubmitted     EscrowStatus = "work_submitted"
	EscrowStatusApproved          EscrowStatus = "approved"
	EscrowStatusRevisionRequested EscrowStatus = "revision_requested"
	EscrowStatusDisputed          EscrowStatus = "disputed"
	EscrowStatusReleased          EscrowStatus = "released"
	EscrowStatusRefunded          EscrowStatus = "refunded"
	EscrowStatusCancelled         EscrowStatus = "cancelled"
)

// ValidEscrowTransitions 托管聚合状态迁移表
// 多里程碑合同中聚合状态跟随当前活跃里程碑，因此工作中状态之间可以互相迁移
var ValidEscrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusPending:           {EscrowStatusFunded, EscrowStatusCancelled},
	EscrowStatusFunded:            {EscrowStatusWorkStarted, EscrowStatusRefunded},
	EscrowStatusWorkStarted:       {EscrowStatusWorkSubmitted, EscrowStatusRevisionRequested},
	EscrowStatusWorkSubmitted:     {EscrowStatusApproved, EscrowStatusReleased, EscrowStatusRevisionRequested, EscrowStatusDisputed, EscrowStatusWorkStarted},
	EscrowStatusApproved:          {EscrowStatusReleased, EscrowStatusWorkStarted, EscrowStatusWorkSubmitted, EscrowStatusRevisionRequested},
	EscrowStatusRevisionRequested: {EscrowStatusWorkSubmitted, EscrowStatusDisputed},
	EscrowStatusDisputed:          {EscrowStatusReleased, EscrowStatusRefunded},
}

func CanEscrowTransition(current, target EscrowStatus) bool {
	for _, s := range ValidEscrowTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal released / refunded / cancelled 之后不再有资金变动
func (s EscrowStatus) IsTerminal() bool {
	switch s {
	case EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled:
		return true
	}
	return false
}

// IsActive 已注资、未冻结、未终结
func (s EscrowStatus) IsActive() bool {
	switch s {
	case EscrowStatusFunded, EscrowStatusWorkStarted, EscrowStatusWorkSubmitted,
		EscrowStatusApproved, EscrowStatusRevisionRequested:
		return true
	}
	return false
}

// EscrowAccount 托管账户
// 金额均为最小货币单位；参与方在注资后不可修改
//
// 不变量：funded_amount >= released_amount + refunded_amount
type EscrowAccount struct {
	ID             string       `gorm:"type:varchar(64);primaryKey" json:"id"`
	RequestID      string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	ContractID     string       `gorm:"type:varchar(64);index;not null" json:"contract_id"`
	ClientID       string       `gorm:"type:varchar(64);index;not null" json:"client_id"`
	WorkerID       string       `gorm:"type:varchar(64);index;not null" json:"worker_id"`
	Currency       string       `gorm:"type:char(3);not null" json:"currency"`
	TotalAmount    int64        `gorm:"not null" json:"total_amount"`
	FundedAmount   int64        `gorm:"not null;default:0" json:"funded_amount"`
	ReleasedAmount int64        `gorm:"not null;default:0" json:"released_amount"`
	RefundedAmount int64        `gorm:"not null;default:0" json:"refunded_amount"`
	Status         EscrowStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	RevisionCount  int          `gorm:"not null;default:0" json:"revision_count"`
	MaxRevisions   int          `gorm:"not null" json:"max_revisions"`
	WorkerTier     string       `gorm:"type:varchar(32)" json:"worker_tier"`
	ClientTier     string       `gorm:"type:varchar(32)" json:"client_tier"`
	IsMicrotask    bool         `gorm:"not null;default:false" json:"is_microtask"`
	Version        int          `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	FundedAt       *time.Time   `json:"funded_at"`
	ClosedAt       *time.Time   `json:"closed_at"`
	CreatedAt      time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EscrowAccount) TableName() string {
	return "escrow_account"
}

func (e *EscrowAccount) Total() money.Money    { return money.New(e.TotalAmount, e.Currency) }
func (e *EscrowAccount) Funded() money.Money   { return money.New(e.FundedAmount, e.Currency) }
func (e *EscrowAccount) Released() money.Money { return money.New(e.ReleasedAmount, e.Currency) }
func (e *EscrowAccount) Refunded() money.Money { return money.New(e.RefundedAmount, e.Currency) }

// Held 仍在托管中的金额
func (e *EscrowAccount) Held() money.Money {
	return money.New(e.FundedAmount-e.ReleasedAmount-e.RefundedAmount, e.Currency)
}

// CheckInvariant 资金守恒校验，任何持久化前都要通过
func (e *EscrowAccount) CheckInvariant() error {
	if e.FundedAmount < 0 || e.ReleasedAmount < 0 || e.RefundedAmount < 0 {
		return fmt.Errorf("escrow %s has negative balance", e.ID)
	}
	if e.FundedAmount > e.TotalAmount {
		return fmt.Errorf("escrow %s funded %d exceeds total %d", e.ID, e.FundedAmount, e.TotalAmount)
	}
	if e.FundedAmount < e.ReleasedAmount+e.RefundedAmount {
		return fmt.Errorf("escrow %s funded %d < released %d + refunded %d",
			e.ID, e.FundedAmount, e.ReleasedAmount, e.RefundedAmount)
	}
	return nil
}
