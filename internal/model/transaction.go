package model

import (
	"time"
)

// ============================================================================
// 托管流水类型
// ============================================================================

const (
	TransactionTypeFund    = "FUND"    // 客户注资
	TransactionTypeRelease = "RELEASE" // 放款给工作者
	TransactionTypeRefund  = "REFUND"  // 退回客户
)

// EscrowTransaction 托管流水表
// 只追加不修改；每笔资金变动记录变动前后的累计值，对账任务据此校验账户
//
// 放款流水额外记录佣金拆分，实际打款由外部支付通道完成，这里只记录授权
type EscrowTransaction struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	EscrowID         string    `gorm:"type:varchar(64);index;not null" json:"escrow_id"`
	MilestoneID      string    `gorm:"type:varchar(64);index" json:"milestone_id,omitempty"`
	EventID          string    `gorm:"type:varchar(64);index;not null" json:"event_id"`
	Type             string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Currency         string    `gorm:"type:char(3);not null" json:"currency"`
	BalanceBefore    int64     `gorm:"not null" json:"balance_before"` // 对应累计字段变动前
	BalanceAfter     int64     `gorm:"not null" json:"balance_after"`
	WorkerCommission int64     `gorm:"not null;default:0" json:"worker_commission"`
	TDSWithholding   int64     `gorm:"not null;default:0" json:"tds_withholding"`
	WorkerPayout     int64     `gorm:"not null;default:0" json:"worker_payout"`
	ActorID          string    `gorm:"type:varchar(64);not null" json:"actor_id"`
	Remark           string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EscrowTransaction) TableName() string {
	return "escrow_transaction"
}
