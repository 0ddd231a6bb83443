package repository

import (
	"context"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.EscrowTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListByEscrow 按写入顺序返回
func (r *TransactionRepository) ListByEscrow(ctx context.Context, escrowID string, page, pageSize int) ([]*model.EscrowTransaction, int64, error) {
	var transactions []*model.EscrowTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.EscrowTransaction{}).Where("escrow_id = ?", escrowID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// LedgerTotals 流水按类型汇总
type LedgerTotals struct {
	Funded   int64
	Released int64
	Refunded int64
}

func (r *TransactionRepository) SumByEscrow(ctx context.Context, escrowID string) (LedgerTotals, error) {
	var rows []struct {
		Type  string
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.EscrowTransaction{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("escrow_id = ?", escrowID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return LedgerTotals{}, err
	}

	var totals LedgerTotals
	for _, row := range rows {
		switch row.Type {
		case model.TransactionTypeFund:
			totals.Funded = row.Total
		case model.TransactionTypeRelease:
			totals.Released = row.Total
		case model.TransactionTypeRefund:
			totals.Refunded = row.Total
		}
	}
	return totals, nil
}
