package repository

import (
	"context"
	"errors"
	"time"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
	ErrDuplicateRequest = errors.New("重复请求")
)

type EscrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *EscrowRepository) Create(ctx context.Context, tx *gorm.DB, escrow *model.EscrowAccount) error {
	err := r.conn(tx).WithContext(ctx).Create(escrow).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *EscrowRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.EscrowAccount, error) {
	var escrow model.EscrowAccount
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrEscrowNotFound
		}
		return nil, err
	}
	return &escrow, nil
}

// GetByRequestID 未找到返回 nil, nil，用于幂等判断
func (r *EscrowRepository) GetByRequestID(ctx context.Context, requestID string) (*model.EscrowAccount, error) {
	var escrow model.EscrowAccount
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &escrow, nil
}

// GetForUpdate 行锁读取；SQLite 不支持 FOR UPDATE，驱动会忽略该子句
func (r *EscrowRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.EscrowAccount, error) {
	var escrow model.EscrowAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrEscrowNotFound
		}
		return nil, err
	}
	return &escrow, nil
}

// Save 按版本号 CAS 写回可变字段，成功后 escrow.Version 自增
func (r *EscrowRepository) Save(ctx context.Context, tx *gorm.DB, escrow *model.EscrowAccount) error {
	result := tx.WithContext(ctx).
		Model(&model.EscrowAccount{}).
		Where("id = ? AND version = ?", escrow.ID, escrow.Version).
		Updates(map[string]interface{}{
			"status":          escrow.Status,
			"funded_amount":   escrow.FundedAmount,
			"released_amount": escrow.ReleasedAmount,
			"refunded_amount": escrow.RefundedAmount,
			"revision_count":  escrow.RevisionCount,
			"funded_at":       escrow.FundedAt,
			"closed_at":       escrow.ClosedAt,
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	escrow.Version++
	return nil
}

// ListPendingBefore 创建早于 before 仍未注资的托管
func (r *EscrowRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.EscrowAccount, error) {
	var escrows []*model.EscrowAccount
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.EscrowStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

// ListAfter 按 ID 游标分页遍历全部托管，对账任务使用
func (r *EscrowRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.EscrowAccount, error) {
	var escrows []*model.EscrowAccount
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

func (r *EscrowRepository) ListByParty(ctx context.Context, partyID string, page, pageSize int) ([]*model.EscrowAccount, int64, error) {
	var escrows []*model.EscrowAccount
	var total int64

	query := r.db.WithContext(ctx).Model(&model.EscrowAccount{}).
		Where("client_id = ? OR worker_id = ?", partyID, partyID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&escrows).Error

	return escrows, total, err
}
