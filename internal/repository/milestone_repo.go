package repository

import (
	"context"
	"errors"

	"escrowsystem/internal/model"

	"gorm.io/gorm"
)

var ErrMilestoneStatusConflict = errors.New("里程碑状态已被修改")

type MilestoneRepository struct {
	db *gorm.DB
}

func NewMilestoneRepository(db *gorm.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

func (r *MilestoneRepository) CreateBatch(ctx context.Context, tx *gorm.DB, milestones []*model.Milestone) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&milestones).Error
}

func (r *MilestoneRepository) ListByEscrow(ctx context.Context, tx *gorm.DB, escrowID string) ([]*model.Milestone, error) {
	if tx == nil {
		tx = r.db
	}
	var milestones []*model.Milestone
	err := tx.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("position ASC").
		Find(&milestones).Error
	return milestones, err
}

// UpdateFrom 只有当前状态仍为 from 时才写入，否则返回 ErrMilestoneStatusConflict
func (r *MilestoneRepository) UpdateFrom(ctx context.Context, tx *gorm.DB, m *model.Milestone, from model.MilestoneStatus) error {
	result := tx.WithContext(ctx).
		Model(&model.Milestone{}).
		Where("id = ? AND status = ?", m.ID, from).
		Updates(map[string]interface{}{
			"status":          m.Status,
			"worker_notes":    m.WorkerNotes,
			"client_feedback": m.ClientFeedback,
			"client_rating":   m.ClientRating,
			"dispute_reason":  m.DisputeReason,
			"submitted_at":    m.SubmittedAt,
			"released_at":     m.ReleasedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMilestoneStatusConflict
	}
	return nil
}
