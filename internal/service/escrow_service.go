package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"
	"escrowsystem/pkg/idgen"
	"escrowsystem/pkg/money"

	"gorm.io/gorm"
)

type EscrowService struct {
	db              *gorm.DB
	cfg             *config.Config
	logger          *slog.Logger
	escrowRepo      *repository.EscrowRepository
	milestoneRepo   *repository.MilestoneRepository
	transactionRepo *repository.TransactionRepository
}

func NewEscrowService(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *EscrowService {
	return &EscrowService{
		db:              db,
		cfg:             cfg,
		logger:          logger.With("component", "escrow"),
		escrowRepo:      repository.NewEscrowRepository(db),
		milestoneRepo:   repository.NewMilestoneRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type MilestoneRequest struct {
	Title   string     `json:"title" binding:"required"`
	Amount  int64      `json:"amount" binding:"required,gt=0"`
	DueDate *time.Time `json:"due_date"`
}

type CreateEscrowRequest struct {
	RequestID    string             `json:"request_id" binding:"required"`
	ContractID   string             `json:"contract_id" binding:"required"`
	ClientID     string             `json:"client_id" binding:"required"`
	WorkerID     string             `json:"worker_id" binding:"required"`
	Currency     string             `json:"currency"`
	TotalAmount  int64              `json:"total_amount" binding:"required,gt=0"`
	MaxRevisions *int               `json:"max_revisions"`
	WorkerTier   string             `json:"worker_tier"`
	ClientTier   string             `json:"client_tier"`
	IsMicrotask  bool               `json:"is_microtask"`
	Milestones   []MilestoneRequest `json:"milestones" binding:"required,min=1,dive"`
}

// EscrowDetail 托管账户及其里程碑
type EscrowDetail struct {
	Escrow     *model.EscrowAccount `json:"escrow"`
	Milestones []*model.Milestone   `json:"milestones"`
	Created    bool                 `json:"created"`
}

// validate currency 是费率表所用币种，托管只接受这一种
func (req *CreateEscrowRequest) validate(currency string) error {
	if req.RequestID == "" || req.ContractID == "" {
		return errors.New("request_id and contract_id are required")
	}
	if req.ClientID == "" || req.WorkerID == "" {
		return errors.New("client_id and worker_id are required")
	}
	if req.ClientID == req.WorkerID {
		return errors.New("client and worker must be different parties")
	}
	if req.Currency == "" {
		req.Currency = currency
	}
	if !money.ValidCurrency(req.Currency) {
		return fmt.Errorf("invalid currency %q", req.Currency)
	}
	if req.Currency != currency {
		return fmt.Errorf("no rate table for currency %s", req.Currency)
	}
	if req.TotalAmount <= 0 {
		return errors.New("total_amount must be positive")
	}
	if req.MaxRevisions != nil && *req.MaxRevisions < 0 {
		return errors.New("max_revisions must not be negative")
	}
	if len(req.Milestones) == 0 {
		return errors.New("at least one milestone is required")
	}

	var sum int64
	for i, m := range req.Milestones {
		if m.Amount <= 0 {
			return fmt.Errorf("milestones[%d].amount must be positive", i)
		}
		// 与剩余额度比较，累加不会溢出
		if m.Amount > req.TotalAmount-sum {
			return fmt.Errorf("milestone amounts exceed total_amount %d at milestones[%d]", req.TotalAmount, i)
		}
		sum += m.Amount
	}
	if sum != req.TotalAmount {
		return fmt.Errorf("milestone amounts sum to %d, total_amount is %d", sum, req.TotalAmount)
	}
	return nil
}

// CreateEscrow 按 request_id 幂等：重复请求返回已存在的托管
func (s *EscrowService) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (*EscrowDetail, error) {
	if err := req.validate(s.cfg.Escrow.Currency); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}

	if existing, err := s.existing(ctx, req.RequestID); err != nil || existing != nil {
		return existing, err
	}

	maxRevisions := s.cfg.Escrow.DefaultMaxRevisions
	if req.MaxRevisions != nil {
		maxRevisions = *req.MaxRevisions
	}

	escrow := &model.EscrowAccount{
		ID:           idgen.GenerateEscrowID(),
		RequestID:    req.RequestID,
		ContractID:   req.ContractID,
		ClientID:     req.ClientID,
		WorkerID:     req.WorkerID,
		Currency:     req.Currency,
		TotalAmount:  req.TotalAmount,
		Status:       model.EscrowStatusPending,
		MaxRevisions: maxRevisions,
		WorkerTier:   req.WorkerTier,
		ClientTier:   req.ClientTier,
		IsMicrotask:  req.IsMicrotask,
	}

	milestones := make([]*model.Milestone, 0, len(req.Milestones))
	for i, m := range req.Milestones {
		milestones = append(milestones, &model.Milestone{
			ID:       idgen.GenerateMilestoneID(),
			EscrowID: escrow.ID,
			Position: i,
			Title:    m.Title,
			Amount:   m.Amount,
			Currency: req.Currency,
			DueDate:  m.DueDate,
			Status:   model.MilestoneStatusPending,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.Create(ctx, tx, escrow); err != nil {
			return err
		}
		return s.milestoneRepo.CreateBatch(ctx, tx, milestones)
	})
	if err != nil {
		// 并发的同一请求可能先一步写入，以已存在的为准
		if existing, lookupErr := s.existing(ctx, req.RequestID); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("创建托管失败: %w", err)
	}

	s.logger.Info("托管创建成功",
		"escrow_id", escrow.ID,
		"contract_id", escrow.ContractID,
		"total_amount", escrow.TotalAmount,
		"milestones", len(milestones),
	)
	return &EscrowDetail{Escrow: escrow, Milestones: milestones, Created: true}, nil
}

func (s *EscrowService) existing(ctx context.Context, requestID string) (*EscrowDetail, error) {
	escrow, err := s.escrowRepo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("查询托管失败: %w", err)
	}
	if escrow == nil {
		return nil, nil
	}
	milestones, err := s.milestoneRepo.ListByEscrow(ctx, nil, escrow.ID)
	if err != nil {
		return nil, fmt.Errorf("查询里程碑失败: %w", err)
	}
	return &EscrowDetail{Escrow: escrow, Milestones: milestones}, nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, escrowID string) (*EscrowDetail, error) {
	escrow, err := s.escrowRepo.GetByID(ctx, nil, escrowID)
	if err != nil {
		return nil, err
	}
	milestones, err := s.milestoneRepo.ListByEscrow(ctx, nil, escrowID)
	if err != nil {
		return nil, fmt.Errorf("查询里程碑失败: %w", err)
	}
	return &EscrowDetail{Escrow: escrow, Milestones: milestones}, nil
}

func (s *EscrowService) ListMilestones(ctx context.Context, escrowID string) ([]*model.Milestone, error) {
	if _, err := s.escrowRepo.GetByID(ctx, nil, escrowID); err != nil {
		return nil, err
	}
	return s.milestoneRepo.ListByEscrow(ctx, nil, escrowID)
}

// NormalizePage 分页参数兜底，超过上限回退为默认页大小
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// ListTransactions 托管流水分页查询
func (s *EscrowService) ListTransactions(ctx context.Context, escrowID string, page, pageSize int) ([]*model.EscrowTransaction, int64, error) {
	if _, err := s.escrowRepo.GetByID(ctx, nil, escrowID); err != nil {
		return nil, 0, err
	}
	page, pageSize = NormalizePage(page, pageSize)
	return s.transactionRepo.ListByEscrow(ctx, escrowID, page, pageSize)
}

func (s *EscrowService) ListByParty(ctx context.Context, partyID string, page, pageSize int) ([]*model.EscrowAccount, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.escrowRepo.ListByParty(ctx, partyID, page, pageSize)
}
