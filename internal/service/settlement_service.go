package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"escrowsystem/internal/commission"
	"escrowsystem/internal/config"
	"escrowsystem/internal/infrastructure/lock"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"
	"escrowsystem/internal/statemachine"
	"escrowsystem/pkg/idgen"
	"escrowsystem/pkg/money"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================================
// 结算编排
// ============================================================================
//
// 一次 Apply 的完整流程：
//
//   获取托管锁（有界等待）
//     -> 开启事务
//     -> SELECT ... FOR UPDATE 读取托管与里程碑
//     -> 角色鉴权
//     -> 状态机迁移（纯内存）
//     -> 放款时计算佣金拆分
//     -> 版本号 CAS 写回托管、按原状态 CAS 写回里程碑
//     -> 追加流水、写入 outbox 事件
//     -> 提交
//   释放锁
//
// 任何一步失败整个事务回滚，存储保持不变。
// 版本冲突时整轮重新读取、重新校验，超过次数返回 ErrConcurrentUpdate。
// ============================================================================

type ActorRole string

const (
	ActorClient ActorRole = "client"
	ActorWorker ActorRole = "worker"
	ActorAdmin  ActorRole = "admin"
)

var actionPermissions = map[model.ActionKind][]ActorRole{
	model.ActionFund:            {ActorClient},
	model.ActionStart:           {ActorWorker},
	model.ActionSubmit:          {ActorWorker},
	model.ActionApprove:         {ActorClient},
	model.ActionRequestRevision: {ActorClient},
	model.ActionDispute:         {ActorClient, ActorWorker, ActorAdmin},
	model.ActionRefund:          {ActorClient, ActorAdmin},
	model.ActionCancel:          {ActorClient, ActorAdmin},
	model.ActionResolve:         {ActorAdmin},
}

// ApplyResult 成功 apply 后的托管快照与产生的事件
type ApplyResult struct {
	Escrow     *model.EscrowAccount   `json:"escrow"`
	Milestones []*model.Milestone     `json:"milestones"`
	Event      *model.SettlementEvent `json:"event"`
}

type SettlementService struct {
	db              *gorm.DB
	locker          lock.Locker
	table           *commission.Table
	cfg             *config.Config
	logger          *slog.Logger
	escrowRepo      *repository.EscrowRepository
	milestoneRepo   *repository.MilestoneRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewSettlementService(db *gorm.DB, locker lock.Locker, table *commission.Table, cfg *config.Config, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		db:              db,
		locker:          locker,
		table:           table,
		cfg:             cfg,
		logger:          logger.With("component", "settlement"),
		escrowRepo:      repository.NewEscrowRepository(db),
		milestoneRepo:   repository.NewMilestoneRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

// Apply 对托管执行一个动作，同一托管上的 Apply 严格串行
func (s *SettlementService) Apply(ctx context.Context, escrowID, actorID string, action Action) (*ApplyResult, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: missing action", model.ErrInvalidPayload)
	}
	if err := action.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, action.Kind(), err)
	}

	start := time.Now()
	release, err := s.locker.Acquire(ctx, lock.EscrowKey(escrowID))
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, &model.LockTimeoutError{EscrowID: escrowID, Waited: time.Since(start)}
		}
		return nil, fmt.Errorf("获取托管锁失败: %w", err)
	}
	defer release()

	attempts := s.cfg.Escrow.MaxConflictRetries + 1
	for i := 0; i < attempts; i++ {
		result, err := s.applyOnce(ctx, escrowID, actorID, action)
		if err == nil {
			s.logger.Info("结算动作完成",
				"escrow_id", escrowID,
				"action", action.Kind(),
				"actor_id", actorID,
				"status", result.Escrow.Status,
				"amount_moved", result.Event.AmountMoved,
				"event_id", result.Event.EventID,
			)
			return result, nil
		}
		if !isConflict(err) {
			s.logFailure(escrowID, actorID, action, err)
			return nil, err
		}
		s.logger.Warn("版本冲突，重新读取后重试",
			"escrow_id", escrowID, "action", action.Kind(), "attempt", i+1, "error", err)
	}
	return nil, fmt.Errorf("%w: escrow %s after %d attempts", model.ErrConcurrentUpdate, escrowID, attempts)
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrOptimisticLock) || errors.Is(err, repository.ErrMilestoneStatusConflict)
}

func (s *SettlementService) logFailure(escrowID, actorID string, action Action, err error) {
	var insufficient *model.InsufficientFundsError
	if errors.As(err, &insufficient) {
		// 资金守恒被破坏意味着数据异常或锁失效，需要人工介入
		s.logger.Error("托管资金不足，拒绝执行",
			"alert", true,
			"escrow_id", escrowID,
			"action", action.Kind(),
			"actor_id", actorID,
			"requested", insufficient.Requested,
			"available", insufficient.Available,
		)
		return
	}
	s.logger.Info("结算动作被拒绝",
		"escrow_id", escrowID, "action", action.Kind(), "actor_id", actorID, "error", err)
}

func (s *SettlementService) applyOnce(ctx context.Context, escrowID, actorID string, action Action) (*ApplyResult, error) {
	var result *ApplyResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		escrow, err := s.escrowRepo.GetForUpdate(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if err := s.authorize(escrow, actorID, action.Kind()); err != nil {
			return err
		}

		milestones, err := s.milestoneRepo.ListByEscrow(ctx, tx, escrowID)
		if err != nil {
			return fmt.Errorf("读取里程碑失败: %w", err)
		}

		before := *escrow
		agg := statemachine.NewAggregate(escrow, milestones)
		now := s.now()

		effect, err := dispatch(agg, action, now)
		if err != nil {
			return err
		}
		if err := escrow.CheckInvariant(); err != nil {
			return &model.InsufficientFundsError{
				EscrowID:  escrow.ID,
				Requested: effect.Moved(),
				Available: before.Held().Amount,
			}
		}

		var split *commission.Breakdown
		if effect.Released > 0 {
			b, err := s.table.Calculate(commission.Input{
				JobPrice:    money.New(effect.Released, escrow.Currency),
				Role:        commission.RoleWorker,
				WorkerTier:  escrow.WorkerTier,
				ClientTier:  escrow.ClientTier,
				IsMicrotask: escrow.IsMicrotask,
			})
			if err != nil {
				return fmt.Errorf("计算佣金失败: %w", err)
			}
			split = &b
		}

		if err := s.escrowRepo.Save(ctx, tx, escrow); err != nil {
			return err
		}
		for m, from := range agg.Changed() {
			if err := s.milestoneRepo.UpdateFrom(ctx, tx, m, from); err != nil {
				return err
			}
		}

		event := &model.SettlementEvent{
			EventID:         uuid.NewString(),
			EscrowID:        escrow.ID,
			ContractID:      escrow.ContractID,
			MilestoneID:     effect.MilestoneID,
			Action:          action.Kind(),
			ActorID:         actorID,
			ResultingStatus: escrow.Status,
			AmountMoved:     effect.Moved(),
			RefundedAmount:  effect.Refunded,
			Currency:        escrow.Currency,
			OccurredAt:      now,
		}
		if split != nil {
			event.WorkerPayout = split.WorkerReceives.Amount
		}

		entries := ledgerEntries(&before, escrow, effect, split, event, remarkOf(action))
		for _, entry := range entries {
			if err := s.transactionRepo.Create(ctx, tx, entry); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
		}

		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("序列化事件失败: %w", err)
		}
		outboxMsg := &model.OutboxMessage{
			EventID:    event.EventID,
			MessageKey: escrow.ID,
			Topic:      s.cfg.Kafka.Topic.SettlementEvent,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		result = &ApplyResult{Escrow: escrow, Milestones: agg.Milestones, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RolesOf 同一个人可能同时是参与方和管理员
func (s *SettlementService) RolesOf(escrow *model.EscrowAccount, actorID string) []ActorRole {
	var roles []ActorRole
	if actorID == "" {
		return roles
	}
	if actorID == escrow.ClientID {
		roles = append(roles, ActorClient)
	}
	if actorID == escrow.WorkerID {
		roles = append(roles, ActorWorker)
	}
	if s.cfg.Escrow.IsAdmin(actorID) {
		roles = append(roles, ActorAdmin)
	}
	return roles
}

func (s *SettlementService) authorize(escrow *model.EscrowAccount, actorID string, kind model.ActionKind) error {
	roles := s.RolesOf(escrow, actorID)
	for _, allowed := range actionPermissions[kind] {
		for _, r := range roles {
			if r == allowed {
				return nil
			}
		}
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	role := strings.Join(names, ",")
	if role == "" {
		role = "none"
	}
	return &model.UnauthorizedActorError{Action: kind, ActorID: actorID, Role: role}
}

func dispatch(agg *statemachine.Aggregate, action Action, now time.Time) (statemachine.Effect, error) {
	switch a := action.(type) {
	case Fund:
		currency := a.Currency
		if currency == "" {
			currency = agg.Escrow.Currency
		}
		return agg.Fund(money.New(a.Amount, currency), now)
	case Start:
		return agg.Start(a.MilestoneID, now)
	case Submit:
		return agg.Submit(a.MilestoneID, a.Notes, now)
	case Approve:
		return agg.ApproveAndRelease(a.MilestoneID, a.Feedback, a.Rating, now)
	case RequestRevision:
		return agg.RequestRevision(a.MilestoneID, a.Feedback, now)
	case Dispute:
		return agg.Dispute(a.MilestoneID, a.Reason, now)
	case Refund:
		return agg.Refund(now)
	case Cancel:
		return agg.Cancel(now)
	case Resolve:
		return agg.Resolve(*a.ReleaseAmount, now)
	default:
		return statemachine.Effect{}, fmt.Errorf("%w: unsupported action %T", model.ErrInvalidPayload, action)
	}
}

func remarkOf(action Action) string {
	switch a := action.(type) {
	case Refund:
		return a.Reason
	case Cancel:
		return a.Reason
	case Resolve:
		return a.Note
	}
	return ""
}

// ledgerEntries 每个非零资金变动一条流水，一次裁决可能同时产生放款和退款
func ledgerEntries(before, after *model.EscrowAccount, effect statemachine.Effect, split *commission.Breakdown, event *model.SettlementEvent, remark string) []*model.EscrowTransaction {
	base := func(typ string, amount, balanceBefore, balanceAfter int64) *model.EscrowTransaction {
		return &model.EscrowTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			EscrowID:      after.ID,
			MilestoneID:   effect.MilestoneID,
			EventID:       event.EventID,
			Type:          typ,
			Amount:        amount,
			Currency:      after.Currency,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceAfter,
			ActorID:       event.ActorID,
			Remark:        remark,
		}
	}

	var entries []*model.EscrowTransaction
	if effect.Funded > 0 {
		entries = append(entries, base(model.TransactionTypeFund, effect.Funded, before.FundedAmount, after.FundedAmount))
	}
	if effect.Released > 0 {
		entry := base(model.TransactionTypeRelease, effect.Released, before.ReleasedAmount, after.ReleasedAmount)
		if split != nil {
			entry.WorkerCommission = split.WorkerCommission.Amount
			entry.TDSWithholding = split.TDSWithholding.Amount
			entry.WorkerPayout = split.WorkerReceives.Amount
		}
		entries = append(entries, entry)
	}
	if effect.Refunded > 0 {
		entries = append(entries, base(model.TransactionTypeRefund, effect.Refunded, before.RefundedAmount, after.RefundedAmount))
	}
	return entries
}
