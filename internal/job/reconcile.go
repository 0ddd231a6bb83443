package job

import (
	"context"
	"log/slog"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"

	"gorm.io/gorm"
)

// ReconcileJob 用流水重算每个托管的累计金额，与账户字段比对
// 只报警不修复，差异需要人工核查
type ReconcileJob struct {
	escrowRepo      *repository.EscrowRepository
	transactionRepo *repository.TransactionRepository
	logger          *slog.Logger
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

// Mismatch 一个对账不平的托管
type Mismatch struct {
	EscrowID string
	Account  repository.LedgerTotals
	Ledger   repository.LedgerTotals
	Reason   string
}

func NewReconcileJob(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *ReconcileJob {
	interval := cfg.Business.ReconcileInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ReconcileJob{
		escrowRepo:      repository.NewEscrowRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		logger:          logger.With("component", "reconcile"),
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       200,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.logger.Info("对账任务启动", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// Run 遍历全部托管做一轮对账
func (j *ReconcileJob) Run(ctx context.Context) []Mismatch {
	var (
		mismatches []Mismatch
		checked    int
		afterID    string
	)

	for {
		escrows, err := j.escrowRepo.ListAfter(ctx, afterID, j.batchSize)
		if err != nil {
			j.logger.Error("查询托管失败", "error", err)
			return mismatches
		}
		if len(escrows) == 0 {
			break
		}

		for _, e := range escrows {
			checked++
			if m := j.check(ctx, e); m != nil {
				mismatches = append(mismatches, *m)
				j.logger.Error("托管对账不平",
					"alert", true,
					"escrow_id", m.EscrowID,
					"reason", m.Reason,
					"account", m.Account,
					"ledger", m.Ledger,
				)
			}
		}
		afterID = escrows[len(escrows)-1].ID
	}

	j.logger.Info("对账完成", "checked", checked, "mismatches", len(mismatches))
	return mismatches
}

func (j *ReconcileJob) check(ctx context.Context, e *model.EscrowAccount) *Mismatch {
	account := repository.LedgerTotals{
		Funded:   e.FundedAmount,
		Released: e.ReleasedAmount,
		Refunded: e.RefundedAmount,
	}

	if err := e.CheckInvariant(); err != nil {
		return &Mismatch{EscrowID: e.ID, Account: account, Reason: err.Error()}
	}

	ledger, err := j.transactionRepo.SumByEscrow(ctx, e.ID)
	if err != nil {
		j.logger.Error("汇总流水失败", "escrow_id", e.ID, "error", err)
		return nil
	}
	if ledger != account {
		return &Mismatch{EscrowID: e.ID, Account: account, Ledger: ledger, Reason: "ledger totals differ from account"}
	}
	return nil
}
