package job

import (
	"context"
	"log/slog"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/repository"
	"escrowsystem/internal/service"

	"gorm.io/gorm"
)

// FundingTimeoutJob 超时未注资的托管由系统账号取消
// 取消走编排器，和用户操作一样加锁、记事件
type FundingTimeoutJob struct {
	escrowRepo *repository.EscrowRepository
	settlement *service.SettlementService
	cfg        *config.Config
	logger     *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	now        func() time.Time
}

func NewFundingTimeoutJob(db *gorm.DB, settlement *service.SettlementService, cfg *config.Config, logger *slog.Logger) *FundingTimeoutJob {
	return &FundingTimeoutJob{
		escrowRepo: repository.NewEscrowRepository(db),
		settlement: settlement,
		cfg:        cfg,
		logger:     logger.With("component", "funding_timeout"),
		stopCh:     make(chan struct{}),
		interval:   time.Minute,
		batchSize:  100,
		now:        time.Now,
	}
}

func (j *FundingTimeoutJob) Start(ctx context.Context) {
	j.logger.Info("注资超时任务启动", "timeout_hours", j.cfg.Business.FundingTimeoutHours)

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
			j.cancelStaleEscrows(ctx)
		}
	}
}

func (j *FundingTimeoutJob) Stop() {
	close(j.stopCh)
}

// cancelStaleEscrows 返回本次取消的数量
func (j *FundingTimeoutJob) cancelStaleEscrows(ctx context.Context) int {
	if j.cfg.Business.FundingTimeoutHours <= 0 {
		return 0
	}
	before := j.now().Add(-time.Duration(j.cfg.Business.FundingTimeoutHours) * time.Hour)

	escrows, err := j.escrowRepo.ListPendingBefore(ctx, before, j.batchSize)
	if err != nil {
		j.logger.Error("查询超时托管失败", "error", err)
		return 0
	}
	if len(escrows) == 0 {
		return 0
	}

	j.logger.Info("发现超时未注资托管", "count", len(escrows))

	cancelled := 0
	for _, e := range escrows {
		_, err := j.settlement.Apply(ctx, e.ID, j.cfg.Escrow.SystemActorID, service.Cancel{Reason: "funding timeout"})
		if err != nil {
			// 查询与取消之间客户可能刚好注资，状态校验会拒绝取消
			j.logger.Warn("取消托管失败", "escrow_id", e.ID, "error", err)
			continue
		}
		cancelled++
	}

	j.logger.Info("本次取消超时托管", "cancelled", cancelled)
	return cancelled
}
