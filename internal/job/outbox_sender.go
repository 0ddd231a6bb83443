package job

import (
	"context"
	"log/slog"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/infrastructure/mq"
	"escrowsystem/internal/model"
	"escrowsystem/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 把事务内写入的结算事件投递到 Kafka，至少一次；下游按 event_id 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	logger     *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, logger *slog.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.With("component", "outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", "error", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, []byte(msg.Payload))

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.logger.Error("更新消息状态失败", "id", msg.ID, "error", updateErr)
		} else {
			s.logger.Debug("消息发送成功", "id", msg.ID, "event_id", msg.EventID, "escrow_id", msg.MessageKey)
		}
		return
	}

	s.logger.Warn("消息发送失败", "id", msg.ID, "event_id", msg.EventID, "error", err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("标记消息失败状态失败", "id", msg.ID, "error", err)
		} else {
			s.logger.Error("消息超过最大重试次数，标记为失败", "alert", true, "id", msg.ID, "event_id", msg.EventID)
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("增加重试次数失败", "id", msg.ID, "error", err)
	}
}
