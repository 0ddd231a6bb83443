package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escrowsystem/internal/commission"
	"escrowsystem/internal/config"
	"escrowsystem/internal/handler"
	"escrowsystem/internal/infrastructure/cache"
	"escrowsystem/internal/infrastructure/database"
	"escrowsystem/internal/infrastructure/lock"
	"escrowsystem/internal/infrastructure/mq"
	"escrowsystem/internal/job"
	"escrowsystem/internal/service"
	"escrowsystem/pkg/idgen"
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	nodeID := flag.Int64("node", 1, "雪花算法节点ID")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, *nodeID, logger); err != nil {
		logger.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, nodeID int64, logger *slog.Logger) error {
	if err := idgen.Init(nodeID); err != nil {
		return err
	}

	table, err := commission.NewTableFromConfig(cfg.Escrow.Currency, &cfg.Commission)
	if err != nil {
		return fmt.Errorf("加载费率表失败: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("数据库连接成功", "driver", cfg.Database.Driver)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.Timeout, cfg.Lock.RetryInterval, cfg.Lock.TTL, logger)
	default:
		// 进程内锁只适用于单实例部署
		locker = lock.NewLocalLocker(cfg.Lock.Timeout)
	}
	logger.Info("托管锁初始化完成", "backend", cfg.Lock.Backend)

	escrowService := service.NewEscrowService(db, cfg, logger)
	settlementService := service.NewSettlementService(db, locker, table, cfg, logger)
	commissionService := service.NewCommissionService(table)

	// 启动后台任务
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		go job.NewOutboxSender(db, producer, cfg, logger).Start(ctx)
	} else {
		logger.Warn("Kafka 未启用，结算事件只保留在 outbox 表中")
	}
	go job.NewFundingTimeoutJob(db, settlementService, cfg, logger).Start(ctx)
	go job.NewReconcileJob(db, cfg, logger).Start(ctx)

	h := handler.NewHandler(escrowService, settlementService, commissionService)
	router := handler.SetupRouter(h, cfg.Server.Mode, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("服务已关闭")
	return nil
}
