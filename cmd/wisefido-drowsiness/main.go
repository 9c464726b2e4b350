package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-drowsiness/internal/common/database"
	"wisefido-drowsiness/internal/common/logger"
	"wisefido-drowsiness/internal/config"
	"wisefido-drowsiness/internal/service"

	"go.uber.org/zap"
)

const serviceName = "wisefido-drowsiness"

// 运行模式（第一个命令行参数，默认 live）
const (
	modeLive    = "live"
	modeBatch   = "batch"
	modeMigrate = "migrate"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	mode := modeLive
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	// 3. 创建上下文，第一次信号取消采样，之后的信号只记录
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go watchSignals(sigChan, cancel, log)

	if err := run(ctx, mode, cfg, log); err != nil {
		log.Error("Drowsiness service failed", zap.String("mode", mode), zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Drowsiness service stopped", zap.String("mode", mode))
}

func run(ctx context.Context, mode string, cfg *config.Config, log *zap.Logger) error {
	switch mode {
	case modeMigrate:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close(db)
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("Database schema up to date")
		return nil

	case modeLive, modeBatch:
		svc, err := service.NewDrowsinessService(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create drowsiness service: %w", err)
		}
		defer svc.Stop()

		if mode == modeBatch {
			_, err = svc.RunBatch(ctx)
		} else {
			_, err = svc.RunLive(ctx)
		}
		return err

	default:
		return fmt.Errorf("unknown mode %q (want %s, %s or %s)", mode, modeLive, modeBatch, modeMigrate)
	}
}

// watchSignals 第一次 SIGINT/SIGTERM 触发关闭流程，之后的信号只记录日志
// sigChan 关闭时返回
func watchSignals(sigChan <-chan os.Signal, cancel context.CancelFunc, log *zap.Logger) {
	sig, ok := <-sigChan
	if !ok {
		return
	}
	log.Info("Received signal, closing session",
		zap.String("signal", sig.String()),
	)
	cancel()

	for sig := range sigChan {
		log.Warn("Shutdown already in progress, ignoring signal",
			zap.String("signal", sig.String()),
		)
	}
}
