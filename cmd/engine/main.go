package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/logger"
	"github.com/yitter/idgenerator-go/idgen"
	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数
	var configPath string
	var workerID uint
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.UintVar(&workerID, "worker-id", 20, "snowflake worker id, unique per process")
	flag.Parse()

	// WorkerIdBitLength 6 最多支持 64 个进程
	var options = idgen.NewIdGeneratorOptions(uint16(workerID))
	options.BaseTime = 1755937966000
	options.WorkerIdBitLength = 6
	idgen.SetIdGenerator(options)

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 创建日志器
	zapLogger, err := logger.FromConfig(*cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting integration engine",
		zap.String("database", cfg.Database.Driver),
		zap.String("queue", cfg.Queue.Backend),
		zap.Bool("scheduler", cfg.Scheduler.Enabled))

	app, cleanup, err := InitializeApp(*cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to build engine", zap.Error(err))
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		zapLogger.Fatal("failed to start engine", zap.Error(err))
	}

	go func() {
		if err := app.Run(); err != nil {
			zapLogger.Fatal("failed to start api server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("shutting down")

	// 在途执行最多等待 30 秒
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop engine", zap.Error(err))
	}
	cancel()

	zapLogger.Info("shutdown complete")
}
