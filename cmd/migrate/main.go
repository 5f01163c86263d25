package main

import (
	"context"
	"flag"
	"log"

	"github.com/jobs/integration-engine/internal/infra/persistence/applicationrepo"
	"github.com/jobs/integration-engine/internal/orm"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/logger"
	"github.com/yitter/idgenerator-go/idgen"
	"go.uber.org/zap"
)

func main() {
	var configPath, catalogPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.StringVar(&catalogPath, "catalog", "configs/applications.yaml", "application catalog to upsert, empty to skip")
	flag.Parse()

	// 与引擎进程错开 WorkerId
	var options = idgen.NewIdGeneratorOptions(63)
	options.BaseTime = 1755937966000
	options.WorkerIdBitLength = 6
	idgen.SetIdGenerator(options)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zapLogger, err := logger.FromConfig(*cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Database.Driver == "memory" {
		zapLogger.Info("memory driver needs no migration")
		return
	}

	storage, err := orm.New(cfg.Database)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer storage.Close()

	if err := orm.Migrate(storage.DB()); err != nil {
		zapLogger.Fatal("failed to migrate", zap.Error(err))
	}
	zapLogger.Info("schema migrated")

	if catalogPath == "" {
		return
	}
	apps, err := loadCatalog(catalogPath)
	if err != nil {
		zapLogger.Fatal("failed to load catalog", zap.Error(err))
	}

	ctx := context.Background()
	repo := applicationrepo.NewMysqlRepositoryImpl(storage.DB())
	for _, app := range apps {
		if err := repo.Upsert(ctx, app); err != nil {
			zapLogger.Fatal("failed to upsert application", zap.String("key", app.Key), zap.Error(err))
		}
		zapLogger.Info("application upserted",
			zap.String("key", app.Key),
			zap.String("version", app.Version),
			zap.Uint64("id", app.ID))
	}
}
