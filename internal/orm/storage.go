package orm

import (
	"fmt"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/infra/persistence/applicationrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/executionrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/healthrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/installationrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/instancerepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/secretrepo"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Provider = wire.NewSet(New)

type Storage struct {
	db *gorm.DB
}

// New 连接数据库, 表结构由 cmd/migrate 负责
func New(cfg config.DatabaseConfig) (*Storage, error) {
	// clientFoundRows 让条件更新按匹配行数返回 RowsAffected
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel(cfg.LogLevel)),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql.DB")
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	return &Storage{db: db}, nil
}

// Migrate creates or alters every table the engine uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&applicationrepo.ApplicationPo{},
		&installationrepo.InstallationPo{},
		&secretrepo.SecretPo{},
		&schedulerepo.AutomationSchedulePo{},
		&executionrepo.ExecutionRunPo{},
		&healthrepo.IntegrationHealthPo{},
		&instancerepo.EngineInstancePo{},
	); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (s *Storage) DB() *gorm.DB {
	return s.db
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Storage) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
