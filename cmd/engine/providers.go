package main

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/bsm/redislock"
	"github.com/jobs/integration-engine/internal/api"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/biz/schedule"
	"github.com/jobs/integration-engine/internal/biz/secret"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/internal/engine"
	"github.com/jobs/integration-engine/internal/infra/persistence/applicationrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/executionrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/healthrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/installationrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/instancerepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/memrepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/schedulerepo"
	"github.com/jobs/integration-engine/internal/infra/persistence/secretrepo"
	"github.com/jobs/integration-engine/internal/lock"
	"github.com/jobs/integration-engine/internal/orm"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProvideRedisClient builds a redis client from typed config.
// Returns nil when redis is disabled.
func ProvideRedisClient(cfg config.Config, logger *zap.Logger) (*redis.Client, func()) {
	if !cfg.Redis.Enabled {
		return nil, func() {}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return rdb, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
}

// ProvideHTTPClient 凭证刷新和服务商调用共用, 超时由各自的 context 控制
func ProvideHTTPClient() *http.Client {
	return &http.Client{}
}

// Repos 存储驱动无关的仓储集合
type Repos struct {
	Applications  application.Repo
	Installations installation.Repo
	Secrets       secret.Repo
	Schedules     schedule.Repo
	Runs          execution.Repo
	Healths       health.Repo
	Instances     instance.Repo

	// SQL 为 nil 表示内存驱动
	SQL *sql.DB
}

// ProvidePinger 内存驱动没有可检查的连接
func ProvidePinger(repos *Repos) api.Pinger {
	if repos.SQL == nil {
		return nil
	}
	return repos.SQL
}

// ProvideRepos 按 database.driver 选择 mysql 或内存仓储
func ProvideRepos(cfg config.Config, logger *zap.Logger) (*Repos, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		store := memrepo.New()
		return &Repos{
			Applications:  memrepo.NewApplicationRepo(store),
			Installations: memrepo.NewInstallationRepo(store),
			Secrets:       memrepo.NewSecretRepo(store),
			Schedules:     memrepo.NewScheduleRepo(store),
			Runs:          memrepo.NewExecutionRepo(store),
			Healths:       memrepo.NewHealthRepo(store),
			Instances:     memrepo.NewInstanceRepo(store),
		}, func() {}, nil
	case "mysql", "":
		storage, err := orm.New(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := storage.DB().DB()
		if err != nil {
			_ = storage.Close()
			return nil, nil, errors.Wrap(err, "get sql.DB")
		}
		cleanup := func() {
			if err := storage.Close(); err != nil {
				logger.Warn("close database", zap.Error(err))
			}
		}
		db := storage.DB()
		return &Repos{
			Applications:  applicationrepo.NewMysqlRepositoryImpl(db),
			Installations: installationrepo.NewMysqlRepositoryImpl(db),
			Secrets:       secretrepo.NewMysqlRepositoryImpl(db),
			Schedules:     schedulerepo.NewMysqlRepositoryImpl(db),
			Runs:          executionrepo.NewMysqlRepositoryImpl(db),
			Healths:       healthrepo.NewMysqlRepositoryImpl(db),
			Instances:     instancerepo.NewMysqlRepositoryImpl(db),
			SQL:           sqlDB,
		}, cleanup, nil
	default:
		return nil, nil, errors.Newf("unknown database driver %q", cfg.Database.Driver)
	}
}

// ProvideQueue redis 后端要求 redis.enabled
func ProvideQueue(cfg config.Config, rdb *redis.Client) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("queue backend redis requires redis.enabled")
		}
		return queue.NewRedisQueue(rdb, cfg.Queue.KeyPrefix, cfg.Queue.Capacity, cfg.Queue.VisibilityLease, nil), nil
	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.Capacity, cfg.Queue.VisibilityLease, nil), nil
	default:
		return nil, errors.Newf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// ProvideLocker 没有 redis 时退化为进程内锁
func ProvideLocker(rdb *redis.Client) lock.Locker {
	if rdb == nil {
		return lock.NewMemoryLocker(nil)
	}
	return lock.NewRedisLocker(redislock.New(rdb))
}

// ProvideLeader mysql 部署使用 GET_LOCK, 否则用执行锁同一套租约
func ProvideLeader(cfg config.Config, repos *Repos, locker lock.Locker, logger *zap.Logger) lock.LeaderLock {
	if repos.SQL != nil {
		return lock.NewMySQLLeader(repos.SQL, cfg.Scheduler.LockKey, cfg.Scheduler.LockTimeout, logger)
	}
	// 租约覆盖三个心跳周期, 单次续约失败不会丢失 leader
	return lock.NewRedisLeader(locker, cfg.Scheduler.LockKey, 3*cfg.Scheduler.HeartbeatInterval)
}

func ProvidePool(cfg config.Config, jobs queue.Queue, eng *engine.Engine, logger *zap.Logger) *queue.Pool {
	return queue.NewPool(jobs, eng, queue.PoolConfig{
		MaxWorkers:   cfg.Engine.MaxWorkers,
		PollInterval: cfg.Engine.PollInterval,
		Lease:        cfg.Queue.VisibilityLease,
	}, logger)
}

func ProvideCredentialStore(cfg config.Config, secrets secret.Repo, httpClient *http.Client, logger *zap.Logger) (*credential.Store, error) {
	sealer, ephemeral, err := credential.NewSealerFromBase64(cfg.Credentials.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		logger.Warn("credentials.encryption_key is empty, using a process local key")
	}
	refresher := credential.NewOAuth2Refresher(cfg.Credentials.Providers, httpClient)
	return credential.NewStore(secrets, sealer, refresher, credential.StoreConfig{
		RefreshMargin:  cfg.Credentials.RefreshMargin,
		RefreshTimeout: cfg.Credentials.RefreshTimeout,
	}, logger), nil
}
