package main

import (
	"context"

	"github.com/jobs/integration-engine/internal/api"
	"github.com/jobs/integration-engine/internal/eventbus"
	"github.com/jobs/integration-engine/internal/health"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/internal/scheduler"
	"github.com/jobs/integration-engine/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App 一个引擎进程内的全部后台组件
type App struct {
	cfg    config.Config
	logger *zap.Logger

	bus       *eventbus.Bus
	pool      *queue.Pool
	monitor   *health.Monitor
	scheduler *scheduler.Scheduler
	server    *api.Server
}

func NewApp(
	cfg config.Config,
	logger *zap.Logger,
	bus *eventbus.Bus,
	pool *queue.Pool,
	monitor *health.Monitor,
	sched *scheduler.Scheduler,
	server *api.Server,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		pool:      pool,
		monitor:   monitor,
		scheduler: sched,
		server:    server,
	}
}

// Start 启动后台循环, HTTP 服务由 Run 阻塞运行
func (a *App) Start(ctx context.Context) error {
	if err := a.bus.Start(ctx); err != nil {
		return err
	}
	a.pool.Start(ctx)
	if a.cfg.HealthCheck.Enabled {
		a.monitor.Start()
	}
	return a.scheduler.Start(ctx)
}

func (a *App) Run() error {
	return a.server.Run()
}

// Stop 先停止接收请求和调度, 再等待 worker 退出
func (a *App) Stop(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.server.Shutdown(ctx) })
	g.Go(a.scheduler.Stop)
	err := g.Wait()

	if a.cfg.HealthCheck.Enabled {
		a.monitor.Stop()
	}
	a.pool.Stop()
	a.bus.Stop()
	return err
}
