package queue

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler owns the outcome of a job: it must Ack or Requeue it. A job left
// untouched is redelivered once its lease runs out.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

type PoolConfig struct {
	MaxWorkers   int
	PollInterval time.Duration
	Lease        time.Duration
}

// Pool 固定数量的 worker 从队列拉取任务, 处理期间定期续约
type Pool struct {
	queue   Queue
	handler Handler
	config  PoolConfig
	logger  *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(queue Queue, handler Handler, config PoolConfig, logger *zap.Logger) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Pool{
		queue:   queue,
		handler: handler,
		config:  config,
		logger:  logger.Named("pool"),
		stopCh:  make(chan struct{}),
	}
}

// Start 启动 worker
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.config.MaxWorkers))
}

// Stop waits for in-flight jobs to return.
func (p *Pool) Stop() {
	close(p.stopCh)
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Error("failed to dequeue job", zap.Int("worker_id", id), zap.Error(err))
		}
		if job == nil {
			select {
			case <-time.After(p.config.PollInterval):
			case <-p.stopCh:
				return
			}
			continue
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	stopHeartbeat := p.keepLease(ctx, job)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job handler panicked",
				zap.String("job_id", job.ID),
				zap.Uint64("installation_id", job.InstallationID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	if err := p.handler.Handle(ctx, job); err != nil {
		p.logger.Error("job handler failed",
			zap.String("job_id", job.ID),
			zap.Uint64("installation_id", job.InstallationID),
			zap.Int("deliveries", job.Deliveries),
			zap.Error(err))
	}
}

// keepLease 处理期间按租约的三分之一周期续约
func (p *Pool) keepLease(ctx context.Context, job *Job) func() {
	if p.config.Lease <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.config.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.queue.Extend(ctx, job, p.config.Lease); err != nil {
					p.logger.Warn("failed to extend lease", zap.String("job_id", job.ID), zap.Error(err))
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
