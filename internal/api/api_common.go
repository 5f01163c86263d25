package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/integration-engine/internal/biz/instance"
	"github.com/jobs/integration-engine/internal/engine"
)

type ICommonAPI interface {
	// HealthCheck 健康检查
	// 检查服务是否健康, 附带引擎实例与执行统计
	// @GET(healthz)
	HealthCheck(ctx *gin.Context) (HealthCheckResp, error)
}

// Pinger 存储连通性检查, memory 驱动时为 nil
type Pinger interface {
	PingContext(ctx context.Context) error
}

type StatsSource interface {
	Stats() engine.Stats
}

type HealthCheckResp struct {
	Status    string                     `json:"status"`
	Time      time.Time                  `json:"time"`
	Engine    engine.Stats               `json:"engine"`
	Instances []*instance.EngineInstance `json:"instances"`
}

var _ ICommonAPI = (*CommonAPI)(nil)

type CommonAPI struct {
	db        Pinger
	instances instance.Repo
	stats     StatsSource
}

func NewCommonAPI(db Pinger, instances instance.Repo, stats StatsSource) *CommonAPI {
	return &CommonAPI{db: db, instances: instances, stats: stats}
}

func (c *CommonAPI) HealthCheck(ctx *gin.Context) (HealthCheckResp, error) {
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return HealthCheckResp{}, err
		}
	}
	instances, err := c.instances.List(ctx)
	if err != nil {
		return HealthCheckResp{}, err
	}
	return HealthCheckResp{
		Status:    "healthy",
		Time:      time.Now(),
		Engine:    c.stats.Stats(),
		Instances: instances,
	}, nil
}

type CommonAPIWrap struct {
	inner ICommonAPI
}

func NewCommonAPIWrap(inner ICommonAPI) *CommonAPIWrap {
	return &CommonAPIWrap{inner: inner}
}

func (w *CommonAPIWrap) BindAll(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) {
		data, err := w.inner.HealthCheck(c)
		onGinResponse(c, http.StatusOK, data, err)
	})
}
