package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	bizhealth "github.com/jobs/integration-engine/internal/biz/health"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

type IInstallationAPI interface {
	// List 获取安装列表
	// 按租户/应用/状态过滤
	// @GET(installations)
	List(ctx *gin.Context, req ListInstallationsReq) ([]InstallationResp, error)

	// Get 获取安装详情
	// @GET(installations/{id})
	Get(ctx *gin.Context, id uint64) (InstallationResp, error)

	// Install 安装应用
	// @POST(installations)
	Install(ctx *gin.Context, req installation.InstallRequest) (InstallationResp, error)

	// Update 更新安装配置与调度
	// @PATCH(installations/{id})
	Update(ctx *gin.Context, id uint64, req UpdateInstallationReq) (InstallationResp, error)

	// Uninstall 卸载, 级联删除调度/密钥/健康记录
	// @DELETE(installations/{id})
	Uninstall(ctx *gin.Context, id uint64) error

	// Trigger 手动触发一次执行
	// @POST(installations/{id}/trigger)
	Trigger(ctx *gin.Context, id uint64, req TriggerReq) (TriggerResp, error)

	// Health 最近一次健康探测结果
	// @GET(installations/{id}/health)
	Health(ctx *gin.Context, id uint64) (HealthResp, error)

	// Runs 执行历史, 按开始时间倒序
	// @GET(installations/{id}/runs)
	Runs(ctx *gin.Context, id uint64, req ListRunsReq) (RunPageResp, error)

	// CancelRun 取消执行
	// @POST(installations/{id}/runs/{runId}/cancel)
	CancelRun(ctx *gin.Context, id uint64, runID uint64) (CancelRunResp, error)
}

// HealthReader 健康监控对外的只读视图
type HealthReader interface {
	Latest(ctx context.Context, installationID uint64) (*bizhealth.IntegrationHealth, error)
}

var _ IInstallationAPI = (*InstallationAPI)(nil)

type InstallationAPI struct {
	installs *installation.Usecase
	runs     *execution.Usecase
	health   HealthReader
}

func NewInstallationAPI(installs *installation.Usecase, runs *execution.Usecase, health HealthReader) *InstallationAPI {
	return &InstallationAPI{installs: installs, runs: runs, health: health}
}

func (a *InstallationAPI) List(ctx *gin.Context, req ListInstallationsReq) ([]InstallationResp, error) {
	filter := &installation.ListFilter{
		TenantID:      mo.EmptyableToOption(req.TenantID),
		ApplicationID: mo.EmptyableToOption(req.ApplicationID),
		Status:        mo.EmptyableToOption(installation.Status(req.Status)),
		Enabled:       mo.PointerToOption(req.Enabled),
	}
	items, err := a.installs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(inst *installation.Installation, _ int) InstallationResp {
		return toInstallationResp(inst)
	}), nil
}

func (a *InstallationAPI) Get(ctx *gin.Context, id uint64) (InstallationResp, error) {
	inst, err := a.installs.Get(ctx, id)
	if err != nil {
		return InstallationResp{}, err
	}
	return toInstallationResp(inst), nil
}

func (a *InstallationAPI) Install(ctx *gin.Context, req installation.InstallRequest) (InstallationResp, error) {
	inst, err := a.installs.Install(ctx, &req)
	if err != nil {
		return InstallationResp{}, err
	}
	return toInstallationResp(inst), nil
}

func (a *InstallationAPI) Update(ctx *gin.Context, id uint64, req UpdateInstallationReq) (InstallationResp, error) {
	inst, err := a.installs.UpdateSettings(ctx, id, &installation.UpdateRequest{
		Config:    mo.PointerToOption(req.Config),
		Frequency: mo.PointerToOption(req.Frequency),
		Timezone:  mo.PointerToOption(req.Timezone),
		Window:    mo.PointerToOption(req.Window),
		Enabled:   mo.PointerToOption(req.Enabled),
	})
	if err != nil {
		return InstallationResp{}, err
	}
	return toInstallationResp(inst), nil
}

func (a *InstallationAPI) Uninstall(ctx *gin.Context, id uint64) error {
	return a.installs.Uninstall(ctx, id)
}

func (a *InstallationAPI) Trigger(ctx *gin.Context, id uint64, req TriggerReq) (TriggerResp, error) {
	source := execution.ParseTriggerSource(req.Source)
	jobID, err := a.installs.Trigger(ctx, id, string(source))
	if err != nil {
		return TriggerResp{}, err
	}
	return TriggerResp{JobID: jobID, InstallationID: id, TriggeredBy: string(source), Status: "queued"}, nil
}

func (a *InstallationAPI) Health(ctx *gin.Context, id uint64) (HealthResp, error) {
	if _, err := a.installs.Get(ctx, id); err != nil {
		return HealthResp{}, err
	}
	rec, err := a.health.Latest(ctx, id)
	if err != nil {
		return HealthResp{}, err
	}
	return toHealthResp(rec), nil
}

func (a *InstallationAPI) Runs(ctx *gin.Context, id uint64, req ListRunsReq) (RunPageResp, error) {
	if _, err := a.installs.Get(ctx, id); err != nil {
		return RunPageResp{}, err
	}
	runs, total, err := a.runs.ListRuns(ctx, id, mo.EmptyableToOption(execution.RunStatus(req.Status)), req.Offset, req.Limit)
	if err != nil {
		return RunPageResp{}, err
	}
	return RunPageResp{
		Items: lo.Map(runs, func(run *execution.ExecutionRun, _ int) RunResp { return toRunResp(run) }),
		Total: total,
	}, nil
}

func (a *InstallationAPI) CancelRun(ctx *gin.Context, id uint64, runID uint64) (CancelRunResp, error) {
	if err := a.runs.CancelRun(ctx, id, runID); err != nil {
		return CancelRunResp{}, err
	}
	return CancelRunResp{RunID: runID, Status: "cancelling"}, nil
}

type InstallationAPIWrap struct {
	inner IInstallationAPI
}

func NewInstallationAPIWrap(inner IInstallationAPI) *InstallationAPIWrap {
	return &InstallationAPIWrap{inner: inner}
}

func (w *InstallationAPIWrap) BindAll(r gin.IRouter) {
	r.GET("/installations", func(c *gin.Context) {
		var req ListInstallationsReq
		if !onGinBind(c, &req, "QUERY") {
			return
		}
		data, err := w.inner.List(c, req)
		onGinResponse(c, http.StatusOK, data, err)
	})
	r.GET("/installations/:id", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		data, err := w.inner.Get(c, id)
		onGinResponse(c, http.StatusOK, data, err)
	})
	r.POST("/installations", func(c *gin.Context) {
		var req installation.InstallRequest
		if !onGinBind(c, &req, "JSON") {
			return
		}
		data, err := w.inner.Install(c, req)
		onGinResponse(c, http.StatusCreated, data, err)
	})
	r.PATCH("/installations/:id", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req UpdateInstallationReq
		if !onGinBind(c, &req, "JSON") {
			return
		}
		data, err := w.inner.Update(c, id, req)
		onGinResponse(c, http.StatusOK, data, err)
	})
	r.DELETE("/installations/:id", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		onGinResponse(c, http.StatusNoContent, nil, w.inner.Uninstall(c, id))
	})
	r.POST("/installations/:id/trigger", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req TriggerReq
		// 请求体可选
		if c.Request.ContentLength > 0 && !onGinBind(c, &req, "JSON") {
			return
		}
		data, err := w.inner.Trigger(c, id, req)
		onGinResponse(c, http.StatusAccepted, data, err)
	})
	r.GET("/installations/:id/health", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		data, err := w.inner.Health(c, id)
		onGinResponse(c, http.StatusOK, data, err)
	})
	r.GET("/installations/:id/runs", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req ListRunsReq
		if !onGinBind(c, &req, "QUERY") {
			return
		}
		data, err := w.inner.Runs(c, id, req)
		onGinResponse(c, http.StatusOK, data, err)
	})
	r.POST("/installations/:id/runs/:runId/cancel", func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		runID, ok := pathID(c, "runId")
		if !ok {
			return
		}
		data, err := w.inner.CancelRun(c, id, runID)
		onGinResponse(c, http.StatusAccepted, data, err)
	})
}
