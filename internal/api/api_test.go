package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/internal/biz/execution"
	"github.com/jobs/integration-engine/internal/biz/installation"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/internal/engine"
	"github.com/jobs/integration-engine/internal/eventbus"
	"github.com/jobs/integration-engine/internal/health"
	"github.com/jobs/integration-engine/internal/infra/persistence/memrepo"
	"github.com/jobs/integration-engine/internal/queue"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticStats struct{}

func (staticStats) Stats() engine.Stats { return engine.Stats{Started: 3, Succeeded: 2} }

type cancelRecorder struct{ ids []uint64 }

func (c *cancelRecorder) Cancel(runID uint64) bool {
	c.ids = append(c.ids, runID)
	return true
}

type fixture struct {
	router    *gin.Engine
	runs      execution.Repo
	jobs      *queue.MemoryQueue
	cancelled *cancelRecorder
}

func newFixture(t *testing.T, capacity int64) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memrepo.New()
	sealer, err := credential.NewSealer(make([]byte, 32))
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	cfg := config.Config{Engine: config.EngineConfig{InstanceID: "engine-test"}}
	installs := memrepo.NewInstallationRepo(store)
	apps := memrepo.NewApplicationRepo(store)
	healths := memrepo.NewHealthRepo(store)
	creds := credential.NewStore(memrepo.NewSecretRepo(store), sealer, nil, credential.StoreConfig{}, zap.NewNop())

	f := &fixture{
		runs:      memrepo.NewExecutionRepo(store),
		jobs:      queue.NewMemoryQueue(capacity, time.Minute, now),
		cancelled: &cancelRecorder{},
	}
	monitor := health.NewMonitor(cfg, installs, healths, creds, nil, zap.NewNop())
	bus := eventbus.NewBus(cfg, nil, f.cancelled, monitor, zap.NewNop())

	installUC := installation.NewUsecase(installs, apps, memrepo.NewScheduleRepo(store), healths, creds, f.jobs, bus, zap.NewNop()).
		WithClock(now)
	runUC := execution.NewUsecase(f.runs, bus)

	require.NoError(t, apps.Upsert(ctx, &application.Application{
		Key:            "ads-campaign-sync",
		Version:        "1.0.0",
		ExecutionType:  application.ExecutionTypeBackend,
		TriggerType:    application.TriggerTypeSchedule,
		ProviderKey:    "ads",
		DefaultConfig:  map[string]any{"frequency": "24h", "operation": "listCampaigns"},
		TimeoutSeconds: 30,
	}))

	server := NewServer(cfg,
		NewInstallationAPI(installUC, runUC, monitor),
		NewCredentialAPI(creds),
		NewCommonAPI(nil, memrepo.NewInstanceRepo(store), staticStats{}),
		zap.NewNop(),
	)
	f.router = server.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) install(t *testing.T) InstallationResp {
	t.Helper()
	w := f.do(t, http.MethodPost, "/installations", map[string]any{
		"tenant_id":       "tenant-1",
		"application_key": "ads-campaign-sync",
		"timezone":        "UTC",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[InstallationResp](t, w)
}

func TestInstallAndGet(t *testing.T) {
	f := newFixture(t, 10)
	created := f.install(t)

	assert.NotZero(t, created.ID)
	assert.Equal(t, "active", created.Status)
	assert.True(t, created.IsEnabled)
	assert.Equal(t, "24h", created.Frequency)
	require.NotNil(t, created.NextRunAt)
	assert.True(t, created.NextRunAt.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	w := f.do(t, http.MethodGet, "/installations/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[InstallationResp](t, w)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "listCampaigns", got.Config["operation"])

	w = f.do(t, http.MethodGet, "/installations?tenant_id=tenant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]InstallationResp](t, w), 1)

	w = f.do(t, http.MethodGet, "/installations?tenant_id=tenant-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]InstallationResp](t, w))
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, 10)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown installation", http.MethodGet, "/installations/999", nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", http.MethodGet, "/installations/abc", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed body", http.MethodPost, "/installations", "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing tenant", http.MethodPost, "/installations", map[string]any{"application_key": "ads-campaign-sync"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown application", http.MethodPost, "/installations", map[string]any{"tenant_id": "t", "application_key": "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad frequency", http.MethodPost, "/installations", map[string]any{"tenant_id": "t", "application_key": "ads-campaign-sync", "frequency": "sometimes"}, http.StatusUnprocessableEntity, "SCHEDULE_CONFIG_INVALID"},
		{"trigger unknown", http.MethodPost, "/installations/999/trigger", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad run status filter", http.MethodGet, "/installations/1/runs?status=weird", nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, 10)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestUpdateDisablesSchedule(t *testing.T) {
	f := newFixture(t, 10)
	created := f.install(t)

	w := f.do(t, http.MethodPatch, "/installations/"+itoa(created.ID), map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[InstallationResp](t, w)
	assert.False(t, got.IsEnabled)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, "24h", got.Frequency)
}

func TestTrigger(t *testing.T) {
	f := newFixture(t, 1)
	created := f.install(t)

	w := f.do(t, http.MethodPost, "/installations/"+itoa(created.ID)+"/trigger", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[TriggerResp](t, w)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "manual", resp.TriggeredBy)

	job, err := f.jobs.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, queue.PriorityHigh, job.Priority)

	// 队列容量为 1, 未确认的任务仍占用
	w = f.do(t, http.MethodPost, "/installations/"+itoa(created.ID)+"/trigger", map[string]any{"source": "webhook"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "QUEUE_FULL", decode[ErrorResponse](t, w).Code)
}

func TestHealthUnknownUntilProbed(t *testing.T) {
	f := newFixture(t, 10)
	created := f.install(t)

	w := f.do(t, http.MethodGet, "/installations/"+itoa(created.ID)+"/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResp](t, w)
	assert.Equal(t, "unknown", resp.Status)
	assert.Nil(t, resp.CheckedAt)
}

func TestRunsAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	created := f.install(t)

	run := execution.Start(created.ID, "tenant-1", "job-1", execution.TriggerManual, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC))
	require.NoError(t, f.runs.Create(ctx, run))

	w := f.do(t, http.MethodGet, "/installations/"+itoa(created.ID)+"/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[RunPageResp](t, w)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "running", page.Items[0].Status)

	w = f.do(t, http.MethodPost, "/installations/"+itoa(created.ID)+"/runs/"+itoa(run.ID)+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []uint64{run.ID}, f.cancelled.ids)

	w = f.do(t, http.MethodPost, "/installations/"+itoa(created.ID+1)+"/runs/"+itoa(run.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	stored.Cancel(time.Date(2024, 1, 1, 1, 1, 0, 0, time.UTC))
	require.NoError(t, f.runs.Save(ctx, stored))

	w = f.do(t, http.MethodPost, "/installations/"+itoa(created.ID)+"/runs/"+itoa(run.ID)+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUninstall(t *testing.T) {
	f := newFixture(t, 10)
	created := f.install(t)

	w := f.do(t, http.MethodDelete, "/installations/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/installations/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/installations/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCredentials(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do(t, http.MethodPut, "/tenants/tenant-1/credentials/ads", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/tenants/tenant-1/credentials/ads", map[string]any{
		"access_token":  "token",
		"refresh_token": "refresh",
		"expiry":        "2024-01-01T01:00:00Z",
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = f.do(t, http.MethodDelete, "/tenants/tenant-1/credentials/ads", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodDelete, "/tenants/tenant-1/credentials/ads", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthCheckResp](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.EqualValues(t, 3, resp.Engine.Started)
}
