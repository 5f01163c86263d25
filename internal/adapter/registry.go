package adapter

import (
	"context"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/pkg/config"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var Provider = wire.NewSet(NewRegistry)

const (
	defaultPageSize = 100
	defaultMaxPages = 10
)

type provider struct {
	adapter  Adapter
	client   *restClient
	breaker  *CircuitBreaker
	pageSize int
	maxPages int
}

// Registry 按 providerKey 分发调用, 负责限流、熔断、分页和错误归一化
type Registry struct {
	providers map[string]*provider
	timeout   time.Duration
	logger    *zap.Logger
}

type invokeOptions struct {
	maxPages int
	timeout  time.Duration
}

type InvokeOption func(*invokeOptions)

// WithMaxPages bounds how many pages one invocation assembles.
func WithMaxPages(n int) InvokeOption {
	return func(o *invokeOptions) {
		o.maxPages = n
	}
}

// WithTimeout bounds the whole invocation, pages included.
func WithTimeout(d time.Duration) InvokeOption {
	return func(o *invokeOptions) {
		o.timeout = d
	}
}

func NewRegistry(cfg config.AdaptersConfig, httpClient *http.Client, logger *zap.Logger) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	r := &Registry{
		providers: make(map[string]*provider),
		timeout:   cfg.Timeout,
		logger:    logger.Named("adapter"),
	}
	for _, a := range Builtin() {
		r.Register(a, cfg.Providers[a.Key], cfg.BreakerThreshold, cfg.BreakerReset, httpClient)
	}
	return r
}

// Register adds or replaces the adapter for a.Key.
func (r *Registry) Register(a Adapter, pc config.ProviderAdapterConfig, breakerThreshold int, breakerReset time.Duration, httpClient *http.Client) {
	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = a.DefaultBaseURL
	}
	limit := rate.Inf
	if pc.RatePerSecond > 0 {
		limit = rate.Limit(pc.RatePerSecond)
	}
	burst := pc.Burst
	if burst <= 0 {
		burst = 1
	}
	p := &provider{
		adapter: a,
		client: &restClient{
			provider: a.Key,
			baseURL:  trimBaseURL(baseURL),
			http:     httpClient,
			limiter:  rate.NewLimiter(limit, burst),
			now:      time.Now,
		},
		breaker:  NewCircuitBreaker(breakerThreshold, breakerReset, nil),
		pageSize: pc.PageSize,
		maxPages: pc.MaxPages,
	}
	if p.pageSize <= 0 {
		p.pageSize = defaultPageSize
	}
	if p.maxPages <= 0 {
		p.maxPages = defaultMaxPages
	}
	r.providers[a.Key] = p
}

func (r *Registry) Has(providerKey string) bool {
	_, ok := r.providers[providerKey]
	return ok
}

// Invoke runs operation against the provider. Pages are assembled into one
// result. Errors come back normalized in Result.Error.
func (r *Registry) Invoke(ctx context.Context, providerKey, operation string, cred credential.Credential, params map[string]any, opts ...InvokeOption) Result {
	p, ok := r.providers[providerKey]
	if !ok {
		return failed(permanent(providerKey, "UNKNOWN_PROVIDER", "no adapter registered for %q", providerKey), 0)
	}
	op, ok := p.adapter.Operations[operation]
	if !ok {
		return failed(permanent(providerKey, "UNKNOWN_OPERATION", "operation %q is not supported", operation), 0)
	}

	o := invokeOptions{maxPages: p.maxPages, timeout: r.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPages <= 0 {
		o.maxPages = p.maxPages
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	res := r.run(ctx, p, op, cred, params, o.maxPages)
	if res.Error != nil {
		r.logger.Debug("provider call failed",
			zap.String("provider", providerKey),
			zap.String("operation", operation),
			zap.String("kind", string(res.Error.Kind)),
			zap.Int("http_status", res.Error.HTTPStatus),
			zap.Int("pages", res.Pages))
	}
	return res
}

// Probe runs the provider's lightweight no-op call.
func (r *Registry) Probe(ctx context.Context, providerKey string, cred credential.Credential) Result {
	p, ok := r.providers[providerKey]
	if !ok {
		return failed(permanent(providerKey, "UNKNOWN_PROVIDER", "no adapter registered for %q", providerKey), 0)
	}
	return r.Invoke(ctx, providerKey, p.adapter.ProbeOperation, cred, nil, WithMaxPages(1))
}

func (r *Registry) run(ctx context.Context, p *provider, op Operation, cred credential.Credential, params map[string]any, maxPages int) Result {
	path, rest, missing := op.expandPath(params)
	if missing != "" {
		return failed(permanent(p.adapter.Key, "MISSING_PARAM", "parameter %q is required by %s", missing, op.Name), 0)
	}

	paging := op.Paging
	token := ""
	offset := 0
	if paging.Style == PagingToken {
		token = cast.ToString(rest[paging.TokenParam])
	}
	if paging.Style == PagingOffset {
		offset = cast.ToInt(rest[paging.OffsetParam])
	}
	pageSize := p.pageSize
	if paging.SizeParam != "" {
		if v := cast.ToInt(rest[paging.SizeParam]); v > 0 {
			pageSize = v
		}
	}

	var (
		items []any
		last  map[string]any
		pages int
	)
	for {
		// 翻页之间检查取消
		if pages > 0 {
			if err := ctx.Err(); err != nil {
				return failed(classifyTransport(p.adapter.Key, err), pages)
			}
		}

		req := maps.Clone(rest)
		if req == nil {
			req = make(map[string]any)
		}
		switch paging.Style {
		case PagingToken:
			if token != "" {
				req[paging.TokenParam] = token
			}
			req[paging.SizeParam] = pageSize
		case PagingOffset:
			req[paging.OffsetParam] = offset
			req[paging.SizeParam] = pageSize
		}

		resp, perr := r.call(ctx, p, op, path, req, cred)
		if perr != nil {
			return failed(perr, pages)
		}
		pages++
		last = resp

		if paging.Style == PagingNone {
			return Result{Success: true, Data: resp, Pages: pages}
		}

		pageItems := cast.ToSlice(resp[paging.ItemsField])
		items = append(items, pageItems...)

		more := false
		next := ""
		switch paging.Style {
		case PagingToken:
			token = cast.ToString(resp[paging.NextTokenField])
			more, next = token != "", token
		case PagingOffset:
			offset += len(pageItems)
			more = len(pageItems) > 0 && len(pageItems) >= pageSize
			next = strconv.Itoa(offset)
		}

		if !more {
			return Result{Success: true, Data: assemble(last, paging, items, pages), Pages: pages}
		}
		if pages >= maxPages {
			return Result{Success: true, Data: assemble(last, paging, items, pages), Pages: pages, NextPageToken: next}
		}
	}
}

func (r *Registry) call(ctx context.Context, p *provider, op Operation, path string, params map[string]any, cred credential.Credential) (map[string]any, *Error) {
	if !p.breaker.Allow() {
		return nil, &Error{
			Provider:  p.adapter.Key,
			Code:      "CIRCUIT_OPEN",
			Kind:      KindTransient,
			Message:   "circuit breaker is open",
			Retryable: true,
		}
	}
	resp, perr := p.client.do(ctx, op.Method, path, params, cred.Bearer())
	// 只有服务端故障计入熔断
	p.breaker.Record(perr != nil && perr.Kind == KindTransient && perr.Code != "CANCELLED")
	return resp, perr
}

func assemble(last map[string]any, paging Paging, items []any, pages int) map[string]any {
	data := maps.Clone(last)
	delete(data, paging.NextTokenField)
	if items == nil {
		items = []any{}
	}
	data[paging.ItemsField] = items
	data["pageCount"] = pages
	return data
}
