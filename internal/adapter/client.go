package adapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 16 << 20

// restClient 带 bearer token 的共享 REST 客户端
type restClient struct {
	provider string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
}

func (c *restClient) do(ctx context.Context, method, path string, params map[string]any, token string) (map[string]any, *Error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(c.provider, ctxErr(ctx, err))
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if q := encodeQuery(params); q != "" {
			endpoint += "?" + q
		}
	} else {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, permanent(c.provider, "BAD_PARAMS", "encode request: %v", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, permanent(c.provider, "BAD_REQUEST", "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(c.provider, ctxErr(ctx, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(c.provider, ctxErr(ctx, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyResponse(c.provider, resp.StatusCode, resp.Header, raw, c.now())
	}

	out := make(map[string]any)
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, permanent(c.provider, "BAD_RESPONSE", "decode response: %v", err)
	}
	return out, nil
}

// ctxErr 优先返回上下文错误, 便于识别超时和取消
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func encodeQuery(params map[string]any) string {
	values := url.Values{}
	for k, v := range params {
		switch vv := v.(type) {
		case []any:
			for _, item := range vv {
				values.Add(k, cast.ToString(item))
			}
		case []string:
			for _, item := range vv {
				values.Add(k, item)
			}
		default:
			values.Set(k, cast.ToString(v))
		}
	}
	return values.Encode()
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
