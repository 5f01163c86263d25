package adapter

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/spf13/cast"
)

// quotaMarkers 出现在响应体中即视为配额错误, 优先于 401/403
var quotaMarkers = []string{
	"RESOURCE_EXHAUSTED",
	"rateLimitExceeded",
	"quotaExceeded",
	"userRateLimitExceeded",
	"dailyLimitExceeded",
}

type providerErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
	RetryAfter any `json:"retryAfter"`
}

// classifyResponse maps a non 2xx provider response to an Error.
func classifyResponse(provider string, status int, header http.Header, body []byte, now time.Time) *Error {
	var parsed providerErrorBody
	_ = json.Unmarshal(body, &parsed)

	e := &Error{
		Provider:   provider,
		HTTPStatus: status,
		Code:       parsed.Error.Status,
		Message:    parsed.Error.Message,
	}
	if e.Message == "" {
		e.Message = strings.ToLower(http.StatusText(status))
	}
	if e.Code == "" {
		if len(parsed.Error.Errors) > 0 && parsed.Error.Errors[0].Reason != "" {
			e.Code = parsed.Error.Errors[0].Reason
		} else {
			e.Code = strconv.Itoa(status)
		}
	}

	marker := quotaMarker(body)
	switch {
	case marker != "" || status == http.StatusTooManyRequests:
		e.Kind = KindQuotaExceeded
		e.Retryable = true
		if marker != "" {
			e.Code = marker
		}
		e.RetryAfterMs = retryAfter(header, parsed, now)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthFailed
	case status >= http.StatusInternalServerError:
		e.Kind = KindTransient
		e.Retryable = true
		e.RetryAfterMs = retryAfter(header, parsed, now)
	default:
		e.Kind = KindPermanent
	}
	return e
}

// classifyTransport maps an error raised before a response arrived.
func classifyTransport(provider string, err error) *Error {
	e := &Error{
		Provider:  provider,
		Kind:      KindTransient,
		Retryable: true,
		Code:      "NETWORK",
		Message:   err.Error(),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Code = "TIMEOUT"
		e.Message = "provider call timed out"
	case errors.Is(err, context.Canceled):
		e.Code = "CANCELLED"
		e.Message = "provider call cancelled"
	}
	return e
}

func quotaMarker(body []byte) string {
	for _, m := range quotaMarkers {
		if bytes.Contains(body, []byte(m)) {
			return m
		}
	}
	return ""
}

// retryAfter 先取 Retry-After 头, 再取响应体中的提示
func retryAfter(header http.Header, body providerErrorBody, now time.Time) int64 {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return secs * 1000
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d.Milliseconds()
			}
			return 0
		}
	}
	for _, d := range body.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
			return delay.Milliseconds()
		}
	}
	if body.RetryAfter != nil {
		if secs, err := cast.ToFloat64E(body.RetryAfter); err == nil && secs > 0 {
			return int64(secs * 1000)
		}
	}
	return 0
}
