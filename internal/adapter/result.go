package adapter

import (
	"fmt"

	"github.com/jobs/integration-engine/pkg/errors"
)

// Kind 归一化后的错误类别
type Kind string

const (
	KindQuotaExceeded Kind = "QuotaExceeded"
	KindAuthFailed    Kind = "AuthFailed"
	KindTransient     Kind = "Transient"
	KindPermanent     Kind = "Permanent"
)

// Error is the only error shape that leaves the registry.
type Error struct {
	Provider     string `json:"provider"`
	HTTPStatus   int    `json:"httpStatus,omitempty"`
	Code         string `json:"code,omitempty"`
	Kind         Kind   `json:"kind"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (%d %s)", e.Provider, e.Message, e.HTTPStatus, e.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

// Marked returns the error marked with the matching sentinel from pkg/errors.
func (e *Error) Marked() error {
	var sentinel error
	switch e.Kind {
	case KindQuotaExceeded:
		sentinel = errors.ErrQuotaExceeded
	case KindAuthFailed:
		sentinel = errors.ErrCredentialsExpired
	case KindTransient:
		sentinel = errors.ErrTransient
	default:
		sentinel = errors.ErrPermanent
	}
	return errors.Mark(e, sentinel)
}

// Result 一次调用的结果, 多页时已合并
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         *Error         `json:"error,omitempty"`
	Pages         int            `json:"pages"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func failed(e *Error, pages int) Result {
	return Result{Error: e, Pages: pages}
}

func permanent(provider, code, format string, args ...any) *Error {
	return &Error{
		Provider: provider,
		Code:     code,
		Kind:     KindPermanent,
		Message:  fmt.Sprintf(format, args...),
	}
}
