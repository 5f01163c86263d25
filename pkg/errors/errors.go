// Package errors re-exports github.com/cockroachdb/errors together with the
// sentinel errors shared by every engine component.
//
// Components mark errors with a sentinel instead of returning the sentinel
// itself, so callers keep the original message and stack:
//
//	return errors.Mark(errors.Wrap(err, "refresh token"), errors.ErrCredentialsExpired)
//
// and match with errors.Is(err, errors.ErrCredentialsExpired).
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New           = crdb.New
	Newf          = crdb.Newf
	Errorf        = crdb.Errorf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	WithHint      = crdb.WithHint
	WithStack     = crdb.WithStack
	Mark          = crdb.Mark
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllDetails = crdb.GetAllDetails
)

// 通用错误
var (
	ErrNotFound       = New("not found")
	ErrInvalidRequest = New("invalid request")
	ErrConflict       = New("conflict")
	ErrLockHeld       = New("lock held by another worker")
)

// Credential Store
var (
	ErrNotConnected       = New("provider not connected")
	ErrCredentialsExpired = New("credentials expired")
)

// Provider error kinds after normalization.
var (
	ErrTransient     = New("transient provider error")
	ErrPermanent     = New("permanent provider error")
	ErrQuotaExceeded = New("provider quota exceeded")
)

// Queue and schedule
var (
	ErrQueueFull             = New("queue full")
	ErrScheduleConfigInvalid = New("schedule config invalid")
)
