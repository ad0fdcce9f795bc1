package poll

import (
	"errors"
	"fmt"
)

// Kind 机器可读的错误类别
type Kind string

const (
	KindNotFound      Kind = "NotFound"
	KindAlreadyExists Kind = "AlreadyExists"
	KindValidation    Kind = "ValidationError"
	KindInvalidState  Kind = "InvalidState"
	KindPollClosed    Kind = "PollClosed"
	KindInvalidAnswer Kind = "InvalidAnswer"
	KindDuplicateVote Kind = "DuplicateVote"
	KindUnavailable   Kind = "Unavailable"
	// KindRateLimited 只由传输层的限流产生
	KindRateLimited Kind = "RateLimited"
	KindInternal      Kind = "Internal"
)

// Error is the typed result every actor operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable 只有Unavailable和RateLimited值得重试，其余错误重试也不会成功
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// WithContext 附加调试字段
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound etc. build typed errors.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return newError(KindAlreadyExists, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return newError(KindInvalidState, format, args...)
}

func Unavailable(cause error, format string, args ...interface{}) *Error {
	e := newError(KindUnavailable, format, args...)
	e.Cause = cause
	return e
}

func RateLimited(format string, args ...interface{}) *Error {
	return newError(KindRateLimited, format, args...)
}

func Internal(cause error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// KindOf 返回错误的类别，非 *Error 一律视为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于给定类别
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
