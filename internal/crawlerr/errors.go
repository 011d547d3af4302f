// Package crawlerr 抓取链路的错误分类
package crawlerr

import (
	"errors"
	"fmt"
)

var (
	ErrTransient    = errors.New("transient http failure")  // 连接重置、超时、5xx
	ErrRateLimited  = errors.New("rate limited")            // 429/432 或平台风控码
	ErrForbidden    = errors.New("forbidden")               // 403 或登录态失效，本轮致命
	ErrNotFound     = errors.New("not found")               // 内容不存在，调用方按空结果处理
	ErrDataFetch    = errors.New("data fetch failed")       // 解码失败或平台错误码
	ErrUnresolvable = errors.New("unresolvable identifier") // 无法解析的链接/ID
	ErrSink         = errors.New("sink write failed")
)

// PlatformError 平台返回的业务错误
type PlatformError struct {
	Platform string
	Code     int
	Msg      string
	Kind     error // 上面的哨兵错误之一
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: code=%d msg=%s (%v)", e.Platform, e.Code, e.Msg, e.Kind)
}

func (e *PlatformError) Unwrap() error {
	return e.Kind
}

// New 构造平台错误
func New(platform string, code int, msg string, kind error) *PlatformError {
	return &PlatformError{Platform: platform, Code: code, Msg: msg, Kind: kind}
}

// IsFatal 会话失效类错误，当前任务必须终止
func IsFatal(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsRetryable 可以重试的错误
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrDataFetch)
}

// Class 用于指标标签
func Class(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDataFetch):
		return "data_fetch"
	case errors.Is(err, ErrUnresolvable):
		return "unresolvable"
	case errors.Is(err, ErrSink):
		return "sink"
	}
	return "other"
}
