package interfaces

import (
	"context"
	"time"
)

// Cookie 浏览器 cookie
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
}

// WaitUntil 页面导航等待条件
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// ResponseEvent 页面收到的响应
type ResponseEvent struct {
	URL      string
	Status   int
	Document bool // 顶层文档导航
}

// Page 浏览器页面
type Page interface {
	Goto(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error
	OnResponse(handler func(ResponseEvent)) (stop func())
	Evaluate(ctx context.Context, js string, out any) error
	URL() string
	Close() error
}

// SessionProvider 脚本化浏览器，提供登录态
type SessionProvider interface {
	Open(ctx context.Context, url string) (Page, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookies(ctx context.Context, cookies []Cookie) error
	AddInitScript(path string) error
	Close() error
}

// Signer 平台签名，返回的请求头原样附加到请求上
type Signer interface {
	Sign(ctx context.Context, uri string, body []byte, cookies map[string]string, ua string) (map[string]string, error)
}

// SignerFunc 函数形式的 Signer
type SignerFunc func(ctx context.Context, uri string, body []byte, cookies map[string]string, ua string) (map[string]string, error)

func (f SignerFunc) Sign(ctx context.Context, uri string, body []byte, cookies map[string]string, ua string) (map[string]string, error) {
	return f(ctx, uri, body, cookies, ua)
}
