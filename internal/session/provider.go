// Package session 脚本化浏览器（go-rod）提供的登录态：页面、cookie、签名
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/interfaces"
)

// Options 浏览器启动参数
type Options struct {
	Headless    bool
	UserDataDir string // 为空时不保存登录态
	Proxy       string
	InitScripts []string
}

// RodProvider 基于 go-rod 的 SessionProvider
type RodProvider struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *logrus.Logger

	mu      sync.Mutex
	scripts []string // 新页面打开前注入的脚本内容
}

var _ interfaces.SessionProvider = (*RodProvider)(nil)

// NewRodProvider 启动无头浏览器并连接
func NewRodProvider(ctx context.Context, opts Options, logger *logrus.Logger) (*RodProvider, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}
	l = l.Context(ctx)

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	p := &RodProvider{browser: browser, launcher: l, logger: logger}
	for _, path := range opts.InitScripts {
		if err := p.AddInitScript(path); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	logger.WithField("headless", opts.Headless).Info("浏览器已启动")
	return p, nil
}

// Open 打开新页面（带反检测），url 为空时只创建空白页
func (p *RodProvider) Open(ctx context.Context, url string) (interfaces.Page, error) {
	page, err := stealth.Page(p.browser)
	if err != nil {
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}
	p.mu.Lock()
	scripts := append([]string(nil), p.scripts...)
	p.mu.Unlock()
	for _, js := range scripts {
		if _, err := page.EvalOnNewDocument(js); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("注入初始化脚本失败: %w", err)
		}
	}

	rp := &rodPage{page: page}
	if url != "" {
		if err := rp.Goto(ctx, url, interfaces.WaitLoad, 30*time.Second); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	return rp, nil
}

// Cookies 读取浏览器全部 cookie
func (p *RodProvider) Cookies(ctx context.Context) ([]interfaces.Cookie, error) {
	list, err := p.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("读取cookie失败: %w", err)
	}
	out := make([]interfaces.Cookie, 0, len(list))
	for _, c := range list {
		out = append(out, interfaces.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires.Time(),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out, nil
}

// AddCookies 写入 cookie
func (p *RodProvider) AddCookies(ctx context.Context, cookies []interfaces.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, param)
	}
	if err := p.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("写入cookie失败: %w", err)
	}
	return nil
}

// AddInitScript 读取脚本文件，之后打开的页面都会注入
func (p *RodProvider) AddInitScript(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取初始化脚本 %s 失败: %w", path, err)
	}
	p.mu.Lock()
	p.scripts = append(p.scripts, string(data))
	p.mu.Unlock()
	return nil
}

// Close 关闭浏览器
func (p *RodProvider) Close() error {
	err := p.browser.Close()
	p.launcher.Cleanup()
	return err
}

// rodPage interfaces.Page 的 rod 实现
type rodPage struct {
	page *rod.Page
}

func (rp *rodPage) Goto(ctx context.Context, url string, wait interfaces.WaitUntil, timeout time.Duration) error {
	page := rp.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	waitNav := page.WaitNavigation(lifecycleEvent(wait))
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("打开 %s 失败: %w", url, err)
	}
	waitNav()
	return ctx.Err()
}

func lifecycleEvent(w interfaces.WaitUntil) proto.PageLifecycleEventName {
	switch w {
	case interfaces.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case interfaces.WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkAlmostIdle
	}
	return proto.PageLifecycleEventNameLoad
}

// OnResponse 监听页面收到的响应，返回的 stop 结束监听
func (rp *rodPage) OnResponse(handler func(interfaces.ResponseEvent)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	page := rp.page.Context(ctx)
	_ = proto.NetworkEnable{}.Call(page)

	go page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		handler(interfaces.ResponseEvent{
			URL:      e.Response.URL,
			Status:   e.Response.Status,
			Document: e.Type == proto.NetworkResourceTypeDocument && e.FrameID == rp.page.FrameID,
		})
	})()
	return cancel
}

// Evaluate 执行表达式，结果按 JSON 解到 out（out 可为 nil）
func (rp *rodPage) Evaluate(ctx context.Context, js string, out any) error {
	res, err := rp.page.Context(ctx).Eval("() => (" + js + ")")
	if err != nil {
		return fmt.Errorf("执行脚本失败: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (rp *rodPage) URL() string {
	info, err := rp.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (rp *rodPage) Close() error {
	return rp.page.Close()
}
