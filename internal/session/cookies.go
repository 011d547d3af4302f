package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"SocialSync/internal/interfaces"
)

// CookieJar 平台客户端与浏览器共享的 cookie，写入统一经过 Refresh/Set 并持锁
type CookieJar struct {
	domain string // 只保留该域名（含子域）下的 cookie

	mu      sync.RWMutex
	cookies map[string]string
}

func NewCookieJar(domain string) *CookieJar {
	return &CookieJar{domain: strings.TrimPrefix(domain, "."), cookies: make(map[string]string)}
}

// Refresh 从浏览器重新读取 cookie，整体替换
func (j *CookieJar) Refresh(ctx context.Context, provider interfaces.SessionProvider) error {
	list, err := provider.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("读取浏览器cookie失败: %w", err)
	}
	j.Set(list)
	return nil
}

// Set 用给定 cookie 列表替换当前内容
func (j *CookieJar) Set(list []interfaces.Cookie) {
	next := make(map[string]string, len(list))
	for _, c := range list {
		if j.domain != "" && c.Domain != "" && !matchDomain(c.Domain, j.domain) {
			continue
		}
		next[c.Name] = c.Value
	}
	j.mu.Lock()
	j.cookies = next
	j.mu.Unlock()
}

// Map 返回副本
func (j *CookieJar) Map() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]string, len(j.cookies))
	for k, v := range j.cookies {
		out[k] = v
	}
	return out
}

// Get 取单个 cookie
func (j *CookieJar) Get(name string) string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cookies[name]
}

// Header 拼成 Cookie 请求头，按名字排序保证稳定
func (j *CookieJar) Header() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	names := make([]string, 0, len(j.cookies))
	for k := range j.cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+j.cookies[k])
	}
	return strings.Join(parts, "; ")
}

// Len cookie 数量
func (j *CookieJar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

func matchDomain(cookieDomain, domain string) bool {
	cookieDomain = strings.TrimPrefix(cookieDomain, ".")
	return cookieDomain == domain || strings.HasSuffix(cookieDomain, "."+domain) || strings.HasSuffix(domain, "."+cookieDomain)
}

// ParseCookieString 解析 "a=1; b=2" 形式的 cookie 串
func ParseCookieString(raw, domain string) []interfaces.Cookie {
	var out []interfaces.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, interfaces.Cookie{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return out
}

// LoginWithCookies cookie 登录：把配置里的 cookie 串注入浏览器
func LoginWithCookies(ctx context.Context, provider interfaces.SessionProvider, raw, domain string) error {
	cookies := ParseCookieString(raw, "."+strings.TrimPrefix(domain, "."))
	if len(cookies) == 0 {
		return fmt.Errorf("cookie 为空，无法登录")
	}
	return provider.AddCookies(ctx, cookies)
}
