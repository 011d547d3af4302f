// Package proxy IP 代理池：启动时批量提取，请求前检查当前代理是否过期并原子替换
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
)

// ErrEmpty 代理商没有返回可用代理
var ErrEmpty = errors.New("proxy pool is empty")

// Proxy 单个代理
type Proxy struct {
	URL      *url.URL
	ExpireAt time.Time // 零值表示不过期
}

// Expired 是否已过期
func (p *Proxy) Expired(now time.Time) bool {
	return !p.ExpireAt.IsZero() && !now.Before(p.ExpireAt)
}

// Provider 代理来源
type Provider interface {
	GetProxies(ctx context.Context, n int) ([]*Proxy, error)
}

// StaticProvider 配置文件里写死的代理
type StaticProvider struct {
	urls []string
	ttl  time.Duration
	now  func() time.Time
}

func NewStaticProvider(urls []string, ttl time.Duration) *StaticProvider {
	return &StaticProvider{urls: urls, ttl: ttl, now: time.Now}
}

func (s *StaticProvider) GetProxies(_ context.Context, n int) ([]*Proxy, error) {
	out := make([]*Proxy, 0, len(s.urls))
	for _, raw := range s.urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("代理地址解析失败 %s: %w", raw, err)
		}
		p := &Proxy{URL: u}
		if s.ttl > 0 {
			p.ExpireAt = s.now().Add(s.ttl)
		}
		out = append(out, p)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, nil
}

// HTTPProvider 代理商提取接口
// 返回 [{"ip":"1.2.3.4","port":8080,"user":"u","password":"p","protocol":"http","expire_ts":1700000000}]
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	ttl      time.Duration
	now      func() time.Time
}

func NewHTTPProvider(endpoint string, client *http.Client, ttl time.Duration) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{endpoint: endpoint, client: client, ttl: ttl, now: time.Now}
}

type vendorIP struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Protocol string `json:"protocol"`
	ExpireTS int64  `json:"expire_ts"`
}

func (h *HTTPProvider) GetProxies(ctx context.Context, n int) ([]*Proxy, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("num", fmt.Sprint(n))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("提取代理失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("提取代理失败: status=%d", resp.StatusCode)
	}
	var ips []vendorIP
	if err := json.NewDecoder(resp.Body).Decode(&ips); err != nil {
		return nil, fmt.Errorf("解析代理列表失败: %w", err)
	}
	out := make([]*Proxy, 0, len(ips))
	for _, ip := range ips {
		scheme := ip.Protocol
		if scheme == "" {
			scheme = "http"
		}
		pu := &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", ip.IP, ip.Port)}
		if ip.User != "" {
			pu.User = url.UserPassword(ip.User, ip.Password)
		}
		p := &Proxy{URL: pu}
		switch {
		case ip.ExpireTS > 0:
			p.ExpireAt = time.Unix(ip.ExpireTS, 0)
		case h.ttl > 0:
			p.ExpireAt = h.now().Add(h.ttl)
		}
		out = append(out, p)
	}
	return out, nil
}

// Validator 校验代理是否可用
type Validator func(ctx context.Context, p *Proxy) error

// Pool 代理池，current 槽位原子替换
type Pool struct {
	provider Provider
	size     int
	validate Validator
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	list    []*Proxy
	current atomic.Pointer[Proxy]
}

// NewPool 创建代理池并预加载
func NewPool(ctx context.Context, provider Provider, size int, validate Validator, logger *logrus.Logger) (*Pool, error) {
	p := &Pool{provider: provider, size: size, validate: validate, logger: logger, now: time.Now}
	if err := p.reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// FromConfig 根据配置构造代理池，未开启时返回 nil
func FromConfig(ctx context.Context, cfg config.ProxyConfig, logger *logrus.Logger) (*Pool, error) {
	if !cfg.EnableIPProxy {
		return nil, nil
	}
	var provider Provider
	if cfg.ProviderURL != "" {
		provider = NewHTTPProvider(cfg.ProviderURL, nil, cfg.TTL)
	} else {
		provider = NewStaticProvider(cfg.Static, cfg.TTL)
	}
	var validate Validator
	if cfg.CheckURL != "" {
		validate = HTTPValidator(cfg.CheckURL, 10*time.Second)
	}
	return NewPool(ctx, provider, cfg.IPProxyPoolCount, validate, logger)
}

func (p *Pool) reload(ctx context.Context) error {
	list, err := p.provider.GetProxies(ctx, p.size)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.list = list
	p.mu.Unlock()
	p.logger.WithField("count", len(list)).Info("代理池已加载")
	return nil
}

// take 随机取出一个代理，池空时重新提取
func (p *Pool) take(ctx context.Context) (*Proxy, error) {
	p.mu.Lock()
	empty := len(p.list) == 0
	p.mu.Unlock()
	if empty {
		if err := p.reload(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.list) == 0 {
		return nil, ErrEmpty
	}
	i := rand.Intn(len(p.list))
	proxy := p.list[i]
	p.list = append(p.list[:i], p.list[i+1:]...)
	return proxy, nil
}

// Get 取一个经过校验的代理，最多尝试 3 次
func (p *Pool) Get(ctx context.Context) (*Proxy, error) {
	policy := retrypolicy.NewBuilder[*Proxy]().
		WithMaxRetries(2).
		WithDelay(time.Second).
		ReturnLastFailure().
		Build()
	return failsafe.With[*Proxy](policy).WithContext(ctx).Get(func() (*Proxy, error) {
		proxy, err := p.take(ctx)
		if err != nil {
			return nil, err
		}
		if p.validate != nil {
			if err := p.validate(ctx, proxy); err != nil {
				p.logger.WithError(err).WithField("proxy", proxy.URL.Host).Warn("代理不可用，重新提取")
				return nil, err
			}
		}
		return proxy, nil
	})
}

// Current 返回当前代理，过期则原子替换为新代理
func (p *Pool) Current(ctx context.Context) (*Proxy, error) {
	cur := p.current.Load()
	if cur != nil && !cur.Expired(p.now()) {
		return cur, nil
	}
	next, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	if p.current.CompareAndSwap(cur, next) {
		p.logger.WithField("proxy", next.URL.Host).Info("当前代理已过期，已切换")
		return next, nil
	}
	// 其他请求已完成替换，放回新取的代理
	p.mu.Lock()
	p.list = append(p.list, next)
	p.mu.Unlock()
	return p.current.Load(), nil
}

// CurrentExpired 当前代理是否需要刷新
func (p *Pool) CurrentExpired() bool {
	cur := p.current.Load()
	return cur == nil || cur.Expired(p.now())
}

// ProxyFunc 给 http.Transport.Proxy 使用，只读当前槽位
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		cur := p.current.Load()
		if cur == nil {
			return nil, nil
		}
		return cur.URL, nil
	}
}

// HTTPValidator 通过代理请求 checkURL 校验可用性
func HTTPValidator(checkURL string, timeout time.Duration) Validator {
	return func(ctx context.Context, p *Proxy) error {
		client := &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(p.URL)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, checkURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("代理校验失败: status=%d", resp.StatusCode)
		}
		return nil
	}
}
