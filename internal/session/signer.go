package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"SocialSync/internal/interfaces"
)

// PageSigner 在平台首页里调用页面自带的签名函数
// 表达式形如 window._webmsxyw，调用方式为 fn(uri, body)，返回对象即为要附加的请求头
type PageSigner struct {
	provider interfaces.SessionProvider
	homeURL  string
	fn       string

	mu   sync.Mutex
	page interfaces.Page
}

var _ interfaces.Signer = (*PageSigner)(nil)

func NewPageSigner(provider interfaces.SessionProvider, homeURL, fn string) *PageSigner {
	return &PageSigner{provider: provider, homeURL: homeURL, fn: fn}
}

// Sign 首次调用时打开首页，之后复用同一个页面
func (s *PageSigner) Sign(ctx context.Context, uri string, body []byte, cookies map[string]string, ua string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		page, err := s.provider.Open(ctx, s.homeURL)
		if err != nil {
			return nil, fmt.Errorf("打开签名页面失败: %w", err)
		}
		s.page = page
	}

	args, err := json.Marshal([]string{uri, string(body)})
	if err != nil {
		return nil, err
	}
	js := fmt.Sprintf("(function(a){ var f = %s; return f ? f(a[0], a[1] || undefined) : null; })(%s)", s.fn, args)

	var raw map[string]any
	if err := s.page.Evaluate(ctx, js, &raw); err != nil {
		// 页面可能已失效，下次重新打开
		_ = s.page.Close()
		s.page = nil
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			headers[k] = t
		case nil:
		default:
			b, _ := json.Marshal(t)
			headers[k] = string(b)
		}
	}
	return headers, nil
}

// Close 关闭签名页
func (s *PageSigner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	return err
}

// NoopSigner 不需要签名的平台
type NoopSigner struct{}

func (NoopSigner) Sign(context.Context, string, []byte, map[string]string, string) (map[string]string, error) {
	return nil, nil
}
