package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/metrics"
	"SocialSync/internal/model"
	"SocialSync/internal/proxy"
	"SocialSync/internal/session"
	"SocialSync/internal/utils/httpclient"
)

// Decoder 平台响应信封解码：校验业务码，把有效数据解到 out
// 返回的错误应当是 crawlerr 的哨兵或 *crawlerr.PlatformError，否则按 ErrDataFetch 处理
type Decoder func(body []byte, out any) error

// Request 一次平台请求
type Request struct {
	Op       string // 指标标签：search/detail/comments/...
	Method   string // 默认 GET
	URL      string // 完整地址，或相对 BaseURL 的路径
	Query    url.Values
	Body     any // 非空时按 JSON 发送
	Headers  map[string]string
	Comments bool // 评论类接口，404 视为空结果
	Raw      bool // 跳过信封解码，out 必须是 *[]byte
	NoSign   bool
	// SignQuery 签名结果中应放进查询串而不是请求头的字段（如抖音 a_bogus）
	SignQuery []string
}

// Requester 各平台共用的请求流水线：代理 → 签名 → 超时 → 状态码映射 → 信封解码 → 重试
type Requester struct {
	platform model.PlatformType
	cfg      config.PlatformConfig
	client   *http.Client
	signer   interfaces.Signer
	jar      *session.CookieJar
	provider interfaces.SessionProvider
	pool     *proxy.Pool
	decode   Decoder
	logger   *logrus.Logger
}

// NewRequester 按平台配置组装流水线；配置了签名表达式且有浏览器时使用页面签名
func NewRequester(platform model.PlatformType, deps Deps, decode Decoder) *Requester {
	cfg := deps.Config
	var signer interfaces.Signer = session.NoopSigner{}
	if deps.Signer != nil {
		signer = deps.Signer
	} else if cfg.SignScript != "" && deps.Provider != nil {
		signer = session.NewPageSigner(deps.Provider, cfg.HomeURL, cfg.SignScript)
	}
	return &Requester{
		platform: platform,
		cfg:      cfg,
		client:   httpclient.NewHTTPClient(&cfg, deps.Pool, deps.Logger),
		signer:   signer,
		jar:      session.NewCookieJar(CookieDomain(platform)),
		provider: deps.Provider,
		pool:     deps.Pool,
		decode:   decode,
		logger:   deps.Logger,
	}
}

// Jar 平台 cookie
func (r *Requester) Jar() *session.CookieJar {
	return r.jar
}

// Config 平台配置
func (r *Requester) Config() config.PlatformConfig {
	return r.cfg
}

// Provider 浏览器，可能为空
func (r *Requester) Provider() interfaces.SessionProvider {
	return r.provider
}

// Do 发送请求并把结果解到 out；评论接口 404 时 out 保持不变
func (r *Requester) Do(ctx context.Context, req Request, out any) error {
	started := time.Now()
	defer metrics.ObserveRequest(string(r.platform), req.Op, started)

	policy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(max(r.cfg.RetryCount, 1)).
		WithDelay(r.cfg.RetryBackoff).
		HandleIf(func(_ any, err error) bool { return crawlerr.IsRetryable(err) }).
		AbortIf(func(_ any, err error) bool { return crawlerr.IsFatal(err) }).
		ReturnLastFailure().
		Build()

	var lastErr error
	_, err := failsafe.With[any](policy).WithContext(ctx).Get(func() (any, error) {
		// 被限流后先刷新登录态再重试
		if errors.Is(lastErr, crawlerr.ErrRateLimited) {
			if rerr := r.RefreshCookies(ctx); rerr != nil {
				r.logger.WithError(rerr).WithField("platform", r.platform).Warn("刷新登录态失败")
			}
		}
		lastErr = r.attempt(ctx, req, out)
		if lastErr != nil && crawlerr.IsRetryable(lastErr) {
			r.logger.WithError(lastErr).WithFields(logrus.Fields{
				"platform": r.platform,
				"op":       req.Op,
			}).Debug("请求失败，准备重试")
		}
		return nil, lastErr
	})
	if err != nil {
		metrics.FetchErrors.WithLabelValues(string(r.platform), req.Op, crawlerr.Class(err)).Inc()
		return fmt.Errorf("%s %s: %w", r.platform, req.Op, err)
	}
	return nil
}

func (r *Requester) attempt(ctx context.Context, req Request, out any) error {
	if r.pool != nil {
		if _, err := r.pool.Current(ctx); err != nil {
			r.logger.WithError(err).Warn("刷新代理失败，沿用当前出口")
		}
	}

	target, uri, err := r.buildURL(req)
	if err != nil {
		return err
	}
	var payload []byte
	if req.Body != nil {
		if payload, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("User-Agent", r.cfg.UserAgent)
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	if r.cfg.HomeURL != "" {
		httpReq.Header.Set("Origin", r.cfg.HomeURL)
		httpReq.Header.Set("Referer", r.cfg.HomeURL+"/")
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	if cookie := r.jar.Header(); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if !req.NoSign {
		signed, err := r.signer.Sign(ctx, uri, payload, r.jar.Map(), r.cfg.UserAgent)
		if err != nil {
			return fmt.Errorf("%w: 签名失败: %v", crawlerr.ErrTransient, err)
		}
		q := httpReq.URL.Query()
		for k, v := range signed {
			if slices.Contains(req.SignQuery, k) {
				q.Set(k, v)
				continue
			}
			httpReq.Header.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", crawlerr.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: 读取响应失败: %v", crawlerr.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusNotFound && req.Comments {
		return nil
	}
	if err := r.statusError(resp.StatusCode, body); err != nil {
		return err
	}

	if req.Raw {
		b, ok := out.(*[]byte)
		if !ok {
			return fmt.Errorf("raw 请求的 out 必须是 *[]byte")
		}
		*b = body
		return nil
	}
	decode := r.decode
	if decode == nil {
		decode = PlainJSON
	}
	if err := decode(body, out); err != nil {
		if crawlerr.Class(err) == "other" {
			return fmt.Errorf("%w: %v", crawlerr.ErrDataFetch, err)
		}
		return err
	}
	return nil
}

// statusError HTTP 状态码映射为错误分类
func (r *Requester) statusError(status int, body []byte) error {
	if status < 300 {
		return nil
	}
	msg := http.StatusText(status)
	if len(body) > 0 && len(body) < 256 {
		msg = strings.TrimSpace(string(body))
	}
	p := string(r.platform)
	switch {
	case status == http.StatusForbidden:
		return crawlerr.New(p, status, msg, crawlerr.ErrForbidden)
	case status == http.StatusNotFound:
		return crawlerr.New(p, status, msg, crawlerr.ErrNotFound)
	case status == http.StatusTooManyRequests || status == 432 || status == 461 || status == 471:
		// 461/471 为小红书验证码
		return crawlerr.New(p, status, msg, crawlerr.ErrRateLimited)
	case status >= 500:
		return crawlerr.New(p, status, msg, crawlerr.ErrTransient)
	}
	return crawlerr.New(p, status, msg, crawlerr.ErrDataFetch)
}

// buildURL 返回完整地址与参与签名的 uri（路径 + 查询串）
func (r *Requester) buildURL(req Request) (string, string, error) {
	raw := req.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = strings.TrimRight(r.cfg.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("请求地址非法 %s: %w", raw, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	uri := u.Path
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}
	return u.String(), uri, nil
}

// HTML 拉取页面源码（不签名）
func (r *Requester) HTML(ctx context.Context, op, target string) (string, error) {
	var body []byte
	err := r.Do(ctx, Request{
		Op:      op,
		URL:     target,
		Raw:     true,
		NoSign:  true,
		Headers: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	}, &body)
	return string(body), err
}

// Fetch 下载图片/视频
func (r *Requester) Fetch(ctx context.Context, target string) ([]byte, error) {
	var body []byte
	err := r.Do(ctx, Request{Op: "media", URL: target, Raw: true, NoSign: true}, &body)
	return body, err
}

// RefreshCookies 重新打开首页并读取浏览器 cookie，没有浏览器时不做任何事
func (r *Requester) RefreshCookies(ctx context.Context) error {
	if r.provider == nil {
		return nil
	}
	if r.cfg.HomeURL != "" {
		page, err := r.provider.Open(ctx, r.cfg.HomeURL)
		if err != nil {
			return fmt.Errorf("打开首页失败: %w", err)
		}
		defer page.Close()
	}
	return r.jar.Refresh(ctx, r.provider)
}

// SyncCookies 只重新读取浏览器 cookie，不打开页面
func (r *Requester) SyncCookies(ctx context.Context) error {
	if r.provider == nil {
		return nil
	}
	return r.jar.Refresh(ctx, r.provider)
}

// HomeURL 平台网页端地址
func (r *Requester) HomeURL() string {
	return strings.TrimRight(r.cfg.HomeURL, "/")
}

// PlainJSON 无信封的接口
func PlainJSON(body []byte, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
