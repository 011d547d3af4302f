// Package resolver 把短链、规范链接、裸 ID 统一解析为平台内的规范 ID
package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// Kind 期望的解析结果类型
type Kind string

const (
	KindContent Kind = "content"
	KindCreator Kind = "creator"
	KindAny     Kind = "any"
)

// Result 解析结果；OK=false 时 Reason 说明原因
type Result struct {
	Platform model.PlatformType
	Kind     Kind
	ID       string
	Tokens   map[string]string
	OK       bool
	Reason   string
}

// ContentRef 转为详情请求引用
func (r Result) ContentRef() model.ContentRef {
	return model.ContentRef{ID: r.ID, Tokens: r.Tokens}
}

// CreatorRef 转为创作者引用
func (r Result) CreatorRef() model.CreatorRef {
	return model.CreatorRef{ID: r.ID, Tokens: r.Tokens}
}

// tokenParams 链接中需要透传给详情接口的上下文参数
var tokenParams = []string{"xsec_token", "xsec_source"}

// Resolver 标识解析器；除短链展开外不做任何网络请求
type Resolver struct {
	rules    map[model.PlatformType]*Rules
	provider interfaces.SessionProvider
	timeout  time.Duration
	logger   *logrus.Logger
}

// Option 构造选项
type Option func(*Resolver)

// WithTimeout 短链展开超时
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRules 覆盖或新增平台规则
func WithRules(p model.PlatformType, rules *Rules) Option {
	return func(r *Resolver) { r.rules[p] = rules }
}

// New provider 可以为空，此时短链一律无法解析
func New(provider interfaces.SessionProvider, opts ...Option) *Resolver {
	r := &Resolver{
		rules:    DefaultRules(),
		provider: provider,
		timeout:  10 * time.Second,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func unresolvable(p model.PlatformType, kind Kind, reason string) Result {
	return Result{Platform: p, Kind: kind, Reason: reason}
}

// Resolve 解析输入，永不返回错误
func (r *Resolver) Resolve(ctx context.Context, p model.PlatformType, kind Kind, input string) Result {
	if kind == "" {
		kind = KindAny
	}
	rules, ok := r.rules[p]
	if !ok {
		return unresolvable(p, kind, "unsupported platform")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return unresolvable(p, kind, "empty input")
	}

	u, isURL := parseURL(input)
	if !isURL {
		return r.fromID(p, rules, kind, input)
	}
	if matchesHost(u.Host, rules.Redirectors) {
		return r.expand(ctx, p, rules, kind, u.String())
	}
	return r.fromURL(p, rules, kind, u)
}

// ResolveAll 批量解析，去掉无法解析的输入并按首次出现去重
func (r *Resolver) ResolveAll(ctx context.Context, p model.PlatformType, kind Kind, inputs []string) []Result {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		res := r.Resolve(ctx, p, kind, in)
		if !res.OK {
			r.logger.WithFields(logrus.Fields{
				"platform": p,
				"input":    in,
				"reason":   res.Reason,
			}).Warn("无法解析的目标，已跳过")
			continue
		}
		key := string(res.Kind) + ":" + res.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, res)
	}
	return out
}

func (r *Resolver) fromID(p model.PlatformType, rules *Rules, kind Kind, id string) Result {
	if kind != KindCreator && rules.ValidContent != nil && rules.ValidContent(id) {
		return Result{Platform: p, Kind: KindContent, ID: normalize(rules, id), OK: true}
	}
	if kind != KindContent && rules.ValidCreator != nil && rules.ValidCreator(id) {
		return Result{Platform: p, Kind: KindCreator, ID: id, OK: true}
	}
	return unresolvable(p, kind, "invalid id")
}

// fromURL 依次尝试：规范路径 → 次要路径 → 查询参数 → 创作者路径 → 数字路径段
func (r *Resolver) fromURL(p model.PlatformType, rules *Rules, kind Kind, u *url.URL) Result {
	target := hostPath(u)
	query := u.Query()
	tokens := map[string]string{}
	for _, k := range tokenParams {
		if v := query.Get(k); v != "" {
			tokens[k] = v
		}
	}
	if len(tokens) == 0 {
		tokens = nil
	}
	content := func(id string) Result {
		return Result{Platform: p, Kind: KindContent, ID: normalize(rules, id), Tokens: tokens, OK: true}
	}
	creator := func(id string) Result {
		return Result{Platform: p, Kind: KindCreator, ID: id, Tokens: tokens, OK: true}
	}

	if kind != KindCreator {
		for _, group := range [][]*regexp.Regexp{rules.Content, rules.ContentAlt} {
			if id := firstMatch(group, target); id != "" {
				return content(id)
			}
		}
		for _, k := range rules.ContentQuery {
			if v := query.Get(k); pathID.MatchString(v) {
				return content(v)
			}
		}
	}
	if kind != KindContent {
		if id := firstMatch(rules.Creator, target); id != "" {
			return creator(id)
		}
	}
	if matchesHost(u.Host, rules.NumericPaths) {
		segs := segments(u.Path)
		switch {
		case len(segs) == 2 && segs[0] == "u" && digits.MatchString(segs[1]):
			if kind != KindContent {
				return creator(segs[1])
			}
		case len(segs) == 1 && digits.MatchString(segs[0]):
			if kind != KindContent {
				return creator(segs[0])
			}
		case len(segs) == 2 && digits.MatchString(segs[0]) && digits.MatchString(segs[1]):
			if kind != KindCreator {
				return content(segs[1])
			}
		}
	}
	if kind != KindContent {
		for _, k := range rules.CreatorQuery {
			if v := query.Get(k); v != "" {
				return creator(v)
			}
		}
	}
	return unresolvable(p, kind, "no pattern matched "+target)
}

// expand 在浏览器中打开短链，监听导航响应，按优先级挑选第一个命中的规范链接
func (r *Resolver) expand(ctx context.Context, p model.PlatformType, rules *Rules, kind Kind, raw string) Result {
	if r.provider == nil {
		return unresolvable(p, kind, "short url needs a session provider")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	page, err := r.provider.Open(ctx, "")
	if err != nil {
		return unresolvable(p, kind, "open page: "+err.Error())
	}
	defer page.Close()

	var (
		mu    sync.Mutex
		best  Result
		rank  = 4
		found bool
	)
	consider := func(target string, document bool) {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" || matchesHost(u.Host, rules.Redirectors) {
			return
		}
		res := r.fromURL(p, rules, kind, u)
		if !res.OK {
			return
		}
		rk := preference(u, document)
		mu.Lock()
		defer mu.Unlock()
		// 同一优先级保留最早的事件
		if rk < rank {
			best, rank, found = res, rk, true
		}
	}

	stop := page.OnResponse(func(ev interfaces.ResponseEvent) {
		consider(ev.URL, ev.Document)
	})
	gotoErr := page.Goto(ctx, raw, interfaces.WaitDOMContentLoaded, r.timeout)
	stop()
	if final := page.URL(); final != "" {
		consider(final, true)
	}

	mu.Lock()
	defer mu.Unlock()
	if found {
		return best
	}
	if gotoErr != nil {
		r.logger.WithError(gotoErr).WithFields(logrus.Fields{"platform": p, "url": raw}).Warn("短链展开失败")
		return unresolvable(p, kind, "expand short url: "+gotoErr.Error())
	}
	return unresolvable(p, kind, "short url did not reach a known page")
}

// preference 1: 顶层文档且非接口地址；2: 其他非接口地址；3: 接口地址
func preference(u *url.URL, document bool) int {
	if isAPIPath(u.Path) {
		return 3
	}
	if document {
		return 1
	}
	return 2
}

func isAPIPath(path string) bool {
	return strings.Contains(path, "/api/") ||
		strings.HasPrefix(path, "/aweme/v1/") ||
		strings.HasPrefix(path, "/x/")
}

// parseURL 识别带或不带协议的链接，裸 ID 返回 false
func parseURL(s string) (*url.URL, bool) {
	if !strings.Contains(s, "://") {
		host, _, _ := strings.Cut(s, "/")
		if !strings.Contains(s, "/") || !strings.Contains(host, ".") {
			return nil, false
		}
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, true
}

func hostPath(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host + u.Path
}

func matchesHost(host string, domains []string) bool {
	host = strings.ToLower(host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

func normalize(rules *Rules, id string) string {
	if rules.Normalize != nil {
		return rules.Normalize(id)
	}
	return id
}
