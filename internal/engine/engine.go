// Package engine 平台无关的抓取状态机：搜索 / 详情 / 创作者三种模式
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"SocialSync/internal/config"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/hot"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/metrics"
	"SocialSync/internal/model"
	"SocialSync/internal/resolver"
	"SocialSync/internal/seen"
	"SocialSync/internal/sink"
)

const (
	defaultGrace    = 15 * time.Second
	defaultMaxPages = 5
)

// 运行结果
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeStopped   = "stopped"
)

// ClientSource 按平台取已登录的客户端（adapter.PlatformRegistry）
type ClientSource interface {
	Client(ctx context.Context, platform model.PlatformType) (interfaces.PlatformClient, error)
}

// IDResolver 链接/ID 解析
type IDResolver interface {
	ResolveAll(ctx context.Context, p model.PlatformType, kind resolver.Kind, inputs []string) []resolver.Result
}

// RunConfig 单次抓取参数
type RunConfig struct {
	Platform model.PlatformType
	Mode     model.CrawlerType

	Keywords  string   // search：逗号分隔
	Targets   []string // detail：链接或ID
	Creators  []string // creator：主页链接或ID
	StartPage int
	MaxNotes  int // search 必填；creator 为 0 表示不限
	PageSize  int
	Sort      string

	MaxCommentsPerContent int // <=0 不限
	EnableComments        bool
	EnableSubComments     bool
	EnableMedia           bool
	MaxConcurrency        int
	MinDelay              time.Duration
	MaxDelay              time.Duration
	Grace                 time.Duration

	OnlyNew         bool // 跳过已抓取过的内容
	RefreshComments bool // 已知内容也重新拉评论
	MaxPages        int  // OnlyNew 时创作者列表最多翻页数

	Sink  interfaces.Sink
	Media interfaces.MediaSink
	// OnNew 新内容落库后回调（已带热度标注）
	OnNew func(ctx context.Context, c *model.Content)
}

// FromConfig 由配置文件构造单次抓取参数
func FromConfig(cfg *config.Config) (RunConfig, error) {
	p, ok := model.ParsePlatform(cfg.Crawler.Platform)
	if !ok {
		return RunConfig{}, fmt.Errorf("未知平台: %s", cfg.Crawler.Platform)
	}
	mode := model.CrawlerType(cfg.Crawler.CrawlerType)
	if !mode.Valid() {
		return RunConfig{}, fmt.Errorf("未知抓取模式: %s", cfg.Crawler.CrawlerType)
	}
	rc := Defaults(cfg, p, mode)
	rc.Keywords = cfg.Crawler.Keywords
	rc.Targets = cfg.Crawler.SpecifiedIDs
	rc.Creators = cfg.Crawler.CreatorIDs
	return rc, nil
}

// Defaults 按配置填充某个平台/模式的通用参数，不含关键词和目标
func Defaults(cfg *config.Config, p model.PlatformType, mode model.CrawlerType) RunConfig {
	pc := cfg.Platform(p)
	return RunConfig{
		Platform:              p,
		Mode:                  mode,
		StartPage:             cfg.Crawler.StartPage,
		MaxNotes:              cfg.Crawler.MaxNotes,
		PageSize:              cfg.Crawler.PageSize,
		MaxCommentsPerContent: cfg.Crawler.MaxCommentsPerContent,
		EnableComments:        cfg.Crawler.EnableComments,
		EnableSubComments:     cfg.Crawler.EnableSubComments,
		EnableMedia:           cfg.Crawler.EnableMedia,
		MaxConcurrency:        cfg.Crawler.MaxConcurrency,
		MinDelay:              pc.MinDelay,
		MaxDelay:              pc.MaxDelay,
		Grace:                 cfg.Crawler.Grace,
		MaxPages:              cfg.Monitor.MaxPages,
	}
}

func (c *RunConfig) fill() {
	if c.StartPage < 1 {
		c.StartPage = 1
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
}

// KeywordList 拆分关键词，去掉空项
func (c *RunConfig) KeywordList() []string {
	var out []string
	for _, kw := range strings.Split(c.Keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// ItemSummary 新内容摘要
type ItemSummary struct {
	ContentID string         `json:"content_id"`
	Title     string         `json:"title"`
	Level     model.HotLevel `json:"level"`
	Score     float64        `json:"score"`
}

// RunResult 抓取统计
type RunResult struct {
	RunID     string             `json:"run_id"`
	Platform  model.PlatformType `json:"platform"`
	Mode      model.CrawlerType  `json:"mode"`
	New       int                `json:"new"`
	Updated   int                `json:"updated"`
	Skipped   int                `json:"skipped"`
	Comments  int                `json:"comments"`
	Creators  int                `json:"creators"`
	Media     int                `json:"media"`
	Errors    int                `json:"errors"`
	NewItems  []ItemSummary      `json:"new_items"`
	Started   time.Time          `json:"started"`
	Finished  time.Time          `json:"finished"`
	Cancelled bool               `json:"cancelled"`
}

// Sunk 写入的内容条数
func (r *RunResult) Sunk() int {
	return r.New + r.Updated
}

// Outcome 运行结论：被取消为 stopped；致命错误或一条未写入且有错误为 error
func Outcome(res *RunResult, err error) string {
	switch {
	case res != nil && res.Cancelled:
		return OutcomeStopped
	case err != nil:
		return OutcomeError
	case res != nil && res.Sunk() == 0 && res.Errors > 0:
		return OutcomeError
	}
	return OutcomeCompleted
}

// Engine 抓取引擎，可被多个任务并发使用
type Engine struct {
	clients  ClientSource
	resolver IDResolver
	seen     *seen.Set
	detector *hot.Detector
	logger   *logrus.Logger
	now      func() time.Time
}

func New(clients ClientSource, res IDResolver, seenSet *seen.Set, detector *hot.Detector, logger *logrus.Logger) *Engine {
	if seenSet == nil {
		seenSet = seen.New(nil)
	}
	if detector == nil {
		detector = hot.NewDetector(hot.DefaultThresholds())
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{clients: clients, resolver: res, seen: seenSet, detector: detector, logger: logger, now: time.Now}
}

// Seen 引擎使用的已抓取集合
func (e *Engine) Seen() *seen.Set {
	return e.seen
}

// Run 执行一次抓取。ctx 取消后最多等待 Grace，之后关闭写入并返回
func (e *Engine) Run(ctx context.Context, rc RunConfig) (*RunResult, error) {
	rc.fill()
	if rc.Sink == nil {
		return nil, errors.New("未配置存储")
	}
	if !rc.Mode.Valid() {
		return nil, fmt.Errorf("未知抓取模式: %s", rc.Mode)
	}

	r := &run{
		e:      e,
		cfg:    rc,
		gate:   sink.NewGate(rc.Sink),
		sem:    semaphore.NewWeighted(int64(rc.MaxConcurrency)),
		res:    RunResult{RunID: uuid.NewString(), Platform: rc.Platform, Mode: rc.Mode, Started: e.now()},
		logger: e.logger.WithFields(logrus.Fields{"platform": rc.Platform, "mode": rc.Mode}),
	}
	r.mediaOut = r.gate.Media(rc.Media)
	r.logger = r.logger.WithField("run_id", r.res.RunID)
	r.logger.Info("开始抓取")

	client, err := e.clients.Client(ctx, rc.Platform)
	if err != nil {
		err = fmt.Errorf("获取平台客户端失败: %w", err)
		return r.finish(ctx, err), err
	}
	r.client = client

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// 写入不随取消中断，已拿到的页面照常落库，由 gate 截止
	r.writeCtx = context.WithoutCancel(runCtx)

	done := make(chan error, 1)
	go func() { done <- r.execute(runCtx) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		timer := time.NewTimer(rc.Grace)
		select {
		case err = <-done:
			timer.Stop()
		case <-timer.C:
			r.logger.Warnf("取消后 %s 内未结束，停止写入", rc.Grace)
			err = nil
		}
	}
	r.gate.Shut()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sink.ErrRunClosed) {
		err = nil
	}
	return r.finish(ctx, err), err
}

// run 单次运行的状态
type run struct {
	e        *Engine
	cfg      RunConfig
	client   interfaces.PlatformClient
	gate     *sink.Gate
	mediaOut interfaces.MediaSink // 经 gate 包装
	sem      *semaphore.Weighted
	writeCtx context.Context
	logger   *logrus.Entry

	mu      sync.Mutex
	res     RunResult
	pending []*model.Content // 待拉评论/媒体
}

func (r *run) execute(ctx context.Context) error {
	var err error
	switch r.cfg.Mode {
	case model.CrawlerSearch:
		err = r.search(ctx)
	case model.CrawlerDetail:
		err = r.detail(ctx)
	case model.CrawlerCreator:
		err = r.creator(ctx)
	}
	if err != nil {
		return err
	}
	return r.fanOut(ctx, r.takePending())
}

func (r *run) finish(ctx context.Context, err error) *RunResult {
	r.mu.Lock()
	r.res.Finished = r.e.now()
	r.res.Cancelled = ctx.Err() != nil
	res := r.res
	res.NewItems = append([]ItemSummary(nil), r.res.NewItems...)
	r.mu.Unlock()

	outcome := Outcome(&res, err)
	metrics.EngineRuns.WithLabelValues(string(res.Platform), string(res.Mode), outcome).Inc()
	entry := r.logger.WithFields(logrus.Fields{
		"new": res.New, "updated": res.Updated, "skipped": res.Skipped,
		"comments": res.Comments, "errors": res.Errors, "outcome": outcome,
	})
	if err != nil {
		entry.WithError(err).Error("抓取失败")
	} else {
		entry.Info("抓取结束")
	}
	return &res
}

// fail 记录单条失败；致命错误原样返回以终止本轮
func (r *run) fail(err error, msg string, fields logrus.Fields) error {
	if crawlerr.IsFatal(err) || errors.Is(err, sink.ErrRunClosed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.mu.Lock()
	r.res.Errors++
	r.mu.Unlock()
	r.logger.WithError(err).WithFields(fields).Warn(msg)
	return nil
}

func (r *run) count(fn func(res *RunResult)) {
	r.mu.Lock()
	fn(&r.res)
	r.mu.Unlock()
}

func (r *run) takePending() []*model.Content {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// isSeen 查询失败按未抓取处理
func (r *run) isSeen(ctx context.Context, contentID string) bool {
	ok, err := r.e.seen.Has(ctx, r.cfg.Platform, contentID)
	if err != nil {
		r.logger.WithError(err).WithField("content_id", contentID).Warn("查询已抓取集合失败")
		return false
	}
	return ok
}

// handleContent 补详情、打分、落库、标记已抓取。返回该内容此前是否已抓取过
func (r *run) handleContent(ctx context.Context, item *model.Content, keyword string) (bool, error) {
	if item == nil || item.ContentID == "" {
		return false, nil
	}
	fields := logrus.Fields{"content_id": item.ContentID}
	known := r.isSeen(ctx, item.ContentID)
	if known && r.cfg.OnlyNew {
		r.count(func(res *RunResult) { res.Skipped++ })
		return true, nil
	}

	if item.Partial {
		full, err := r.client.GetContent(ctx, item.Ref())
		switch {
		case err != nil:
			if ferr := r.fail(err, "补全详情失败，保留列表数据", fields); ferr != nil {
				return known, ferr
			}
		case full != nil:
			if full.Tokens == nil {
				full.Tokens = item.Tokens
			}
			item = full
		}
	}
	if item.Platform == "" {
		item.Platform = r.cfg.Platform
	}
	if keyword != "" {
		kw := keyword
		item.SourceKeyword = &kw
	}
	item.Hot = r.e.detector.DetectAt(item, r.e.now())

	if err := r.gate.StoreContent(r.writeCtx, item); err != nil {
		return known, r.fail(err, "内容写入失败，跳过", fields)
	}
	if err := r.e.seen.Add(r.writeCtx, r.cfg.Platform, item.ContentID, r.e.now()); err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("标记已抓取失败")
	}

	r.mu.Lock()
	if known {
		r.res.Updated++
	} else {
		r.res.New++
		r.res.NewItems = append(r.res.NewItems, ItemSummary{
			ContentID: item.ContentID, Title: item.Title, Level: item.Hot.Level, Score: item.Hot.Score,
		})
	}
	if !known || r.cfg.RefreshComments {
		r.pending = append(r.pending, item)
	}
	r.mu.Unlock()

	if !known && r.cfg.OnNew != nil {
		r.cfg.OnNew(r.writeCtx, item)
	}
	return known, nil
}
