package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
	"SocialSync/internal/engine"
	"SocialSync/internal/hot"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/seen"
	"SocialSync/internal/sink"
)

// 定时任务名
const (
	JobAccountMonitor = "account-monitor"
	JobTrendingUpdate = "trending-update"
	JobRetention      = "retention"
)

// EngineProvider 首次使用时初始化浏览器会话与平台客户端，失败后下次调用重试
type EngineProvider struct {
	build func(ctx context.Context) (*engine.Engine, error)

	mu  sync.Mutex
	eng *engine.Engine
}

func NewEngineProvider(build func(ctx context.Context) (*engine.Engine, error)) *EngineProvider {
	return &EngineProvider{build: build}
}

func (p *EngineProvider) Get(ctx context.Context) (*engine.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eng != nil {
		return p.eng, nil
	}
	eng, err := p.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化抓取引擎失败: %w", err)
	}
	p.eng = eng
	return eng, nil
}

// MonitorService 监控列表增量抓取、热度更新与过期清理
type MonitorService struct {
	cfg      *config.Config
	engines  *EngineProvider
	store    interfaces.MonitorStore
	seen     *seen.Set
	detector *hot.Detector
	sink     interfaces.Sink // 配置的存储，可为空
	media    interfaces.MediaSink
	onHot    interfaces.HotCallback
	logger   *logrus.Logger
	now      func() time.Time
}

// MonitorDeps MonitorService 的依赖
type MonitorDeps struct {
	Config   *config.Config
	Engines  *EngineProvider
	Store    interfaces.MonitorStore
	Seen     *seen.Set
	Detector *hot.Detector
	Sink     interfaces.Sink
	Media    interfaces.MediaSink
	OnHot    interfaces.HotCallback
	Logger   *logrus.Logger
}

func NewMonitorService(d MonitorDeps) *MonitorService {
	detector := d.Detector
	if detector == nil {
		detector = hot.NewDetector(hot.ThresholdsFromConfig(d.Config.Hot))
	}
	seenSet := d.Seen
	if seenSet == nil {
		seenSet = seen.New(d.Store)
	}
	return &MonitorService{
		cfg: d.Config, engines: d.Engines, store: d.Store, seen: seenSet, detector: detector,
		sink: d.Sink, media: d.Media, onHot: d.OnHot, logger: d.Logger, now: time.Now,
	}
}

// Register 注册三个定时任务
func (m *MonitorService) Register(s *Scheduler) error {
	interval := m.cfg.Monitor.IntervalMinutes
	if interval <= 0 {
		interval = 30
	}
	trending := m.cfg.Monitor.TrendingSpec
	if trending == "" {
		trending = "@hourly"
	}
	retention := m.cfg.Monitor.RetentionSpec
	if retention == "" {
		retention = "0 3 * * *"
	}
	if err := s.AddCronJob(JobAccountMonitor, fmt.Sprintf("@every %dm", interval), m.RunAccountMonitor); err != nil {
		return err
	}
	if err := s.AddCronJob(JobTrendingUpdate, trending, m.RunTrendingUpdate); err != nil {
		return err
	}
	return s.AddCronJob(JobRetention, retention, m.RunRetention)
}

var targetOrder = []model.TargetKind{model.TargetCreator, model.TargetKeyword, model.TargetID}

var targetModes = map[model.TargetKind]model.CrawlerType{
	model.TargetCreator: model.CrawlerCreator,
	model.TargetKeyword: model.CrawlerSearch,
	model.TargetID:      model.CrawlerDetail,
}

// RunAccountMonitor 抓取到期的监控条目，只处理新内容
func (m *MonitorService) RunAccountMonitor(ctx context.Context) error {
	watches, err := m.store.ListWatches(ctx, true)
	if err != nil {
		return fmt.Errorf("查询监控列表失败: %w", err)
	}
	now := m.now()
	interval := time.Duration(m.cfg.Monitor.IntervalMinutes) * time.Minute
	groups := make(map[model.PlatformType]map[model.TargetKind][]*model.WatchEntry)
	due := 0
	for _, w := range watches {
		if !w.Due(now, interval) {
			continue
		}
		if groups[w.Platform] == nil {
			groups[w.Platform] = make(map[model.TargetKind][]*model.WatchEntry)
		}
		groups[w.Platform][w.TargetKind] = append(groups[w.Platform][w.TargetKind], w)
		due++
	}
	if due == 0 {
		m.logger.Debug("没有到期的监控条目")
		return nil
	}

	eng, err := m.engines.Get(ctx)
	if err != nil {
		return err
	}

	var hotItems []*model.Content
	var hotMu sync.Mutex
	newTotal := 0
	for _, p := range model.KnownPlatforms {
		for _, kind := range targetOrder {
			for _, w := range groups[p][kind] {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := eng.Run(ctx, m.watchRun(w, func(_ context.Context, c *model.Content) {
					if c.Hot.Level.AtLeast(model.LevelTrending) {
						hotMu.Lock()
						hotItems = append(hotItems, c)
						hotMu.Unlock()
					}
				}))
				fields := logrus.Fields{"platform": w.Platform, "target_kind": w.TargetKind, "target": w.Target}
				if err != nil {
					m.logger.WithError(err).WithFields(fields).Warn("监控抓取失败，跳过")
					continue
				}
				newTotal += res.New
				if res.Cancelled {
					return ctx.Err()
				}
				if err := m.store.TouchWatch(ctx, w.WatchKey(), m.now()); err != nil {
					m.logger.WithError(err).WithFields(fields).Warn("更新抓取时间失败")
				}
			}
		}
	}

	if m.onHot != nil {
		for _, c := range hotItems {
			if err := m.onHot(ctx, c); err != nil {
				m.logger.WithError(err).WithField("content_id", c.ContentID).Warn("热门回调失败")
			}
		}
	}
	m.logger.Infof("监控抓取完成，%d个条目，新增%d条，热门%d条", due, newTotal, len(hotItems))
	return nil
}

// watchRun 单个监控条目的抓取参数
func (m *MonitorService) watchRun(w *model.WatchEntry, onNew func(context.Context, *model.Content)) engine.RunConfig {
	rc := engine.Defaults(m.cfg, w.Platform, targetModes[w.TargetKind])
	maxItems := w.MaxItems
	if maxItems <= 0 {
		maxItems = m.cfg.Monitor.MaxItemsPerTarget
	}
	rc.MaxNotes = maxItems
	rc.OnlyNew = true
	rc.OnNew = onNew
	switch w.TargetKind {
	case model.TargetCreator:
		rc.Creators = []string{w.Target}
	case model.TargetKeyword:
		rc.Keywords = w.Target
		rc.StartPage = 1
		// 否则 max_items 小于 page_size 时一页都不会抓
		rc.PageSize = min(max(rc.PageSize, 1), max(maxItems, 1))
	case model.TargetID:
		rc.Targets = []string{w.Target}
	}

	sinks := sink.Multi{}
	if m.sink != nil {
		sinks = append(sinks, m.sink)
	}
	sinks = append(sinks, sink.NewRouter(sink.NewMonitorSink(m.store), m.now))
	rc.Sink = sinks
	rc.Media = m.media
	return rc
}

// RunTrendingUpdate 按发布时间重算近期内容的热度
func (m *MonitorService) RunTrendingUpdate(ctx context.Context) error {
	now := m.now()
	window := m.cfg.Monitor.TrendingWindowDays
	if window <= 0 {
		window = 7
	}
	notes, err := m.store.ListNotesSince(ctx, now.AddDate(0, 0, -window))
	if err != nil {
		return fmt.Errorf("查询近期内容失败: %w", err)
	}
	hotCount := 0
	for _, n := range notes {
		if err := ctx.Err(); err != nil {
			return err
		}
		hs := m.detector.DetectAt(n, now)
		fields := logrus.Fields{"platform": n.Platform, "content_id": n.ContentID}
		if err := m.store.UpdateNoteScore(ctx, n.Platform, n.ContentID, hs); err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("更新热度失败，跳过")
			continue
		}
		if !hs.Level.AtLeast(model.LevelTrending) {
			continue
		}
		n.Hot = hs
		if err := m.store.UpsertHotNote(ctx, n, now); err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("写入热门内容失败")
			continue
		}
		hotCount++
	}
	m.logger.Infof("热度更新完成，共%d条，热门%d条", len(notes), hotCount)
	return nil
}

// RunRetention 清理过期的抓取标记和非热门内容
func (m *MonitorService) RunRetention(ctx context.Context) error {
	days := m.cfg.Monitor.RetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := m.now().AddDate(0, 0, -days)
	pruned, err := m.seen.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	deleted, err := m.store.DeleteNotesBefore(ctx, cutoff, true)
	if err != nil {
		return fmt.Errorf("清理过期内容失败: %w", err)
	}
	m.logger.Infof("过期清理完成，抓取标记%d条，内容%d条", pruned, deleted)
	return nil
}
