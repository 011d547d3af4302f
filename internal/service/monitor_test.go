package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/config"
	"SocialSync/internal/engine"
	"SocialSync/internal/hot"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/repository"
	"SocialSync/internal/seen"
)

// fakeClient 创作者列表与搜索都返回固定内容
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	items   []*model.Content
	block   chan struct{}
	started chan struct{}
}

func (f *fakeClient) Platform() model.PlatformType { return model.PlatformXHS }

func (f *fakeClient) page(ctx context.Context) (interfaces.ContentPage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		if f.started != nil {
			close(f.started)
			f.started = nil
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return interfaces.ContentPage{}, ctx.Err()
		}
	}
	out := make([]*model.Content, 0, len(f.items))
	for _, c := range f.items {
		cp := *c
		out = append(out, &cp)
	}
	return interfaces.ContentPage{Items: out}, nil
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Search(ctx context.Context, _ string, _ int, _ interfaces.SearchOptions) (interfaces.ContentPage, error) {
	return f.page(ctx)
}

func (f *fakeClient) GetContent(_ context.Context, ref model.ContentRef) (*model.Content, error) {
	return &model.Content{Platform: model.PlatformXHS, ContentID: ref.ID}, nil
}

func (f *fakeClient) GetRootComments(context.Context, model.ContentRef, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}

func (f *fakeClient) GetChildComments(context.Context, *model.Comment, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}

func (f *fakeClient) GetCreator(_ context.Context, ref model.CreatorRef) (*model.Creator, error) {
	return &model.Creator{Platform: model.PlatformXHS, UserID: ref.ID}, nil
}

func (f *fakeClient) ListCreatorContent(ctx context.Context, _ *model.Creator, _ string, _ int) (interfaces.ContentPage, error) {
	return f.page(ctx)
}

func (f *fakeClient) FetchMedia(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeClient) Ping(context.Context) (bool, error) { return true, nil }

func (f *fakeClient) RefreshCookies(context.Context) error { return nil }

type staticSource struct{ client interfaces.PlatformClient }

func (s staticSource) Client(context.Context, model.PlatformType) (interfaces.PlatformClient, error) {
	return s.client, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Crawler: config.CrawlerConfig{StartPage: 1, PageSize: 20, MaxConcurrency: 1, Grace: time.Second},
		Monitor: config.MonitorConfig{
			IntervalMinutes: 30, RetentionDays: 30, TrendingWindowDays: 7, MaxItemsPerTarget: 20, MaxPages: 5,
		},
		Hot: config.HotConfig{
			ViralLikes: 20000, ViralScore: 80, HotLikes: 5000, HotScore: 60, HotGrowth: 500,
			TrendingLikes: 1000, TrendingScore: 40, TrendingGrowth: 100,
		},
	}
}

func testLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func newMonitorStore(t *testing.T) *repository.MonitorRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "monitor.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	return repository.NewMonitorRepository(db)
}

type monitorFixture struct {
	svc    *MonitorService
	store  *repository.MonitorRepository
	client *fakeClient
	builds int
	hot    []string
}

func newMonitorFixture(t *testing.T, client *fakeClient) *monitorFixture {
	f := &monitorFixture{store: newMonitorStore(t), client: client}
	cfg := testConfig()
	seenSet := seen.New(f.store)
	detector := hot.NewDetector(hot.ThresholdsFromConfig(cfg.Hot))
	engines := NewEngineProvider(func(context.Context) (*engine.Engine, error) {
		f.builds++
		return engine.New(staticSource{client}, nil, seenSet, detector, testLogger()), nil
	})
	f.svc = NewMonitorService(MonitorDeps{
		Config: cfg, Engines: engines, Store: f.store, Seen: seenSet, Detector: detector, Logger: testLogger(),
		OnHot: func(_ context.Context, c *model.Content) error {
			f.hot = append(f.hot, c.ContentID)
			return nil
		},
	})
	return f
}

func TestAccountMonitorCrawlsDueWatches(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{items: []*model.Content{
		{Platform: model.PlatformXHS, ContentID: "n1", LikeCount: 10},
		{Platform: model.PlatformXHS, ContentID: "n2", LikeCount: 30000},
	}}
	f := newMonitorFixture(t, client)
	require.NoError(t, f.store.UpsertWatch(ctx, &model.WatchEntry{
		Platform: model.PlatformXHS, TargetKind: model.TargetCreator, Target: "u1", Active: true,
	}))
	require.NoError(t, f.store.UpsertWatch(ctx, &model.WatchEntry{
		Platform: model.PlatformXHS, TargetKind: model.TargetKeyword, Target: "foo", Active: false,
	}))

	require.NoError(t, f.svc.RunAccountMonitor(ctx))
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, []string{"n2"}, f.hot)

	notes, err := f.store.ListNotesSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, notes, 2)
	hotNotes, err := f.store.ListHotNotes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hotNotes, 1)
	assert.Equal(t, "n2", hotNotes[0].ContentID)

	watches, err := f.store.ListWatches(ctx, true)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	require.NotNil(t, watches[0].LastCrawlAt)

	// 未到下次间隔，不再抓取
	require.NoError(t, f.svc.RunAccountMonitor(ctx))
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, 1, f.builds)
}

func TestAccountMonitorOnlyNew(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{items: []*model.Content{{Platform: model.PlatformXHS, ContentID: "n1", LikeCount: 3000}}}
	f := newMonitorFixture(t, client)
	require.NoError(t, f.store.UpsertWatch(ctx, &model.WatchEntry{
		Platform: model.PlatformXHS, TargetKind: model.TargetKeyword, Target: "foo", Active: true, MaxItems: 5,
	}))

	require.NoError(t, f.svc.RunAccountMonitor(ctx))
	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, f.svc.RunAccountMonitor(ctx))

	assert.Equal(t, 2, client.Calls())
	// 第二轮 n1 已抓取过，不再回调
	assert.Equal(t, []string{"n1"}, f.hot)
}

func TestTrendingUpdateRescores(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, &fakeClient{})
	now := time.Now()
	for i, likes := range []int64{100, 2000, 50000} {
		require.NoError(t, f.store.UpsertNote(ctx, &model.Content{
			Platform: model.PlatformXHS, ContentID: fmt.Sprintf("n%d", i), LikeCount: likes,
			IngestedAt: now, UpdatedAt: now,
		}))
	}

	require.NoError(t, f.svc.RunTrendingUpdate(ctx))
	notes, err := f.store.ListNotesSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	levels := map[string]model.HotLevel{}
	for _, n := range notes {
		levels[n.ContentID] = n.Hot.Level
	}
	assert.Equal(t, model.LevelNormal, levels["n0"])
	assert.Equal(t, model.LevelTrending, levels["n1"])
	assert.Equal(t, model.LevelViral, levels["n2"])

	hotNotes, err := f.store.ListHotNotes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, hotNotes, 2)
}

func TestRetentionKeepsHot(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture(t, &fakeClient{})
	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, f.store.MarkSeen(ctx, model.PlatformXHS, "old", old))
	require.NoError(t, f.store.MarkSeen(ctx, model.PlatformXHS, "new", time.Now()))
	require.NoError(t, f.store.UpsertNote(ctx, &model.Content{Platform: model.PlatformXHS, ContentID: "old", UpdatedAt: old}))
	require.NoError(t, f.store.UpsertNote(ctx, &model.Content{
		Platform: model.PlatformXHS, ContentID: "old-hot", UpdatedAt: old,
		Hot: model.HotScore{Level: model.LevelHot, IsHot: true},
	}))

	require.NoError(t, f.svc.RunRetention(ctx))

	ok, err := f.store.HasSeen(ctx, model.PlatformXHS, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.store.HasSeen(ctx, model.PlatformXHS, "new")
	require.NoError(t, err)
	assert.True(t, ok)

	notes, err := f.store.ListNotesSince(ctx, old.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "old-hot", notes[0].ContentID)
}

func TestRegisterJobs(t *testing.T) {
	f := newMonitorFixture(t, &fakeClient{})
	s := newTestScheduler(t)
	require.NoError(t, f.svc.Register(s))
	var names, specs []string
	for _, j := range s.Jobs() {
		names = append(names, j.Name)
		specs = append(specs, j.Spec)
	}
	assert.Equal(t, []string{JobAccountMonitor, JobRetention, JobTrendingUpdate}, names)
	assert.Equal(t, []string{"@every 30m", "0 3 * * *", "@hourly"}, specs)
}

func TestSchedulerStopDuringMonitorRun(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{
		items:   []*model.Content{{Platform: model.PlatformXHS, ContentID: "n1"}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	started := client.started
	f := newMonitorFixture(t, client)
	require.NoError(t, f.store.UpsertWatch(ctx, &model.WatchEntry{
		Platform: model.PlatformXHS, TargetKind: model.TargetCreator, Target: "u1", Active: true,
	}))
	s := newTestScheduler(t)
	require.NoError(t, f.svc.Register(s))
	require.NoError(t, s.TriggerNow(JobAccountMonitor))
	<-started

	begin := time.Now()
	require.NoError(t, s.Stop(ctx))
	assert.Less(t, time.Since(begin), 5*time.Second)

	notes, err := f.store.ListNotesSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, notes)
}
