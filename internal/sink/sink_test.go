package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/metrics"
	"SocialSync/internal/model"
	"SocialSync/internal/repository"
)

var day = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

func open(t *testing.T, option string, opts Options) *Router {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	if opts.Now == nil {
		opts.Now = clock(day)
	}
	r, err := NewRegistry().Open(option, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func note(id string, likes int64) *model.Content {
	return &model.Content{Platform: model.PlatformXHS, ContentID: id, Title: "标题 " + id, LikeCount: likes,
		MediaURLs: model.StringList{"https://ci.xiaohongshu.com/a.jpg"}}
}

func TestRegistryUnknownOption(t *testing.T) {
	_, err := NewRegistry().Open("parquet", Options{})
	assert.Error(t, err)
	assert.Contains(t, NewRegistry().Options(), "excel")
}

func TestRouterValidatesAndClamps(t *testing.T) {
	ctx := context.Background()
	r := open(t, "json", Options{})

	err := r.StoreContent(ctx, &model.Content{Platform: model.PlatformXHS})
	assert.ErrorIs(t, err, crawlerr.ErrSink)
	err = r.StoreComment(ctx, &model.Comment{CommentID: "c1"})
	assert.ErrorIs(t, err, crawlerr.ErrSink)

	before := testutil.ToFloat64(metrics.RecordsSunk.WithLabelValues("xhs", "contents", "json"))
	c := note("n1", -5)
	c.CollectCount = -1
	require.NoError(t, r.StoreContent(ctx, c))
	assert.Equal(t, int64(0), c.LikeCount)
	assert.Equal(t, int64(0), c.CollectCount)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecordsSunk.WithLabelValues("xhs", "contents", "json")))
}

func TestCSVHeaderWrittenOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := open(t, "csv", Options{DataDir: dir, CrawlerType: model.CrawlerSearch})

	require.NoError(t, r.StoreContent(ctx, note("n1", 1)))
	require.NoError(t, r.StoreContent(ctx, note("n1", 2)))
	require.NoError(t, r.StoreContent(ctx, note("n2", 3)))

	f, err := os.Open(filepath.Join(dir, "xhs", "search_contents_2024-03-01.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, (&model.Content{}).Columns(), rows[0])
	assert.Equal(t, "n1", rows[1][1])
	assert.Equal(t, "2", rows[2][14])
}

func TestJSONUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := day
	r := open(t, "json", Options{DataDir: dir, Now: func() time.Time { return now }})

	require.NoError(t, r.StoreContent(ctx, note("n1", 1)))
	require.NoError(t, r.StoreContent(ctx, note("n2", 2)))
	now = day.Add(time.Hour)
	require.NoError(t, r.StoreContent(ctx, note("n1", 50)))

	data, err := os.ReadFile(filepath.Join(dir, "xhs", "search_contents_2024-03-01.json"))
	require.NoError(t, err)
	var arr []map[string]any
	require.NoError(t, json.Unmarshal(data, &arr))
	assert.Len(t, arr, 2)

	got, err := r.LoadContent(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.LikeCount)
	assert.True(t, got.IngestedAt.Equal(day))
	assert.True(t, got.UpdatedAt.Equal(day.Add(time.Hour)))
	assert.Equal(t, model.StringList{"https://ci.xiaohongshu.com/a.jpg"}, got.MediaURLs)

	cm := &model.Comment{Platform: model.PlatformXHS, CommentID: "c1", ContentID: "n1", BodyText: "好看"}
	require.NoError(t, r.StoreComment(ctx, cm))
	gotCm, err := r.LoadComment(ctx, model.PlatformXHS, "c1")
	require.NoError(t, err)
	assert.Equal(t, "好看", gotCm.BodyText)

	_, err = r.LoadCreator(ctx, model.PlatformXHS, "nobody")
	assert.ErrorIs(t, err, crawlerr.ErrNotFound)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := open(t, "sqlite", Options{DataDir: dir, SQLitePath: filepath.Join(dir, "out.db")})

	cr := &model.Creator{Platform: model.PlatformDouyin, UserID: "MS4wLjAB", Nickname: "抖音用户", FollowerCount: 12}
	require.NoError(t, r.StoreCreator(ctx, cr))
	got, err := r.LoadCreator(ctx, model.PlatformDouyin, "MS4wLjAB")
	require.NoError(t, err)
	assert.Equal(t, "抖音用户", got.Nickname)
	assert.Equal(t, int64(12), got.FollowerCount)
}

func TestRelationalUpsert(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "rel.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	now := day
	r := open(t, "db", Options{DB: db, Now: func() time.Time { return now }})
	require.NoError(t, r.StoreContent(ctx, note("n1", 1)))
	now = day.Add(2 * time.Hour)
	require.NoError(t, r.StoreContent(ctx, note("n1", 9)))

	got, err := r.LoadContent(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.LikeCount)
	assert.True(t, got.IngestedAt.Equal(day))
	assert.True(t, got.UpdatedAt.After(got.IngestedAt))

	var n int64
	require.NoError(t, db.Table("xhs_contents").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestExcelFlushOnClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := NewRegistry()
	r, err := reg.Open("excel", Options{DataDir: dir, CrawlerType: model.CrawlerDetail, Now: clock(day)})
	require.NoError(t, err)

	require.NoError(t, r.StoreContent(ctx, note("n1", 1)))
	require.NoError(t, r.StoreComment(ctx, &model.Comment{Platform: model.PlatformXHS, CommentID: "c1", ContentID: "n1"}))
	require.NoError(t, r.StoreComment(ctx, &model.Comment{Platform: model.PlatformXHS, CommentID: "c2", ContentID: "n1"}))

	path := filepath.Join(dir, "xhs", "detail_2024-03-01.xlsx")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, r.Close(ctx))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"contents", "comments"}, f.GetSheetList())
	rows, err := f.GetRows("comments")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "comment_id", rows[0][1])
	assert.Equal(t, "c2", rows[2][1])
}

func TestMediaNaming(t *testing.T) {
	assert.Equal(t, "n1.jpg", MediaFileName("n1", 0, "https://sns-img.xhscdn.com/abc"))
	assert.Equal(t, "n1_1.png", MediaFileName("n1", 1, "https://img/x.PNG?imageView2"))
	assert.Equal(t, "n1_2.mp4", MediaFileName("n1", 2, "https://v.cdn/v/video.mp4"))
	assert.Equal(t, "n1.webp", MediaFileName("n1", 0, "https://img/a.webp!nd_dft_wlteh_webp_3"))

	dir := t.TempDir()
	m := NewMediaStore(dir)
	p, err := m.StoreMedia(context.Background(), model.PlatformXHS, "n1", 1, "https://img/x.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "xhs", "media", "n1_1.png"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestGateRejectsAfterShut(t *testing.T) {
	ctx := context.Background()
	c := NewCollector(10)
	g := NewGate(c)
	require.NoError(t, g.StoreContent(ctx, note("n1", 1)))
	g.Shut()
	assert.ErrorIs(t, g.StoreContent(ctx, note("n2", 1)), ErrRunClosed)
	assert.ErrorIs(t, g.StoreComment(ctx, &model.Comment{}), ErrRunClosed)
	assert.Len(t, c.Contents(), 1)
}

func TestGateBlocksMediaAfterShut(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	g := NewGate(NewCollector(0))
	assert.Nil(t, g.Media(nil))
	media := g.Media(NewMediaStore(dir))

	path, err := media.StoreMedia(ctx, model.PlatformXHS, "n1", 0, "https://cdn/a.png", []byte("x"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	g.Shut()
	_, err = media.StoreMedia(ctx, model.PlatformXHS, "n1", 1, "https://cdn/b.png", []byte("y"))
	assert.ErrorIs(t, err, ErrRunClosed)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(path), "n1_1.png"))
}

type failingSink struct{ Collector }

func (f *failingSink) StoreContent(context.Context, *model.Content) error {
	return errors.New("disk full")
}

func TestMultiWritesAll(t *testing.T) {
	ctx := context.Background()
	a, b := NewCollector(0), NewCollector(0)
	m := Multi{a, &failingSink{}, b}
	err := m.StoreContent(ctx, note("n1", 1))
	assert.Error(t, err)
	assert.Len(t, a.Contents(), 1)
	assert.Len(t, b.Contents(), 1)
	assert.Equal(t, "collector+collector+collector", m.Name())
}

func TestCollectorLimitAndUpdate(t *testing.T) {
	ctx := context.Background()
	c := NewCollector(2)
	require.NoError(t, c.StoreContent(ctx, note("n1", 1)))
	require.NoError(t, c.StoreContent(ctx, note("n2", 1)))
	require.NoError(t, c.StoreContent(ctx, note("n3", 1)))
	require.NoError(t, c.StoreContent(ctx, note("n1", 7)))
	got := c.Contents()
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].LikeCount)
}

func TestMonitorSinkRoutesHot(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "m.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	store := repository.NewMonitorRepository(db)

	var s interfaces.Sink = NewMonitorSink(store)
	normal := note("n1", 10)
	normal.UpdatedAt = time.Now()
	hot := note("n2", 30000)
	hot.UpdatedAt = time.Now()
	hot.Hot = model.HotScore{Level: model.LevelViral, IsHot: true, IsTrending: true}
	require.NoError(t, s.StoreContent(ctx, normal))
	require.NoError(t, s.StoreContent(ctx, hot))

	notes, err := store.ListNotesSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, notes, 2)
	hotNotes, err := store.ListHotNotes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hotNotes, 1)
	assert.Equal(t, "n2", hotNotes[0].ContentID)
}
