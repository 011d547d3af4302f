package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/model"
)

func newSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return db
}

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return db, mock
}

func TestRecordUpsertPreservesIngestedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepository(newSQLite(t)).(*recordRepository)

	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	kw := "咖啡"

	repo.now = func() time.Time { return t1 }
	first := &model.Content{
		Platform: model.PlatformXHS, ContentID: "n1", Title: "a", LikeCount: 10,
		MediaURLs: model.StringList{"https://img/1.jpg", "https://img/2.jpg"},
		SourceKeyword: &kw, Extra: datatypes.JSONMap{"xsec_token": "tok"},
	}
	require.NoError(t, repo.UpsertContent(ctx, first))

	repo.now = func() time.Time { return t2 }
	second := &model.Content{Platform: model.PlatformXHS, ContentID: "n1", Title: "b", LikeCount: 99}
	require.NoError(t, repo.UpsertContent(ctx, second))

	got, err := repo.LoadContent(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, int64(99), got.LikeCount)
	assert.True(t, got.IngestedAt.Equal(t1), "ingested_at=%v", got.IngestedAt)
	assert.True(t, got.UpdatedAt.Equal(t2), "updated_at=%v", got.UpdatedAt)

	var n int64
	require.NoError(t, repo.db.Table("xhs_contents").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepository(newSQLite(t))

	c := &model.Content{
		Platform: model.PlatformBilibili, ContentID: "BV17x411w7KC", ContentType: model.ContentVideo,
		MediaURLs: model.StringList{"https://i0.hdslb.com/a.jpg"}, TagList: model.StringList{"tech"},
		Extra: datatypes.JSONMap{"aid": "170001"},
	}
	require.NoError(t, repo.UpsertContent(ctx, c))
	got, err := repo.LoadContent(ctx, model.PlatformBilibili, "BV17x411w7KC")
	require.NoError(t, err)
	assert.Equal(t, c.MediaURLs, got.MediaURLs)
	assert.Equal(t, c.TagList, got.TagList)
	assert.Equal(t, "170001", got.Extra["aid"])

	cm := &model.Comment{Platform: model.PlatformBilibili, CommentID: "c1", ContentID: "BV17x411w7KC", BodyText: "hi"}
	require.NoError(t, repo.UpsertComment(ctx, cm))
	gotCm, err := repo.LoadComment(ctx, model.PlatformBilibili, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", gotCm.BodyText)

	cr := &model.Creator{Platform: model.PlatformBilibili, UserID: "2", Nickname: "碧诗", FollowerCount: 5}
	require.NoError(t, repo.UpsertCreator(ctx, cr))
	gotCr, err := repo.LoadCreator(ctx, model.PlatformBilibili, "2")
	require.NoError(t, err)
	assert.Equal(t, "碧诗", gotCr.Nickname)

	_, err = repo.LoadContent(ctx, model.PlatformBilibili, "missing")
	assert.ErrorIs(t, err, crawlerr.ErrNotFound)
	_, err = repo.LoadContent(ctx, model.PlatformWeibo, "no-table")
	assert.ErrorIs(t, err, crawlerr.ErrNotFound)
}

func TestMonitorWatches(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t)
	require.NoError(t, AutoMigrate(db))
	repo := NewMonitorRepository(db)

	key := model.WatchKey{Platform: model.PlatformXHS, TargetKind: model.TargetCreator, Target: "u1"}
	require.NoError(t, repo.UpsertWatch(ctx, &model.WatchEntry{Platform: key.Platform, TargetKind: key.TargetKind, Target: key.Target, Name: "old", Active: true}))
	require.NoError(t, repo.UpsertWatch(ctx, &model.WatchEntry{Platform: key.Platform, TargetKind: key.TargetKind, Target: key.Target, Name: "new", Active: true}))
	require.NoError(t, repo.UpsertWatch(ctx, &model.WatchEntry{Platform: model.PlatformDouyin, TargetKind: model.TargetKeyword, Target: "猫", Active: false}))

	all, err := repo.ListWatches(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].Name)

	active, err := repo.ListWatches(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Nil(t, active[0].LastCrawlAt)

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchWatch(ctx, key, at))
	require.NoError(t, repo.SetWatchActive(ctx, key, false))
	active, err = repo.ListWatches(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err = repo.ListWatches(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, all[0].LastCrawlAt)
	assert.True(t, all[0].LastCrawlAt.Equal(at))

	require.NoError(t, repo.DeleteWatch(ctx, key))
	assert.ErrorIs(t, repo.DeleteWatch(ctx, key), crawlerr.ErrNotFound)
	assert.ErrorIs(t, repo.TouchWatch(ctx, key, at), crawlerr.ErrNotFound)
}

func TestMonitorNotes(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t)
	require.NoError(t, AutoMigrate(db))
	repo := NewMonitorRepository(db)

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)

	fresh := &model.Content{Platform: model.PlatformXHS, ContentID: "fresh", LikeCount: 1, UpdatedAt: now}
	stale := &model.Content{Platform: model.PlatformXHS, ContentID: "stale", UpdatedAt: old}
	staleHot := &model.Content{Platform: model.PlatformXHS, ContentID: "stale-hot", UpdatedAt: old,
		Hot: model.HotScore{Level: model.LevelHot, IsHot: true, IsTrending: true}}
	for _, c := range []*model.Content{fresh, stale, staleHot} {
		require.NoError(t, repo.UpsertNote(ctx, c))
	}
	fresh.LikeCount = 7
	require.NoError(t, repo.UpsertNote(ctx, fresh))

	recent, err := repo.ListNotesSince(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(7), recent[0].LikeCount)

	growth := 12.5
	hs := model.HotScore{Level: model.LevelTrending, Score: 44.67, GrowthRate: &growth, IsTrending: true, ComputedAt: now}
	require.NoError(t, repo.UpdateNoteScore(ctx, model.PlatformXHS, "fresh", hs))
	assert.ErrorIs(t, repo.UpdateNoteScore(ctx, model.PlatformXHS, "nope", hs), crawlerr.ErrNotFound)

	recent, err = repo.ListNotesSince(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, model.LevelTrending, recent[0].Hot.Level)
	require.NotNil(t, recent[0].Hot.GrowthRate)
	assert.Equal(t, 12.5, *recent[0].Hot.GrowthRate)

	n, err := repo.DeleteNotesBefore(ctx, now.AddDate(0, 0, -30), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var left int64
	require.NoError(t, db.Model(&model.MonitorNote{}).Count(&left).Error)
	assert.Equal(t, int64(2), left)

	require.NoError(t, repo.UpsertHotNote(ctx, staleHot, now))
	require.NoError(t, repo.UpsertHotNote(ctx, fresh, now.Add(time.Minute)))
	require.NoError(t, repo.UpsertHotNote(ctx, fresh, now.Add(2*time.Minute)))
	hot, err := repo.ListHotNotes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "fresh", hot[0].ContentID)
	assert.True(t, hot[0].DetectedAt.Equal(now.Add(2*time.Minute)))
}

func TestSeenMarks(t *testing.T) {
	ctx := context.Background()
	db := newSQLite(t)
	require.NoError(t, AutoMigrate(db))
	repo := NewSeenRepository(db)

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSeen(ctx, model.PlatformXHS, "n1", t1))
	require.NoError(t, repo.MarkSeen(ctx, model.PlatformXHS, "n1", t1.AddDate(0, 1, 0)))
	require.NoError(t, repo.MarkSeen(ctx, model.PlatformXHS, "n2", t1.AddDate(0, 2, 0)))

	ok, err := repo.HasSeen(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.HasSeen(ctx, model.PlatformDouyin, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	var mark model.SeenMark
	require.NoError(t, db.Where("content_id = ?", "n1").Take(&mark).Error)
	assert.True(t, mark.FirstSeenAt.Equal(t1))

	n, err := repo.PruneSeenBefore(ctx, t1.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, err = repo.HasSeen(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkSeenIssuesDoNothing(t *testing.T) {
	db, mock := newMockPostgres(t)
	repo := NewSeenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "monitor_crawl_history" .* ON CONFLICT DO NOTHING RETURNING "id"`).
		WithArgs("xhs", "n1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkSeen(context.Background(), model.PlatformXHS, "n1", time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNoteIssuesOnConflictUpdate(t *testing.T) {
	db, mock := newMockPostgres(t)
	repo := NewMonitorRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "monitor_notes" .* ON CONFLICT \("platform","content_id"\) DO UPDATE SET .*"like_count"="excluded"."like_count"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertNote(context.Background(), &model.Content{Platform: model.PlatformXHS, ContentID: "n1", LikeCount: 3}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNotesKeepsHot(t *testing.T) {
	db, mock := newMockPostgres(t)
	repo := NewMonitorRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "monitor_notes" WHERE updated_at < \$1 AND hot_is_hot = \$2`).
		WithArgs(sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.DeleteNotesBefore(context.Background(), time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
