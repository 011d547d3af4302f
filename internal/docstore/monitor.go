package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

const (
	collWatches = "monitor_accounts"
	collNotes   = "monitor_notes"
	collHot     = "monitor_hot_notes"
	collSeen    = "monitor_crawl_history"
)

// MonitorStore 监控调度状态的 MongoDB 实现，集合名与关系库表名一致
type MonitorStore struct {
	watches *mongo.Collection
	notes   *mongo.Collection
	hot     *mongo.Collection
	seen    *mongo.Collection
	now     func() time.Time
}

var _ interfaces.MonitorStore = (*MonitorStore)(nil)

func NewMonitorStore(db *mongo.Database) *MonitorStore {
	return &MonitorStore{
		watches: db.Collection(collWatches),
		notes:   db.Collection(collNotes),
		hot:     db.Collection(collHot),
		seen:    db.Collection(collSeen),
		now:     time.Now,
	}
}

// EnsureIndexes 自然键唯一索引
func (s *MonitorStore) EnsureIndexes(ctx context.Context) error {
	if err := ensureIndexes(ctx, s.watches, []string{"platform", "target_kind", "target"}); err != nil {
		return err
	}
	if err := ensureIndexes(ctx, s.notes, []string{"platform", "content_id"},
		mongo.IndexModel{Keys: bson.D{{Key: "updated_at", Value: -1}}}); err != nil {
		return err
	}
	if err := ensureIndexes(ctx, s.hot, []string{"platform", "content_id"},
		mongo.IndexModel{Keys: bson.D{{Key: "detected_at", Value: -1}}}); err != nil {
		return err
	}
	return ensureIndexes(ctx, s.seen, []string{"platform", "content_id"},
		mongo.IndexModel{Keys: bson.D{{Key: "first_seen_at", Value: 1}}})
}

func contentFilter(platform model.PlatformType, contentID string) bson.D {
	return bson.D{{Key: "platform", Value: platform}, {Key: "content_id", Value: contentID}}
}

func watchFilter(key model.WatchKey) bson.D {
	return bson.D{
		{Key: "platform", Value: key.Platform},
		{Key: "target_kind", Value: key.TargetKind},
		{Key: "target", Value: key.Target},
	}
}

func (s *MonitorStore) HasSeen(ctx context.Context, platform model.PlatformType, contentID string) (bool, error) {
	n, err := s.seen.CountDocuments(ctx, contentFilter(platform, contentID), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("查询抓取历史失败: %w", err)
	}
	return n > 0, nil
}

// MarkSeen 只在插入时写 first_seen_at
func (s *MonitorStore) MarkSeen(ctx context.Context, platform model.PlatformType, contentID string, at time.Time) error {
	update := bson.M{"$setOnInsert": bson.M{"platform": platform, "content_id": contentID, "first_seen_at": at}}
	if _, err := s.seen.UpdateOne(ctx, contentFilter(platform, contentID), update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("写入抓取历史失败: %w", err)
	}
	return nil
}

func (s *MonitorStore) PruneSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.seen.DeleteMany(ctx, bson.M{"first_seen_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("清理抓取历史失败: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MonitorStore) UpsertWatch(ctx context.Context, w *model.WatchEntry) error {
	created := w.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	update := bson.M{
		"$set": bson.M{
			"name":            w.Name,
			"active":          w.Active,
			"cadence_minutes": w.CadenceMinutes,
			"max_items":       w.MaxItems,
		},
		"$setOnInsert": bson.M{"created_at": created, "last_crawl_at": nil},
	}
	if _, err := s.watches.UpdateOne(ctx, watchFilter(w.WatchKey()), update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("保存监控条目失败: %w", err)
	}
	return nil
}

func (s *MonitorStore) ListWatches(ctx context.Context, activeOnly bool) ([]*model.WatchEntry, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	cur, err := s.watches.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("查询监控条目失败: %w", err)
	}
	var list []*model.WatchEntry
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("解析监控条目失败: %w", err)
	}
	return list, nil
}

func (s *MonitorStore) DeleteWatch(ctx context.Context, key model.WatchKey) error {
	res, err := s.watches.DeleteOne(ctx, watchFilter(key))
	if err != nil {
		return fmt.Errorf("删除监控条目失败: %w", err)
	}
	if res.DeletedCount == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

func (s *MonitorStore) SetWatchActive(ctx context.Context, key model.WatchKey, active bool) error {
	return s.updateWatch(ctx, key, bson.M{"active": active})
}

func (s *MonitorStore) TouchWatch(ctx context.Context, key model.WatchKey, at time.Time) error {
	return s.updateWatch(ctx, key, bson.M{"last_crawl_at": at})
}

func (s *MonitorStore) updateWatch(ctx context.Context, key model.WatchKey, set bson.M) error {
	res, err := s.watches.UpdateOne(ctx, watchFilter(key), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("更新监控条目失败: %w", err)
	}
	if res.MatchedCount == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

func (s *MonitorStore) UpsertNote(ctx context.Context, c *model.Content) error {
	now := s.now()
	note := *c
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = now
	}
	ingested := note.IngestedAt
	if ingested.IsZero() {
		ingested = now
	}
	return upsertOne(ctx, s.notes, contentFilter(c.Platform, c.ContentID), &note, ingested, nil)
}

func (s *MonitorStore) ListNotesSince(ctx context.Context, since time.Time) ([]*model.Content, error) {
	cur, err := s.notes.Find(ctx, bson.M{"updated_at": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("查询监控内容失败: %w", err)
	}
	var list []*model.Content
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("解析监控内容失败: %w", err)
	}
	return list, nil
}

func (s *MonitorStore) UpdateNoteScore(ctx context.Context, platform model.PlatformType, contentID string, hs model.HotScore) error {
	res, err := s.notes.UpdateOne(ctx, contentFilter(platform, contentID), bson.M{"$set": bson.M{"hot_score": hs}})
	if err != nil {
		return fmt.Errorf("更新热度失败: %w", err)
	}
	if res.MatchedCount == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

func (s *MonitorStore) DeleteNotesBefore(ctx context.Context, cutoff time.Time, keepHot bool) (int64, error) {
	filter := bson.M{"updated_at": bson.M{"$lt": cutoff}}
	if keepHot {
		filter["hot_score.is_hot"] = bson.M{"$ne": true}
	}
	res, err := s.notes.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("清理监控内容失败: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MonitorStore) UpsertHotNote(ctx context.Context, c *model.Content, detectedAt time.Time) error {
	note := *c
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = detectedAt
	}
	ingested := note.IngestedAt
	if ingested.IsZero() {
		ingested = detectedAt
	}
	return upsertOne(ctx, s.hot, contentFilter(c.Platform, c.ContentID), &note, ingested, bson.M{"detected_at": detectedAt})
}

func (s *MonitorStore) ListHotNotes(ctx context.Context, limit int) ([]*model.HotNote, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.hot.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "detected_at", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("查询热门内容失败: %w", err)
	}
	var list []*model.HotNote
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("解析热门内容失败: %w", err)
	}
	return list, nil
}
