package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// contentUpdateColumns 监控内容 upsert 时覆盖的列（ingested_at 保留首次值）
var contentUpdateColumns = []string{
	"content_type", "author_id", "author_name", "author_avatar_url", "title", "body_text",
	"media_urls", "tag_list", "content_url", "ip_location", "created_at", "source_keyword",
	"like_count", "collect_count", "comment_count", "share_count", "view_count",
	"hot_level", "hot_score", "hot_engagement_ratio", "hot_growth_rate", "hot_total_engagement",
	"hot_is_hot", "hot_is_trending", "hot_computed_at", "extra", "updated_at",
}

var noteKey = []clause.Column{{Name: "platform"}, {Name: "content_id"}}

// MonitorRepository 监控调度状态的关系库实现
type MonitorRepository struct {
	*SeenRepository
	db  *gorm.DB
	now func() time.Time
}

var _ interfaces.MonitorStore = (*MonitorRepository)(nil)

// NewMonitorRepository 创建监控仓储
func NewMonitorRepository(db *gorm.DB) *MonitorRepository {
	return &MonitorRepository{SeenRepository: NewSeenRepository(db), db: db, now: time.Now}
}

func watchScope(key model.WatchKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("platform = ? AND target_kind = ? AND target = ?", key.Platform, key.TargetKind, key.Target)
	}
}

// UpsertWatch 新增或更新监控条目
func (r *MonitorRepository) UpsertWatch(ctx context.Context, w *model.WatchEntry) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.now()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "target_kind"}, {Name: "target"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "active", "cadence_minutes", "max_items"}),
	}).Create(w).Error
	if err != nil {
		return fmt.Errorf("保存监控条目失败: %w", err)
	}
	return nil
}

// ListWatches activeOnly 为 true 时只返回启用的条目
func (r *MonitorRepository) ListWatches(ctx context.Context, activeOnly bool) ([]*model.WatchEntry, error) {
	var list []*model.WatchEntry
	q := r.db.WithContext(ctx).Model(&model.WatchEntry{})
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询监控条目失败: %w", err)
	}
	return list, nil
}

func (r *MonitorRepository) DeleteWatch(ctx context.Context, key model.WatchKey) error {
	res := r.db.WithContext(ctx).Scopes(watchScope(key)).Delete(&model.WatchEntry{})
	if res.Error != nil {
		return fmt.Errorf("删除监控条目失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

func (r *MonitorRepository) SetWatchActive(ctx context.Context, key model.WatchKey, active bool) error {
	return r.updateWatch(ctx, key, map[string]interface{}{"active": active})
}

// TouchWatch 记录最近一次抓取时间
func (r *MonitorRepository) TouchWatch(ctx context.Context, key model.WatchKey, at time.Time) error {
	return r.updateWatch(ctx, key, map[string]interface{}{"last_crawl_at": at})
}

func (r *MonitorRepository) updateWatch(ctx context.Context, key model.WatchKey, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.WatchEntry{}).Scopes(watchScope(key)).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("更新监控条目失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

// UpsertNote 监控抓到的内容入库，按 (platform, content_id) 覆盖
func (r *MonitorRepository) UpsertNote(ctx context.Context, c *model.Content) error {
	note := &model.MonitorNote{Content: *c}
	note.ID = 0
	now := r.now()
	if note.IngestedAt.IsZero() {
		note.IngestedAt = now
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = now
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   noteKey,
		DoUpdates: clause.AssignmentColumns(contentUpdateColumns),
	}).Create(note).Error
	if err != nil {
		return fmt.Errorf("保存监控内容失败: %w", err)
	}
	return nil
}

// ListNotesSince 最近更新过的监控内容
func (r *MonitorRepository) ListNotesSince(ctx context.Context, since time.Time) ([]*model.Content, error) {
	var notes []*model.MonitorNote
	err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("查询监控内容失败: %w", err)
	}
	out := make([]*model.Content, 0, len(notes))
	for _, n := range notes {
		c := n.Content
		out = append(out, &c)
	}
	return out, nil
}

// UpdateNoteScore 原地改写热度标注
func (r *MonitorRepository) UpdateNoteScore(ctx context.Context, platform model.PlatformType, contentID string, hs model.HotScore) error {
	res := r.db.WithContext(ctx).Model(&model.MonitorNote{}).
		Where("platform = ? AND content_id = ?", platform, contentID).
		Updates(map[string]interface{}{
			"hot_level":            hs.Level,
			"hot_score":            hs.Score,
			"hot_engagement_ratio": hs.EngagementRatio,
			"hot_growth_rate":      hs.GrowthRate,
			"hot_total_engagement": hs.TotalEngagement,
			"hot_is_hot":           hs.IsHot,
			"hot_is_trending":      hs.IsTrending,
			"hot_computed_at":      hs.ComputedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("更新热度失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return crawlerr.ErrNotFound
	}
	return nil
}

// DeleteNotesBefore 清理过期内容；keepHot 时保留热门
func (r *MonitorRepository) DeleteNotesBefore(ctx context.Context, cutoff time.Time, keepHot bool) (int64, error) {
	q := r.db.WithContext(ctx).Where("updated_at < ?", cutoff)
	if keepHot {
		q = q.Where("hot_is_hot = ?", false)
	}
	res := q.Delete(&model.MonitorNote{})
	if res.Error != nil {
		return 0, fmt.Errorf("清理监控内容失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpsertHotNote 热门内容入库
func (r *MonitorRepository) UpsertHotNote(ctx context.Context, c *model.Content, detectedAt time.Time) error {
	note := &model.HotNote{Content: *c, DetectedAt: detectedAt}
	note.ID = 0
	if note.IngestedAt.IsZero() {
		note.IngestedAt = detectedAt
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = detectedAt
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   noteKey,
		DoUpdates: clause.AssignmentColumns(append(append([]string{}, contentUpdateColumns...), "detected_at")),
	}).Create(note).Error
	if err != nil {
		return fmt.Errorf("保存热门内容失败: %w", err)
	}
	return nil
}

// ListHotNotes 最近发现的热门内容
func (r *MonitorRepository) ListHotNotes(ctx context.Context, limit int) ([]*model.HotNote, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []*model.HotNote
	err := r.db.WithContext(ctx).Order("detected_at DESC").Limit(limit).Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询热门内容失败: %w", err)
	}
	return list, nil
}
