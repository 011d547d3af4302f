package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"SocialSync/internal/model"
)

// SeenRepository 已抓取标记（monitor_crawl_history），只追加
type SeenRepository struct {
	db *gorm.DB
}

// NewSeenRepository 创建已抓取标记仓储
func NewSeenRepository(db *gorm.DB) *SeenRepository {
	return &SeenRepository{db: db}
}

func (r *SeenRepository) HasSeen(ctx context.Context, platform model.PlatformType, contentID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.SeenMark{}).
		Where("platform = ? AND content_id = ?", platform, contentID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("查询抓取历史失败: %w", err)
	}
	return n > 0, nil
}

// MarkSeen 冲突时不更新，保留最早的 first_seen_at
func (r *SeenRepository) MarkSeen(ctx context.Context, platform model.PlatformType, contentID string, at time.Time) error {
	mark := &model.SeenMark{Platform: platform, ContentID: contentID, FirstSeenAt: at}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(mark).Error
	if err != nil {
		return fmt.Errorf("写入抓取历史失败: %w", err)
	}
	return nil
}

func (r *SeenRepository) PruneSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("first_seen_at < ?", cutoff).Delete(&model.SeenMark{})
	if res.Error != nil {
		return 0, fmt.Errorf("清理抓取历史失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}
