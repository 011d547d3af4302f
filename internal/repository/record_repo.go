package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/model"
)

// RecordRepository 抓取结果落关系库：每个 (平台, 记录类型) 一张表，如 xhs_contents
type RecordRepository interface {
	UpsertContent(ctx context.Context, c *model.Content) error
	UpsertComment(ctx context.Context, c *model.Comment) error
	UpsertCreator(ctx context.Context, c *model.Creator) error

	LoadContent(ctx context.Context, platform model.PlatformType, contentID string) (*model.Content, error)
	LoadComment(ctx context.Context, platform model.PlatformType, commentID string) (*model.Comment, error)
	LoadCreator(ctx context.Context, platform model.PlatformType, userID string) (*model.Creator, error)
}

type recordRepository struct {
	db       *gorm.DB
	now      func() time.Time
	migrated sync.Map // 表名 -> struct{}
}

// NewRecordRepository 创建抓取结果仓储
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db, now: time.Now}
}

// TableName 平台记录表名
func TableName(platform model.PlatformType, kind model.RecordKind) string {
	return fmt.Sprintf("%s_%s", platform, kind)
}

// ensureTable 首次写入某平台时建表 + 自然键唯一索引
func (r *recordRepository) ensureTable(ctx context.Context, table, idColumn string, proto any) error {
	if _, ok := r.migrated.Load(table); ok {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Table(table).AutoMigrate(proto); err != nil {
		return fmt.Errorf("创建表 %s 失败: %w", table, err)
	}
	if err := createKeyIndex(db, table, idColumn); err != nil {
		return err
	}
	r.migrated.Store(table, struct{}{})
	return nil
}

// stored 已有记录的代理键与首次入库时间
type stored struct {
	ID         uint64
	IngestedAt time.Time
}

// upsert 事务内先查后写：不存在插入，存在则整行更新并保留 ingested_at
func (r *recordRepository) upsert(ctx context.Context, table, idColumn, id string, platform model.PlatformType, rec any, apply func(existing *stored, now time.Time)) error {
	now := r.now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ex stored
		err := tx.Table(table).Select("id", "ingested_at").
			Where("platform = ? AND "+idColumn+" = ?", platform, id).
			Take(&ex).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			apply(nil, now)
			if err := tx.Table(table).Create(rec).Error; err != nil {
				return fmt.Errorf("插入 %s 失败: %w", table, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("查询 %s 失败: %w", table, err)
		}
		apply(&ex, now)
		if err := tx.Table(table).Save(rec).Error; err != nil {
			return fmt.Errorf("更新 %s 失败: %w", table, err)
		}
		return nil
	})
}

func stamp(id *uint64, ingested, updated *time.Time, ex *stored, now time.Time) {
	*updated = now
	if ex == nil {
		*id = 0
		if ingested.IsZero() {
			*ingested = now
		}
		return
	}
	*id = ex.ID
	*ingested = ex.IngestedAt
}

func (r *recordRepository) UpsertContent(ctx context.Context, c *model.Content) error {
	table := TableName(c.Platform, model.KindContent)
	if err := r.ensureTable(ctx, table, "content_id", &model.Content{}); err != nil {
		return err
	}
	return r.upsert(ctx, table, "content_id", c.ContentID, c.Platform, c, func(ex *stored, now time.Time) {
		stamp(&c.ID, &c.IngestedAt, &c.UpdatedAt, ex, now)
	})
}

func (r *recordRepository) UpsertComment(ctx context.Context, c *model.Comment) error {
	table := TableName(c.Platform, model.KindComment)
	if err := r.ensureTable(ctx, table, "comment_id", &model.Comment{}); err != nil {
		return err
	}
	return r.upsert(ctx, table, "comment_id", c.CommentID, c.Platform, c, func(ex *stored, now time.Time) {
		stamp(&c.ID, &c.IngestedAt, &c.UpdatedAt, ex, now)
	})
}

func (r *recordRepository) UpsertCreator(ctx context.Context, c *model.Creator) error {
	table := TableName(c.Platform, model.KindCreator)
	if err := r.ensureTable(ctx, table, "user_id", &model.Creator{}); err != nil {
		return err
	}
	return r.upsert(ctx, table, "user_id", c.UserID, c.Platform, c, func(ex *stored, now time.Time) {
		stamp(&c.ID, &c.IngestedAt, &c.UpdatedAt, ex, now)
	})
}

// load 按自然键读回，不存在返回 crawlerr.ErrNotFound
func (r *recordRepository) load(ctx context.Context, table, idColumn, id string, platform model.PlatformType, out any) error {
	if _, ok := r.migrated.Load(table); !ok && !r.db.Migrator().HasTable(table) {
		return crawlerr.ErrNotFound
	}
	err := r.db.WithContext(ctx).Table(table).
		Where("platform = ? AND "+idColumn+" = ?", platform, id).
		Take(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return crawlerr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	return nil
}

func (r *recordRepository) LoadContent(ctx context.Context, platform model.PlatformType, contentID string) (*model.Content, error) {
	var c model.Content
	if err := r.load(ctx, TableName(platform, model.KindContent), "content_id", contentID, platform, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *recordRepository) LoadComment(ctx context.Context, platform model.PlatformType, commentID string) (*model.Comment, error) {
	var c model.Comment
	if err := r.load(ctx, TableName(platform, model.KindComment), "comment_id", commentID, platform, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *recordRepository) LoadCreator(ctx context.Context, platform model.PlatformType, userID string) (*model.Creator, error) {
	var c model.Creator
	if err := r.load(ctx, TableName(platform, model.KindCreator), "user_id", userID, platform, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
