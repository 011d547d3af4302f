package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/model"
)

// RecordStore 抓取结果集合：<platform>_contents / _comments / _creators
type RecordStore struct {
	db      *mongo.Database
	now     func() time.Time
	indexed sync.Map
}

func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{db: db, now: time.Now}
}

// CollectionName 平台记录集合名
func CollectionName(platform model.PlatformType, kind model.RecordKind) string {
	return fmt.Sprintf("%s_%s", platform, kind)
}

func (s *RecordStore) collection(ctx context.Context, platform model.PlatformType, kind model.RecordKind, idField string) (*mongo.Collection, error) {
	name := CollectionName(platform, kind)
	coll := s.db.Collection(name)
	if _, ok := s.indexed.Load(name); ok {
		return coll, nil
	}
	if err := ensureIndexes(ctx, coll, []string{"platform", idField}); err != nil {
		return nil, err
	}
	s.indexed.Store(name, struct{}{})
	return coll, nil
}

func (s *RecordStore) upsert(ctx context.Context, platform model.PlatformType, kind model.RecordKind, idField, id string, doc any, ingested time.Time) error {
	coll, err := s.collection(ctx, platform, kind, idField)
	if err != nil {
		return err
	}
	if ingested.IsZero() {
		ingested = s.now()
	}
	filter := bson.D{{Key: "platform", Value: platform}, {Key: idField, Value: id}}
	return upsertOne(ctx, coll, filter, doc, ingested, nil)
}

func (s *RecordStore) UpsertContent(ctx context.Context, c *model.Content) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	return s.upsert(ctx, c.Platform, model.KindContent, "content_id", c.ContentID, c, c.IngestedAt)
}

func (s *RecordStore) UpsertComment(ctx context.Context, c *model.Comment) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	return s.upsert(ctx, c.Platform, model.KindComment, "comment_id", c.CommentID, c, c.IngestedAt)
}

func (s *RecordStore) UpsertCreator(ctx context.Context, c *model.Creator) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	return s.upsert(ctx, c.Platform, model.KindCreator, "user_id", c.UserID, c, c.IngestedAt)
}

func (s *RecordStore) load(ctx context.Context, platform model.PlatformType, kind model.RecordKind, idField, id string, out any) error {
	err := s.db.Collection(CollectionName(platform, kind)).
		FindOne(ctx, bson.D{{Key: "platform", Value: platform}, {Key: idField, Value: id}}).
		Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return crawlerr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", CollectionName(platform, kind), err)
	}
	return nil
}

func (s *RecordStore) LoadContent(ctx context.Context, platform model.PlatformType, contentID string) (*model.Content, error) {
	var c model.Content
	if err := s.load(ctx, platform, model.KindContent, "content_id", contentID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RecordStore) LoadComment(ctx context.Context, platform model.PlatformType, commentID string) (*model.Comment, error) {
	var c model.Comment
	if err := s.load(ctx, platform, model.KindComment, "comment_id", commentID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RecordStore) LoadCreator(ctx context.Context, platform model.PlatformType, userID string) (*model.Creator, error) {
	var c model.Creator
	if err := s.load(ctx, platform, model.KindCreator, "user_id", userID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
