package interfaces

import (
	"context"

	"SocialSync/internal/model"
)

// Sink 记录落地接口，实现方负责按自然键 upsert（表格类为追加）
type Sink interface {
	Name() string
	StoreContent(ctx context.Context, c *model.Content) error
	StoreComment(ctx context.Context, c *model.Comment) error
	StoreCreator(ctx context.Context, c *model.Creator) error
	Close(ctx context.Context) error
}

// SinkReader 支持按键读回的存储
type SinkReader interface {
	LoadContent(ctx context.Context, platform model.PlatformType, contentID string) (*model.Content, error)
	LoadComment(ctx context.Context, platform model.PlatformType, commentID string) (*model.Comment, error)
	LoadCreator(ctx context.Context, platform model.PlatformType, userID string) (*model.Creator, error)
}

// MediaSink 图片/视频落盘
type MediaSink interface {
	StoreMedia(ctx context.Context, platform model.PlatformType, contentID string, index int, sourceURL string, data []byte) (string, error)
}

// HotCallback 监控发现热门内容后的回调
type HotCallback func(ctx context.Context, c *model.Content) error
