package interfaces

import (
	"context"
	"time"

	"SocialSync/internal/model"
)

// SeenBackend 已抓取集合的持久层
type SeenBackend interface {
	HasSeen(ctx context.Context, platform model.PlatformType, contentID string) (bool, error)
	// MarkSeen 只追加，已存在时保留最早的 first_seen_at
	MarkSeen(ctx context.Context, platform model.PlatformType, contentID string, at time.Time) error
	PruneSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MonitorStore 监控调度的状态存储
type MonitorStore interface {
	SeenBackend

	UpsertWatch(ctx context.Context, w *model.WatchEntry) error
	ListWatches(ctx context.Context, activeOnly bool) ([]*model.WatchEntry, error)
	DeleteWatch(ctx context.Context, key model.WatchKey) error
	SetWatchActive(ctx context.Context, key model.WatchKey, active bool) error
	TouchWatch(ctx context.Context, key model.WatchKey, at time.Time) error

	UpsertNote(ctx context.Context, c *model.Content) error
	ListNotesSince(ctx context.Context, since time.Time) ([]*model.Content, error)
	UpdateNoteScore(ctx context.Context, platform model.PlatformType, contentID string, hs model.HotScore) error
	DeleteNotesBefore(ctx context.Context, cutoff time.Time, keepHot bool) (int64, error)

	UpsertHotNote(ctx context.Context, c *model.Content, detectedAt time.Time) error
	ListHotNotes(ctx context.Context, limit int) ([]*model.HotNote, error)
}
