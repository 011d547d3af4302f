package sink

import (
	"context"
	"time"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// MonitorSink 监控抓取的内容写入 monitor_notes，trending 及以上再写 monitor_hot_notes
type MonitorSink struct {
	store interfaces.MonitorStore
	now   func() time.Time
}

func NewMonitorSink(store interfaces.MonitorStore) *MonitorSink {
	return &MonitorSink{store: store, now: time.Now}
}

func (s *MonitorSink) Name() string { return "monitor" }

func (s *MonitorSink) StoreContent(ctx context.Context, c *model.Content) error {
	if err := s.store.UpsertNote(ctx, c); err != nil {
		return err
	}
	if c.Hot.Level.AtLeast(model.LevelTrending) {
		return s.store.UpsertHotNote(ctx, c, s.now())
	}
	return nil
}

func (s *MonitorSink) StoreComment(context.Context, *model.Comment) error { return nil }

func (s *MonitorSink) StoreCreator(context.Context, *model.Creator) error { return nil }

func (s *MonitorSink) Close(context.Context) error { return nil }
