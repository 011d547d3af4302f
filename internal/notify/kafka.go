package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"SocialSync/internal/config"
	"SocialSync/internal/model"
)

const defaultHotTopic = "socialsync.hot"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HotEvent 推送到 kafka 的消息体
type HotEvent struct {
	Platform   model.PlatformType `json:"platform"`
	ContentID  string             `json:"content_id"`
	Title      string             `json:"title"`
	AuthorID   string             `json:"author_id"`
	AuthorName string             `json:"author_name"`
	ContentURL string             `json:"content_url"`
	LikeCount  int64              `json:"like_count"`
	Hot        model.HotScore     `json:"hot_score"`
	DetectedAt time.Time          `json:"detected_at"`
}

// KafkaNotifier key 为 platform:content_id，value 为 JSON
type KafkaNotifier struct {
	w   messageWriter
	now func() time.Time
}

func NewKafkaNotifier(cfg config.KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置 kafka brokers")
	}
	topic := cfg.HotTopic
	if topic == "" {
		topic = defaultHotTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaNotifier{w: w, now: time.Now}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, c *model.Content) error {
	b, err := json.Marshal(HotEvent{
		Platform:   c.Platform,
		ContentID:  c.ContentID,
		Title:      c.Title,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		ContentURL: c.ContentURL,
		LikeCount:  c.LikeCount,
		Hot:        c.Hot,
		DetectedAt: n.now(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(c.Key()), Value: b, Time: n.now()}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("推送热门内容 %s 失败: %w", c.Key(), err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}
