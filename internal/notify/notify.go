// Package notify 热门内容回调：日志、kafka
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// Notifier 热门内容通知
type Notifier interface {
	Notify(ctx context.Context, c *model.Content) error
}

// LogNotifier 写一条 Info 日志
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, c *model.Content) error {
	n.logger.WithFields(logrus.Fields{
		"platform":   c.Platform,
		"content_id": c.ContentID,
		"level":      c.Hot.Level,
		"score":      c.Hot.Score,
		"likes":      c.LikeCount,
	}).Infof("发现热门内容: %s", c.Title)
	return nil
}

// Callback 组合多个通知为一个回调，每个都会执行
func Callback(notifiers ...Notifier) interfaces.HotCallback {
	return func(ctx context.Context, c *model.Content) error {
		var errs []error
		for _, n := range notifiers {
			if n == nil {
				continue
			}
			if err := n.Notify(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
