package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"SocialSync/internal/model"
	"SocialSync/internal/sink"
)

// fanOut 每条内容一个分支拉评论和媒体；先占信号量再启动，max_concurrency=1 时严格按到达顺序
func (r *run) fanOut(ctx context.Context, items []*model.Content) error {
	if len(items) == 0 || (!r.cfg.EnableComments && !r.cfg.EnableMedia) {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range items {
		c := c
		if err := r.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			return r.branch(gctx, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *run) branch(ctx context.Context, c *model.Content) error {
	if r.cfg.EnableComments {
		if err := r.comments(ctx, c); err != nil {
			return err
		}
	}
	if r.cfg.EnableMedia {
		return r.media(ctx, c)
	}
	return nil
}

// comments 一级评论顺序翻页直到没有更多或达到条数上限，最后一页截断到剩余额度
func (r *run) comments(ctx context.Context, c *model.Content) error {
	fields := logrus.Fields{"content_id": c.ContentID}
	budget := r.cfg.MaxCommentsPerContent
	cursor := ""
	collected := 0
	for {
		limit := r.cfg.PageSize
		if budget > 0 {
			limit = min(limit, budget-collected)
		}
		page, err := r.client.GetRootComments(ctx, c.Ref(), cursor, limit)
		if err != nil {
			return r.fail(err, "获取评论失败", fields)
		}
		roots := page.Comments
		if budget > 0 && collected+len(roots) > budget {
			roots = roots[:budget-collected]
		}
		collected += len(roots)

		for _, cm := range roots {
			if err := r.storeComment(c, cm); err != nil {
				return err
			}
		}
		if r.cfg.EnableSubComments {
			for _, cm := range roots {
				if cm.SubCommentCount <= 0 {
					continue
				}
				if err := r.childComments(ctx, c, cm); err != nil {
					return err
				}
			}
		}

		if !page.HasMore || (budget > 0 && collected >= budget) {
			return nil
		}
		cursor = page.Cursor
		if err := r.pause(ctx); err != nil {
			return err
		}
	}
}

// childComments 二级评论翻页直到没有更多
func (r *run) childComments(ctx context.Context, c *model.Content, root *model.Comment) error {
	fields := logrus.Fields{"content_id": c.ContentID, "comment_id": root.CommentID}
	cursor := ""
	for {
		if err := r.pause(ctx); err != nil {
			return err
		}
		page, err := r.client.GetChildComments(ctx, root, cursor, r.cfg.PageSize)
		if err != nil {
			return r.fail(err, "获取二级评论失败", fields)
		}
		for _, cm := range page.Comments {
			if cm.ParentCommentID == "" {
				cm.ParentCommentID = root.CommentID
			}
			if err := r.storeComment(c, cm); err != nil {
				return err
			}
		}
		if !page.HasMore || page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}

func (r *run) storeComment(c *model.Content, cm *model.Comment) error {
	if cm.Platform == "" {
		cm.Platform = c.Platform
	}
	if cm.ContentID == "" {
		cm.ContentID = c.ContentID
	}
	if err := r.gate.StoreComment(r.writeCtx, cm); err != nil {
		return r.fail(err, "评论写入失败", logrus.Fields{"content_id": c.ContentID, "comment_id": cm.CommentID})
	}
	r.count(func(res *RunResult) { res.Comments++ })
	return nil
}

// media 下载内容的图片/视频
func (r *run) media(ctx context.Context, c *model.Content) error {
	if r.mediaOut == nil {
		return nil
	}
	for i, u := range c.MediaURLs {
		fields := logrus.Fields{"content_id": c.ContentID, "url": u}
		data, err := r.client.FetchMedia(ctx, u)
		if err != nil {
			if ferr := r.fail(err, "下载媒体失败", fields); ferr != nil {
				return ferr
			}
			continue
		}
		if _, err := r.mediaOut.StoreMedia(r.writeCtx, c.Platform, c.ContentID, i, u, data); err != nil {
			if errors.Is(err, sink.ErrRunClosed) {
				return nil
			}
			if ferr := r.fail(err, "媒体写入失败", fields); ferr != nil {
				return ferr
			}
			continue
		}
		r.count(func(res *RunResult) { res.Media++ })
	}
	return nil
}

// pause 翻页间隔，在 [min_delay, max_delay] 内均匀取值
func (r *run) pause(ctx context.Context) error {
	d := r.cfg.MinDelay
	if span := r.cfg.MaxDelay - r.cfg.MinDelay; span > 0 {
		d += time.Duration(rand.Int63n(int64(span + 1)))
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
