package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/model"
	"SocialSync/internal/resolver"
)

// creator 先落创作者，再按到达顺序落其作品
func (r *run) creator(ctx context.Context) error {
	for _, ref := range r.resolve(ctx, resolver.KindCreator, r.cfg.Creators) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := logrus.Fields{"creator_id": ref.ID}
		cr, err := r.client.GetCreator(ctx, ref.CreatorRef())
		if err != nil {
			if ferr := r.fail(err, "获取创作者失败，跳过", fields); ferr != nil {
				return ferr
			}
			continue
		}
		if cr == nil {
			r.logger.WithFields(fields).Warn("创作者不存在，跳过")
			continue
		}
		if cr.Platform == "" {
			cr.Platform = r.cfg.Platform
		}
		if err := r.gate.StoreCreator(r.writeCtx, cr); err != nil {
			if ferr := r.fail(err, "创作者写入失败", fields); ferr != nil {
				return ferr
			}
		} else {
			r.count(func(res *RunResult) { res.Creators++ })
		}
		if err := r.listCreator(ctx, cr); err != nil {
			return err
		}
	}
	return nil
}

// listCreator 翻页直到 has_more=false；max_notes>0 时限制写入条数。
// OnlyNew 时最多翻 MaxPages 页，整页都已抓取过则提前结束
func (r *run) listCreator(ctx context.Context, cr *model.Creator) error {
	fields := logrus.Fields{"creator_id": cr.UserID}
	cursor := ""
	taken, pages := 0, 0
	for {
		limit := r.cfg.PageSize
		if r.cfg.MaxNotes > 0 {
			remaining := r.cfg.MaxNotes - taken
			if remaining <= 0 {
				return nil
			}
			limit = min(limit, remaining)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := r.client.ListCreatorContent(ctx, cr, cursor, limit)
		if err != nil {
			return r.fail(err, "获取创作者作品失败", fields)
		}
		pages++
		r.logger.WithFields(fields).Debugf("第 %d 页返回 %d 条", pages, len(page.Items))

		allSeen := len(page.Items) > 0
		for _, item := range page.Items {
			if r.cfg.MaxNotes > 0 && taken >= r.cfg.MaxNotes {
				break
			}
			if item.AuthorID == "" {
				item.AuthorID = cr.UserID
			}
			known, err := r.handleContent(ctx, item, "")
			if err != nil {
				return err
			}
			if !known || !r.cfg.OnlyNew {
				allSeen = allSeen && known
				taken++
			}
		}

		if !page.HasMore {
			return nil
		}
		if r.cfg.OnlyNew && (allSeen || pages >= r.cfg.MaxPages) {
			return nil
		}
		cursor = page.Cursor
		if err := r.pause(ctx); err != nil {
			return err
		}
	}
}
