package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/interfaces"
)

// search 按关键词翻页，(page-start+1)*page_size 不超过 max_notes
func (r *run) search(ctx context.Context) error {
	for _, kw := range r.cfg.KeywordList() {
		if err := r.searchKeyword(ctx, kw); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) searchKeyword(ctx context.Context, kw string) error {
	start := r.cfg.StartPage
	cursor := ""
	for page := start; (page-start+1)*r.cfg.PageSize <= r.cfg.MaxNotes; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := logrus.Fields{"keyword": kw, "page": page}
		res, err := r.client.Search(ctx, kw, page, interfaces.SearchOptions{
			PageSize: r.cfg.PageSize,
			Sort:     r.cfg.Sort,
			Cursor:   cursor,
		})
		if err != nil {
			return r.fail(err, "搜索失败，跳过该关键词", fields)
		}
		r.logger.WithFields(fields).Debugf("搜索返回 %d 条", len(res.Items))

		for _, item := range res.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := r.handleContent(ctx, item, kw); err != nil {
				return err
			}
		}
		if !res.HasMore {
			break
		}
		cursor = res.Cursor
		if err := r.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}
