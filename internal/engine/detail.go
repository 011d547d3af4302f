package engine

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/model"
	"SocialSync/internal/resolver"
)

// resolve 解析输入，丢弃无法解析的并按 ID 去重（保持顺序）
func (r *run) resolve(ctx context.Context, kind resolver.Kind, inputs []string) []resolver.Result {
	if r.e.resolver == nil {
		out := make([]resolver.Result, 0, len(inputs))
		for _, in := range inputs {
			out = append(out, resolver.Result{Platform: r.cfg.Platform, Kind: kind, ID: in, OK: in != ""})
		}
		return dedupe(out, r.logger)
	}
	return dedupe(r.e.resolver.ResolveAll(ctx, r.cfg.Platform, kind, inputs), r.logger)
}

func dedupe(results []resolver.Result, logger *logrus.Entry) []resolver.Result {
	seenIDs := make(map[string]struct{}, len(results))
	out := make([]resolver.Result, 0, len(results))
	for _, res := range results {
		if !res.OK {
			logger.WithField("reason", res.Reason).Warn("无法解析的输入，跳过")
			continue
		}
		if _, dup := seenIDs[res.ID]; dup {
			continue
		}
		seenIDs[res.ID] = struct{}{}
		out = append(out, res)
	}
	return out
}

// detail 并发拉详情，按输入顺序落库
func (r *run) detail(ctx context.Context) error {
	refs := r.resolve(ctx, resolver.KindContent, r.cfg.Targets)
	if r.cfg.OnlyNew {
		fresh := refs[:0]
		for _, ref := range refs {
			if r.isSeen(ctx, ref.ID) {
				r.count(func(res *RunResult) { res.Skipped++ })
				continue
			}
			fresh = append(fresh, ref)
		}
		refs = fresh
	}

	items := make([]*model.Content, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		if err := r.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			c, err := r.client.GetContent(gctx, ref.ContentRef())
			if err != nil {
				if errors.Is(err, crawlerr.ErrNotFound) {
					r.logger.WithField("content_id", ref.ID).Warn("内容不存在，跳过")
					return nil
				}
				return r.fail(err, "获取详情失败，跳过", logrus.Fields{"content_id": ref.ID})
			}
			if c != nil && c.Tokens == nil {
				c.Tokens = ref.Tokens
			}
			items[i] = c
			return nil
		})
	}
	werr := g.Wait()
	if crawlerr.IsFatal(werr) {
		return werr
	}

	// 取消前已拿到的详情照常落库
	for _, c := range items {
		if _, err := r.handleContent(ctx, c, ""); err != nil {
			return err
		}
	}
	if werr != nil {
		return werr
	}
	return ctx.Err()
}
