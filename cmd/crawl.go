package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"SocialSync/internal/engine"
)

type crawlFlags struct {
	platform string
	mode     string
	keywords string
	ids      []string
	creators []string
	save     string
	maxNotes int
	comments bool
	media    bool
	onlyNew  bool
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "按配置执行一次抓取（search/detail/creator）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.platform, "platform", "", "平台：xhs/dy/bili/wb")
	fl.StringVar(&f.mode, "type", "", "抓取模式：search/detail/creator")
	fl.StringVar(&f.keywords, "keywords", "", "搜索关键词，逗号分隔")
	fl.StringSliceVar(&f.ids, "ids", nil, "detail 模式的链接或ID")
	fl.StringSliceVar(&f.creators, "creators", nil, "creator 模式的主页链接或ID")
	fl.StringVar(&f.save, "save", "", "存储方式：csv/json/db/sqlite/mongodb/excel")
	fl.IntVar(&f.maxNotes, "max-notes", 0, "最多抓取条数")
	fl.BoolVar(&f.comments, "comments", false, "抓取评论")
	fl.BoolVar(&f.media, "media", false, "下载图片/视频")
	fl.BoolVar(&f.onlyNew, "only-new", false, "跳过已抓取过的内容")
	return cmd
}

func runCrawl(cmd *cobra.Command, f crawlFlags) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	// 1. 命令行参数覆盖配置
	fl := cmd.Flags()
	if f.platform != "" {
		cfg.Crawler.Platform = f.platform
	}
	if f.mode != "" {
		cfg.Crawler.CrawlerType = f.mode
	}
	if f.keywords != "" {
		cfg.Crawler.Keywords = f.keywords
	}
	if len(f.ids) > 0 {
		cfg.Crawler.SpecifiedIDs = f.ids
	}
	if len(f.creators) > 0 {
		cfg.Crawler.CreatorIDs = f.creators
	}
	if f.save != "" {
		cfg.Crawler.SaveDataOption = f.save
	}
	if fl.Changed("max-notes") {
		cfg.Crawler.MaxNotes = f.maxNotes
	}
	if fl.Changed("comments") {
		cfg.Crawler.EnableComments = f.comments
	}
	if fl.Changed("media") {
		cfg.Crawler.EnableMedia = f.media
	}
	rc, err := engine.FromConfig(cfg)
	if err != nil {
		return err
	}
	rc.OnlyNew = f.onlyNew

	ctx := cmd.Context()
	a := newApp(ctx, cfg, logger)
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("释放资源失败")
		}
	}()

	// 2. 打开存储
	out, err := a.openSink(rc.Mode)
	if err != nil {
		return err
	}
	rc.Sink = out
	if rc.EnableMedia {
		rc.Media = a.mediaSink()
	}

	// 3. 启动浏览器并执行
	eng, err := a.engines.Get(ctx)
	if err != nil {
		_ = out.Close(context.Background())
		return err
	}
	res, runErr := eng.Run(ctx, rc)

	// 4. 收尾：表格类存储在关闭时落盘
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := out.Close(closeCtx); err != nil {
		logger.WithError(err).Error("关闭存储失败")
	}

	if res == nil {
		return runErr
	}
	outcome := engine.Outcome(res, runErr)
	logger.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"outcome":  outcome,
		"new":      res.New,
		"updated":  res.Updated,
		"skipped":  res.Skipped,
		"comments": res.Comments,
		"creators": res.Creators,
		"media":    res.Media,
		"errors":   res.Errors,
	}).Info("抓取结束")
	if outcome == engine.OutcomeError {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("抓取失败：%d 个错误，未写入任何内容", res.Errors)
	}
	return nil
}
