package main

import (
	"context"

	"github.com/spf13/cobra"

	"SocialSync/internal/docstore"
	"SocialSync/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	var withMongo bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "创建监控表结构（库不存在时先建库）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			a := newApp(cmd.Context(), cfg, logger)
			defer a.Close()

			// 1. 关系库建表
			db, err := a.gorm()
			if err != nil {
				return err
			}
			if err := repository.AutoMigrate(db); err != nil {
				return err
			}
			logger.Info("数据库表结构检查完成（不存在则已创建）")

			// 2. 文档库索引
			if !withMongo {
				return nil
			}
			mdb, err := a.mongo()
			if err != nil {
				return err
			}
			if err := docstore.NewMonitorStore(mdb).EnsureIndexes(context.Background()); err != nil {
				return err
			}
			logger.Info("MongoDB索引检查完成")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMongo, "mongo", false, "同时创建 MongoDB 监控集合索引")
	return cmd
}
