package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"SocialSync/internal/config"
)

var configDir string

func main() {
	root := &cobra.Command{
		Use:           "socialsync",
		Short:         "多平台社交内容采集与监控",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "./config", "config.yaml 所在目录")
	root.AddCommand(newServeCmd(), newCrawlCmd(), newMigrateCmd())

	// Ctrl+C / SIGTERM 取消当前命令
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.WithError(err).Error("执行失败")
		os.Exit(1)
	}
}

// bootstrap 加载配置并初始化日志
func bootstrap() (*config.Config, *logrus.Logger, error) {
	// 1. 加载配置文件
	cfg, err := config.LoadConfigFrom(configDir)
	if err != nil {
		return nil, nil, err
	}

	// 2. 初始化日志
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.Info("配置文件加载成功")
	return cfg, logger, nil
}
