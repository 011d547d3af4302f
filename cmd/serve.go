package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"SocialSync/internal/api"
	"SocialSync/internal/config"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/notify"
	"SocialSync/internal/repository"
	"SocialSync/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务（搜索任务、监控管理），按配置开启定时监控",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	a := newApp(ctx, cfg, logger)
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("释放资源失败")
		}
	}()

	// 1. 打开存储，搜索任务结果同时写入配置的存储
	out, err := a.openSink(model.CrawlerSearch)
	if err != nil {
		return err
	}
	var media interfaces.MediaSink
	if cfg.Crawler.EnableMedia {
		media = a.mediaSink()
	}
	tasks := service.NewTaskManager(cfg, a.engines, out, media, logger)

	// 2. 定时监控（可选）
	var (
		store     interfaces.MonitorStore
		scheduler *service.Scheduler
		kafka     *notify.KafkaNotifier
	)
	if cfg.Monitor.Enabled {
		if store, err = a.monitorStore(); err != nil {
			return err
		}
		if cfg.Monitor.Store == "" || cfg.Monitor.Store == "db" {
			db, _ := a.gorm()
			if err := repository.AutoMigrate(db); err != nil {
				return err
			}
		}
		seenSet, err := a.seenSet()
		if err != nil {
			return err
		}

		notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
		if len(cfg.Kafka.Brokers) > 0 {
			if kafka, err = notify.NewKafkaNotifier(cfg.Kafka); err != nil {
				return err
			}
			notifiers = append(notifiers, kafka)
		}

		monitor := service.NewMonitorService(service.MonitorDeps{
			Config: cfg, Engines: a.engines, Store: store, Seen: seenSet, Detector: a.detector,
			Sink: out, Media: media, OnHot: notify.Callback(notifiers...), Logger: logger,
		})
		scheduler = service.NewScheduler(logger, cfg.Monitor.MisfireGrace)
		if err := monitor.Register(scheduler); err != nil {
			return err
		}
		scheduler.Start()
		logger.Info("定时监控已启动")
	}

	// 3. 配置Gin运行模式（从配置读取：debug/release）
	gin.SetMode(cfg.Server.Mode)
	r := api.NewRouter(api.RouterDeps{
		Tasks: tasks, Store: store, Scheduler: scheduler, Logger: logger, Pprof: true,
	})
	logger.Infof("Gin运行模式: %s", cfg.Server.Mode)

	// 4. 启动服务（从配置读取端口）
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Infof("服务启动成功，端口：%d", cfg.Server.Port)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务失败: %w", err)
		}
	case <-ctx.Done():
		logger.Info("收到退出信号，开始关闭")
	}

	// 5. 依次关闭：HTTP、定时任务、搜索任务、存储
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP服务关闭超时")
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("定时任务未能按时结束")
		}
	}
	if err := tasks.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("搜索任务未能按时结束")
	}
	if err := out.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("关闭存储失败")
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.WithError(err).Warn("关闭Kafka写入失败")
		}
	}
	logger.Info("服务已退出")
	return nil
}
