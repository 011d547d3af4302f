package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	_ "SocialSync/internal/adapter/bilibili"
	_ "SocialSync/internal/adapter/douyin"
	_ "SocialSync/internal/adapter/weibo"
	_ "SocialSync/internal/adapter/xhs"

	"SocialSync/internal/adapter"
	"SocialSync/internal/config"
	"SocialSync/internal/docstore"
	"SocialSync/internal/engine"
	"SocialSync/internal/hot"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/proxy"
	"SocialSync/internal/repository"
	"SocialSync/internal/resolver"
	"SocialSync/internal/seen"
	"SocialSync/internal/service"
	"SocialSync/internal/session"
	"SocialSync/internal/sink"
)

// app 三个子命令共用的依赖，数据库和浏览器都按需打开
type app struct {
	ctx    context.Context // 进程生命周期，浏览器跟随它退出
	cfg    *config.Config
	logger *logrus.Logger

	db       *gorm.DB
	mongoCli *mongo.Client
	mongoDB  *mongo.Database
	redisCli *redis.Client

	seen     *seen.Set
	detector *hot.Detector
	engines  *service.EngineProvider

	mu      sync.Mutex
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *app {
	a := &app{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger,
		detector: hot.NewDetector(hot.ThresholdsFromConfig(cfg.Hot)),
	}
	a.engines = service.NewEngineProvider(a.buildEngine)
	return a
}

func (a *app) onClose(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Close 逆序释放
func (a *app) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) gorm() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := repository.OpenDB(a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	a.logger.WithField("driver", a.cfg.Database.Driver).Info("数据库连接成功")
	return db, nil
}

func (a *app) mongo() (*mongo.Database, error) {
	if a.mongoDB != nil {
		return a.mongoDB, nil
	}
	client, db, err := docstore.Connect(a.ctx, a.cfg.Mongo, a.logger)
	if err != nil {
		return nil, err
	}
	a.mongoCli, a.mongoDB = client, db
	a.onClose(func() error { return client.Disconnect(context.Background()) })
	return db, nil
}

func (a *app) redis() *redis.Client {
	if a.redisCli == nil {
		a.redisCli = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		cli := a.redisCli
		a.onClose(cli.Close)
	}
	return a.redisCli
}

// seenSet 按 monitor.seen_backend 选择后端，memory 只在进程内有效
func (a *app) seenSet() (*seen.Set, error) {
	if a.seen != nil {
		return a.seen, nil
	}
	var backend seen.Backend
	switch a.cfg.Monitor.SeenBackend {
	case "", "db":
		db, err := a.gorm()
		if err != nil {
			return nil, err
		}
		backend = repository.NewSeenRepository(db)
	case "mongodb":
		db, err := a.mongo()
		if err != nil {
			return nil, err
		}
		store := docstore.NewMonitorStore(db)
		if err := store.EnsureIndexes(a.ctx); err != nil {
			return nil, err
		}
		backend = store
	case "redis":
		if err := a.redis().Ping(a.ctx).Err(); err != nil {
			return nil, fmt.Errorf("连接Redis失败: %w", err)
		}
		backend = seen.NewRedisBackend(a.redis(), a.cfg.Redis.Prefix)
	case "memory":
	default:
		return nil, fmt.Errorf("未知的已抓取集合后端: %s", a.cfg.Monitor.SeenBackend)
	}
	a.seen = seen.New(backend)
	return a.seen, nil
}

// monitorStore 按 monitor.store 选择监控状态存储
func (a *app) monitorStore() (interfaces.MonitorStore, error) {
	switch a.cfg.Monitor.Store {
	case "", "db":
		db, err := a.gorm()
		if err != nil {
			return nil, err
		}
		return repository.NewMonitorRepository(db), nil
	case "mongodb":
		db, err := a.mongo()
		if err != nil {
			return nil, err
		}
		store := docstore.NewMonitorStore(db)
		if err := store.EnsureIndexes(a.ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的监控存储: %s", a.cfg.Monitor.Store)
	}
}

// openSink 按 crawler.save_data_option 打开存储
func (a *app) openSink(mode model.CrawlerType) (*sink.Router, error) {
	opts := sink.Options{
		DataDir:     a.cfg.Crawler.DataDir,
		CrawlerType: mode,
		Logger:      a.logger,
	}
	switch a.cfg.Crawler.SaveDataOption {
	case "db":
		db, err := a.gorm()
		if err != nil {
			return nil, err
		}
		opts.DB = db
	case "mongodb":
		db, err := a.mongo()
		if err != nil {
			return nil, err
		}
		opts.Mongo = db
	}
	return sink.NewRegistry().Open(a.cfg.Crawler.SaveDataOption, opts)
}

func (a *app) mediaSink() interfaces.MediaSink {
	return sink.NewMediaStore(a.cfg.Crawler.DataDir)
}

// buildEngine 启动浏览器、代理池和平台客户端表，第一次需要抓取时才调用
func (a *app) buildEngine(context.Context) (*engine.Engine, error) {
	seenSet, err := a.seenSet()
	if err != nil {
		return nil, err
	}

	var scripts []string
	for _, p := range a.cfg.Platforms {
		if p.InitScript != "" {
			scripts = append(scripts, p.InitScript)
		}
	}
	opts := session.Options{Headless: a.cfg.Crawler.Headless, InitScripts: scripts}
	if a.cfg.Crawler.SaveLoginState {
		opts.UserDataDir = a.cfg.Crawler.UserDataDir
	}
	provider, err := session.NewRodProvider(a.ctx, opts, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(provider.Close)

	pool, err := proxy.FromConfig(a.ctx, a.cfg.Proxy, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化代理池失败: %w", err)
	}

	clients := adapter.NewPlatformRegistry(a.cfg, provider, pool, a.logger)
	res := resolver.New(provider,
		resolver.WithTimeout(a.cfg.Resolver.ShortURLTimeout),
		resolver.WithLogger(a.logger),
	)
	return engine.New(clients, res, seenSet, a.detector, a.logger), nil
}
