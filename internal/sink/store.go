package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/docstore"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/repository"
)

// recordStore 关系库与文档库共同的读写能力
type recordStore interface {
	UpsertContent(ctx context.Context, c *model.Content) error
	UpsertComment(ctx context.Context, c *model.Comment) error
	UpsertCreator(ctx context.Context, c *model.Creator) error
	interfaces.SinkReader
}

// storeSink 把记录交给可 upsert 的存储
type storeSink struct {
	name    string
	store   recordStore
	onClose func() error
}

func (s *storeSink) Name() string { return s.name }

func (s *storeSink) StoreContent(ctx context.Context, c *model.Content) error {
	return s.store.UpsertContent(ctx, c)
}

func (s *storeSink) StoreComment(ctx context.Context, c *model.Comment) error {
	return s.store.UpsertComment(ctx, c)
}

func (s *storeSink) StoreCreator(ctx context.Context, c *model.Creator) error {
	return s.store.UpsertCreator(ctx, c)
}

func (s *storeSink) LoadContent(ctx context.Context, p model.PlatformType, id string) (*model.Content, error) {
	return s.store.LoadContent(ctx, p, id)
}

func (s *storeSink) LoadComment(ctx context.Context, p model.PlatformType, id string) (*model.Comment, error) {
	return s.store.LoadComment(ctx, p, id)
}

func (s *storeSink) LoadCreator(ctx context.Context, p model.PlatformType, id string) (*model.Creator, error) {
	return s.store.LoadCreator(ctx, p, id)
}

func (s *storeSink) Close(context.Context) error {
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}

// newDBSink 复用进程内的关系库连接
func newDBSink(opts Options) (interfaces.Sink, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("未配置关系库连接")
	}
	return &storeSink{name: "db", store: repository.NewRecordRepository(opts.DB)}, nil
}

// newSQLiteSink 独立的 sqlite 文件，Close 时关闭
func newSQLiteSink(opts Options) (interfaces.Sink, error) {
	path := opts.SQLitePath
	if path == "" {
		path = filepath.Join(opts.DataDir, "socialsync.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 单写
	sqlDB.SetMaxOpenConns(1)
	return &storeSink{name: "sqlite", store: repository.NewRecordRepository(db), onClose: sqlDB.Close}, nil
}

func newMongoSink(opts Options) (interfaces.Sink, error) {
	if opts.Mongo == nil {
		return nil, fmt.Errorf("未配置 MongoDB")
	}
	return &storeSink{name: "mongodb", store: docstore.NewRecordStore(opts.Mongo)}, nil
}
