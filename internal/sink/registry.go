// Package sink 抓取结果落地：按 save_data_option 选择后端，统一做自然键校验与计数
package sink

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// Options 构造后端需要的依赖，按后端取用
type Options struct {
	DataDir     string
	CrawlerType model.CrawlerType
	DB          *gorm.DB        // db
	SQLitePath  string          // sqlite，空则为 <data_dir>/socialsync.db
	Mongo       *mongo.Database // mongodb
	Logger      *logrus.Logger
	Now         func() time.Time
}

func (o *Options) fill() {
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	if o.CrawlerType == "" {
		o.CrawlerType = model.CrawlerSearch
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Factory 后端工厂
type Factory func(opts Options) (interfaces.Sink, error)

// Registry save_data_option -> 工厂
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 注册内置后端
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("csv", newCSVSink)
	r.Register("json", newJSONSink)
	r.Register("db", newDBSink)
	r.Register("sqlite", newSQLiteSink)
	r.Register("mongodb", newMongoSink)
	r.Register("excel", newExcelSink)
	return r
}

func (r *Registry) Register(option string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[option] = f
}

// Options 已注册的存储方式
func (r *Registry) Options() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open 构造后端并包上 Router
func (r *Registry) Open(option string, opts Options) (*Router, error) {
	r.mu.RLock()
	f, ok := r.factories[option]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知存储方式: %s", option)
	}
	opts.fill()
	backend, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("初始化存储 %s 失败: %w", option, err)
	}
	return NewRouter(backend, opts.Now), nil
}
