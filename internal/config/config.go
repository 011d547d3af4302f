package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/model"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`    // 服务器配置
	Log       LogConfig                 `mapstructure:"log"`       // 日志配置
	Database  DatabaseConfig            `mapstructure:"database"`  // 关系库配置
	Mongo     MongoConfig               `mapstructure:"mongo"`     // 文档库配置
	Redis     RedisConfig               `mapstructure:"redis"`     // Redis配置
	Kafka     KafkaConfig               `mapstructure:"kafka"`     // 热门内容推送
	Crawler   CrawlerConfig             `mapstructure:"crawler"`   // 抓取任务配置
	Proxy     ProxyConfig               `mapstructure:"proxy"`     // 代理池配置
	Monitor   MonitorConfig             `mapstructure:"monitor"`   // 监控调度配置
	Hot       HotConfig                 `mapstructure:"hot"`       // 热度阈值
	Resolver  ResolverConfig            `mapstructure:"resolver"`  // 链接解析
	Platforms map[string]PlatformConfig `mapstructure:"platforms"` // 多平台独立配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig 关系库配置（postgres/sqlite）
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`            // postgres / sqlite
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
	LogSQL          bool          `mapstructure:"log_sql"`
}

// MongoConfig 文档库配置
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig 已抓取集合的可选后端
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// KafkaConfig 热门内容推送
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	HotTopic string   `mapstructure:"hot_topic"`
}

// CrawlerConfig 单次抓取任务配置
type CrawlerConfig struct {
	Platform              string        `mapstructure:"platform"`
	CrawlerType           string        `mapstructure:"crawler_type"` // search/detail/creator
	LoginType             string        `mapstructure:"login_type"`   // qrcode/phone/cookie
	Keywords              string        `mapstructure:"keywords"`     // 逗号分隔
	StartPage             int           `mapstructure:"start_page"`
	MaxNotes              int           `mapstructure:"max_notes"`
	PageSize              int           `mapstructure:"page_size"`
	MaxCommentsPerContent int           `mapstructure:"max_comments_per_content"`
	EnableComments        bool          `mapstructure:"enable_comments"`
	EnableSubComments     bool          `mapstructure:"enable_sub_comments"`
	EnableMedia           bool          `mapstructure:"enable_media"`
	SaveDataOption        string        `mapstructure:"save_data_option"` // csv/db/json/sqlite/mongodb/excel
	DataDir               string        `mapstructure:"data_dir"`
	MaxConcurrency        int           `mapstructure:"max_concurrency"`
	Headless              bool          `mapstructure:"headless"`
	Cookies               string        `mapstructure:"cookies"` // cookie 登录时使用的原始字符串
	SaveLoginState        bool          `mapstructure:"save_login_state"`
	UserDataDir           string        `mapstructure:"user_data_dir"`
	SpecifiedIDs          []string      `mapstructure:"specified_ids"` // detail 模式的链接或ID
	CreatorIDs            []string      `mapstructure:"creator_ids"`   // creator 模式的主页链接或ID
	Grace                 time.Duration `mapstructure:"grace"`         // 取消后的收尾时间
}

// ProxyConfig 代理池配置
type ProxyConfig struct {
	EnableIPProxy    bool          `mapstructure:"enable_ip_proxy"`
	IPProxyPoolCount int           `mapstructure:"ip_proxy_pool_count"`
	ProviderURL      string        `mapstructure:"provider_url"` // 代理商提取接口，返回 JSON 列表
	Static           []string      `mapstructure:"static"`
	TTL              time.Duration `mapstructure:"ttl"`
	CheckURL         string        `mapstructure:"check_url"`
}

// MonitorConfig 监控调度配置
type MonitorConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	IntervalMinutes    int           `mapstructure:"interval_minutes"`
	RetentionDays      int           `mapstructure:"retention_days"`
	TrendingWindowDays int           `mapstructure:"trending_window_days"`
	TrendingSpec       string        `mapstructure:"trending_spec"`
	RetentionSpec      string        `mapstructure:"retention_spec"`
	MaxItemsPerTarget  int           `mapstructure:"max_items_per_target"`
	MaxPages           int           `mapstructure:"max_pages"`
	MisfireGrace       time.Duration `mapstructure:"misfire_grace"`
	Store              string        `mapstructure:"store"`        // db / mongodb
	SeenBackend        string        `mapstructure:"seen_backend"` // db / mongodb / redis
}

// HotConfig 热度等级阈值
type HotConfig struct {
	ViralLikes     int64   `mapstructure:"viral_likes"`
	ViralScore     float64 `mapstructure:"viral_score"`
	HotLikes       int64   `mapstructure:"hot_likes"`
	HotScore       float64 `mapstructure:"hot_score"`
	HotGrowth      float64 `mapstructure:"hot_growth"`
	TrendingLikes  int64   `mapstructure:"trending_likes"`
	TrendingScore  float64 `mapstructure:"trending_score"`
	TrendingGrowth float64 `mapstructure:"trending_growth"`
}

// ResolverConfig 链接解析配置
type ResolverConfig struct {
	ShortURLTimeout time.Duration `mapstructure:"short_url_timeout"`
}

// PlatformConfig 单个平台的独立配置
type PlatformConfig struct {
	BaseURL      string        `mapstructure:"base_url"`      // API基础地址
	HomeURL      string        `mapstructure:"home_url"`      // 首页，刷新登录态时打开
	Timeout      time.Duration `mapstructure:"timeout"`       // 请求超时
	RetryCount   int           `mapstructure:"retry_count"`   // 重试次数
	RetryBackoff time.Duration `mapstructure:"retry_backoff"` // 重试间隔（固定）
	MinDelay     time.Duration `mapstructure:"min_delay"`     // 翻页间隔下限
	MaxDelay     time.Duration `mapstructure:"max_delay"`     // 翻页间隔上限
	PageSize     int           `mapstructure:"page_size"`
	UserAgent    string        `mapstructure:"user_agent"`
	SignScript   string        `mapstructure:"sign_script"` // 页面内签名函数表达式，空表示无需签名
	InitScript   string        `mapstructure:"init_script"` // 反检测脚本路径
	Proxy        string        `mapstructure:"proxy"`       // 固定代理地址（不走代理池时）
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录加载 config.yaml
func LoadConfigFrom(dir string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	cfg.fillPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("mongo.database", "socialsync")
	v.SetDefault("mongo.timeout", 10*time.Second)
	v.SetDefault("redis.prefix", "socialsync")
	v.SetDefault("kafka.hot_topic", "socialsync.hot")

	v.SetDefault("crawler.platform", string(model.PlatformXHS))
	v.SetDefault("crawler.crawler_type", string(model.CrawlerSearch))
	v.SetDefault("crawler.login_type", string(model.LoginCookie))
	v.SetDefault("crawler.start_page", 1)
	v.SetDefault("crawler.max_notes", 20)
	v.SetDefault("crawler.page_size", 20)
	v.SetDefault("crawler.max_comments_per_content", 10)
	v.SetDefault("crawler.enable_comments", true)
	v.SetDefault("crawler.enable_sub_comments", false)
	v.SetDefault("crawler.enable_media", false)
	v.SetDefault("crawler.save_data_option", "json")
	v.SetDefault("crawler.data_dir", "data")
	v.SetDefault("crawler.max_concurrency", 1)
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.save_login_state", true)
	v.SetDefault("crawler.user_data_dir", "browser_data")
	v.SetDefault("crawler.grace", 15*time.Second)

	v.SetDefault("proxy.enable_ip_proxy", false)
	v.SetDefault("proxy.ip_proxy_pool_count", 2)
	v.SetDefault("proxy.ttl", 5*time.Minute)
	v.SetDefault("proxy.check_url", "https://www.baidu.com")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval_minutes", 30)
	v.SetDefault("monitor.retention_days", 30)
	v.SetDefault("monitor.trending_window_days", 7)
	v.SetDefault("monitor.trending_spec", "@hourly")
	v.SetDefault("monitor.retention_spec", "0 3 * * *")
	v.SetDefault("monitor.max_items_per_target", 20)
	v.SetDefault("monitor.max_pages", 5)
	v.SetDefault("monitor.misfire_grace", 60*time.Second)
	v.SetDefault("monitor.store", "db")
	v.SetDefault("monitor.seen_backend", "db")

	v.SetDefault("hot.viral_likes", 20000)
	v.SetDefault("hot.viral_score", 80)
	v.SetDefault("hot.hot_likes", 5000)
	v.SetDefault("hot.hot_score", 60)
	v.SetDefault("hot.hot_growth", 500)
	v.SetDefault("hot.trending_likes", 1000)
	v.SetDefault("hot.trending_score", 40)
	v.SetDefault("hot.trending_growth", 100)

	v.SetDefault("resolver.short_url_timeout", 10*time.Second)
}

// platformDefaults 各平台的默认接口地址与限速
var platformDefaults = map[model.PlatformType]PlatformConfig{
	model.PlatformXHS: {
		BaseURL: "https://edith.xiaohongshu.com", HomeURL: "https://www.xiaohongshu.com",
		SignScript: "window._webmsxyw",
	},
	model.PlatformDouyin: {
		BaseURL: "https://www.douyin.com", HomeURL: "https://www.douyin.com",
		SignScript: "window.byted_acrawler && window.byted_acrawler.frontierSign",
	},
	model.PlatformBilibili: {
		BaseURL: "https://api.bilibili.com", HomeURL: "https://www.bilibili.com",
	},
	model.PlatformWeibo: {
		BaseURL: "https://m.weibo.cn", HomeURL: "https://m.weibo.cn",
		MinDelay: time.Second, MaxDelay: 3 * time.Second, // 微博限流严格
	},
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// fillPlatformDefaults 补齐未在 yaml 中声明的平台与字段
func (c *Config) fillPlatformDefaults() {
	if c.Platforms == nil {
		c.Platforms = make(map[string]PlatformConfig)
	}
	for p, def := range platformDefaults {
		pc := c.Platforms[string(p)]
		if pc.BaseURL == "" {
			pc.BaseURL = def.BaseURL
		}
		if pc.HomeURL == "" {
			pc.HomeURL = def.HomeURL
		}
		if pc.SignScript == "" {
			pc.SignScript = def.SignScript
		}
		if pc.Timeout <= 0 {
			pc.Timeout = 20 * time.Second
		}
		if pc.RetryCount <= 0 {
			pc.RetryCount = 3
		}
		if pc.RetryBackoff <= 0 {
			pc.RetryBackoff = 3 * time.Second
		}
		if pc.MinDelay <= 0 {
			pc.MinDelay = def.MinDelay
			if pc.MinDelay <= 0 {
				pc.MinDelay = time.Second
			}
		}
		if pc.MaxDelay <= 0 {
			pc.MaxDelay = def.MaxDelay
			if pc.MaxDelay < pc.MinDelay {
				pc.MaxDelay = pc.MinDelay
			}
		}
		if pc.PageSize <= 0 {
			pc.PageSize = c.Crawler.PageSize
		}
		if pc.UserAgent == "" {
			pc.UserAgent = defaultUserAgent
		}
		c.Platforms[string(p)] = pc
	}
}

// Platform 取平台配置
func (c *Config) Platform(p model.PlatformType) PlatformConfig {
	return c.Platforms[string(p)]
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if _, ok := model.ParsePlatform(c.Crawler.Platform); !ok {
		return fmt.Errorf("未知平台: %s", c.Crawler.Platform)
	}
	if !model.CrawlerType(c.Crawler.CrawlerType).Valid() {
		return fmt.Errorf("未知抓取模式: %s", c.Crawler.CrawlerType)
	}
	switch c.Crawler.SaveDataOption {
	case "csv", "db", "json", "sqlite", "mongodb", "excel":
	default:
		return fmt.Errorf("未知存储方式: %s", c.Crawler.SaveDataOption)
	}
	if c.Crawler.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency 必须 >= 1")
	}
	if c.Crawler.StartPage < 1 {
		return fmt.Errorf("start_page 必须 >= 1")
	}
	for name, pc := range c.Platforms {
		if pc.MinDelay > pc.MaxDelay {
			return fmt.Errorf("平台 %s: min_delay 大于 max_delay", name)
		}
	}
	return nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CRAWLER_PLATFORM"); v != "" {
		cfg.Crawler.Platform = v
	}
	if v := os.Getenv("CRAWLER_COOKIES"); v != "" {
		cfg.Crawler.Cookies = v
	}
	if v := os.Getenv("CRAWLER_KEYWORDS"); v != "" {
		cfg.Crawler.Keywords = v
	}
	if v := os.Getenv("SAVE_DATA_OPTION"); v != "" {
		cfg.Crawler.SaveDataOption = v
	}
}

// GetGORMConfig 获取GORM配置
func (d *DatabaseConfig) GetGORMConfig() gorm.Config {
	level := logger.Warn
	if d.LogSQL {
		level = logger.Info
	}
	return gorm.Config{Logger: logger.Default.LogMode(level)}
}
