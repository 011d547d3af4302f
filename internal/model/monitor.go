package model

import (
	"time"
)

// HotLevel 热度等级：normal < trending < hot < viral
type HotLevel string

const (
	LevelNormal   HotLevel = "normal"
	LevelTrending HotLevel = "trending"
	LevelHot      HotLevel = "hot"
	LevelViral    HotLevel = "viral"
)

// Rank 等级序号，用于比较
func (l HotLevel) Rank() int {
	switch l {
	case LevelTrending:
		return 1
	case LevelHot:
		return 2
	case LevelViral:
		return 3
	}
	return 0
}

// AtLeast 是否达到指定等级
func (l HotLevel) AtLeast(other HotLevel) bool {
	return l.Rank() >= other.Rank()
}

// HotScore 热度标注，入库时挂在 Content 上
type HotScore struct {
	Level           HotLevel  `gorm:"column:level;type:varchar(16)" json:"level" bson:"level"`
	Score           float64   `gorm:"column:score" json:"score" bson:"score"`
	EngagementRatio float64   `gorm:"column:engagement_ratio" json:"engagement_ratio" bson:"engagement_ratio"` // 收藏/点赞
	GrowthRate      *float64  `gorm:"column:growth_rate" json:"growth_rate" bson:"growth_rate"`                // 每小时点赞，发布时间未知时为空
	TotalEngagement int64     `gorm:"column:total_engagement;type:bigint" json:"total_engagement" bson:"total_engagement"`
	IsHot           bool      `gorm:"column:is_hot" json:"is_hot" bson:"is_hot"`
	IsTrending      bool      `gorm:"column:is_trending" json:"is_trending" bson:"is_trending"`
	ComputedAt      time.Time `gorm:"column:computed_at" json:"computed_at" bson:"computed_at"`
}

// WatchEntry 监控列表条目
type WatchEntry struct {
	ID             uint64       `gorm:"column:id;primaryKey;autoIncrement" json:"id" bson:"-"`
	Platform       PlatformType `gorm:"column:platform;type:varchar(16);not null;uniqueIndex:idx_monitor_accounts_key" json:"platform" bson:"platform"`
	TargetKind     TargetKind   `gorm:"column:target_kind;type:varchar(16);not null;uniqueIndex:idx_monitor_accounts_key" json:"target_kind" bson:"target_kind"`
	Target         string       `gorm:"column:target;type:varchar(255);not null;uniqueIndex:idx_monitor_accounts_key" json:"target" bson:"target"`
	Name           string       `gorm:"column:name;type:varchar(255)" json:"name" bson:"name"`
	Active         bool         `gorm:"column:active;not null" json:"active" bson:"active"`
	CadenceMinutes int          `gorm:"column:cadence_minutes;default:0" json:"cadence_minutes" bson:"cadence_minutes"` // 0 表示跟随全局间隔
	MaxItems       int          `gorm:"column:max_items;default:0" json:"max_items" bson:"max_items"`
	LastCrawlAt    *time.Time   `gorm:"column:last_crawl_at" json:"last_crawl_at" bson:"last_crawl_at"`
	CreatedAt      time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at" bson:"created_at"`
}

// TableName 监控账号表
func (w *WatchEntry) TableName() string {
	return "monitor_accounts"
}

// Due 判断该条目在 now 时刻是否需要抓取
func (w *WatchEntry) Due(now time.Time, defaultCadence time.Duration) bool {
	if !w.Active {
		return false
	}
	if w.LastCrawlAt == nil {
		return true
	}
	cadence := defaultCadence
	if w.CadenceMinutes > 0 {
		cadence = time.Duration(w.CadenceMinutes) * time.Minute
	}
	return !w.LastCrawlAt.Add(cadence).After(now)
}

// WatchKey 监控条目的自然键
type WatchKey struct {
	Platform   PlatformType `json:"platform" binding:"required"`
	TargetKind TargetKind   `json:"target_kind" binding:"required"`
	Target     string       `json:"target" binding:"required"`
}

func (w *WatchEntry) WatchKey() WatchKey {
	return WatchKey{Platform: w.Platform, TargetKind: w.TargetKind, Target: w.Target}
}

// SeenMark 已抓取标记，驱动增量抓取
type SeenMark struct {
	ID          uint64       `gorm:"column:id;primaryKey;autoIncrement" bson:"-"`
	Platform    PlatformType `gorm:"column:platform;type:varchar(16);not null;uniqueIndex:idx_monitor_crawl_history_key" bson:"platform"`
	ContentID   string       `gorm:"column:content_id;type:varchar(64);not null;uniqueIndex:idx_monitor_crawl_history_key" bson:"content_id"`
	FirstSeenAt time.Time    `gorm:"column:first_seen_at;index" bson:"first_seen_at"`
}

// TableName 抓取历史表
func (s *SeenMark) TableName() string {
	return "monitor_crawl_history"
}

// MonitorNote 监控抓到的内容
type MonitorNote struct {
	Content `gorm:"embedded" bson:",inline"`
}

// TableName 监控内容表
func (n *MonitorNote) TableName() string {
	return "monitor_notes"
}

// HotNote 热门内容
type HotNote struct {
	Content    `gorm:"embedded" bson:",inline"`
	DetectedAt time.Time `gorm:"column:detected_at" json:"detected_at" bson:"detected_at"`
}

// TableName 热门内容表
func (n *HotNote) TableName() string {
	return "monitor_hot_notes"
}
