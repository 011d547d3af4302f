package model

import "strings"

// PlatformType 平台类型枚举
type PlatformType string

const (
	PlatformXHS      PlatformType = "xhs"  // 小红书
	PlatformDouyin   PlatformType = "dy"   // 抖音
	PlatformBilibili PlatformType = "bili" // B站
	PlatformWeibo    PlatformType = "wb"   // 微博
	PlatformKuaishou PlatformType = "ks"   // 快手（仅做链接解析）
)

// KnownPlatforms 所有可识别的平台
var KnownPlatforms = []PlatformType{PlatformXHS, PlatformDouyin, PlatformBilibili, PlatformWeibo, PlatformKuaishou}

// ParsePlatform 支持平台简称与常见别名
func ParsePlatform(s string) (PlatformType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xhs", "xiaohongshu":
		return PlatformXHS, true
	case "dy", "douyin":
		return PlatformDouyin, true
	case "bili", "bilibili":
		return PlatformBilibili, true
	case "wb", "weibo":
		return PlatformWeibo, true
	case "ks", "kuaishou":
		return PlatformKuaishou, true
	}
	return "", false
}

// CrawlerType 爬取模式
type CrawlerType string

const (
	CrawlerSearch  CrawlerType = "search"
	CrawlerDetail  CrawlerType = "detail"
	CrawlerCreator CrawlerType = "creator"
)

func (c CrawlerType) Valid() bool {
	return c == CrawlerSearch || c == CrawlerDetail || c == CrawlerCreator
}

// RecordKind 记录类型，决定落盘的文件名/表名/集合名
type RecordKind string

const (
	KindContent RecordKind = "contents"
	KindComment RecordKind = "comments"
	KindCreator RecordKind = "creators"
)

// ContentType 内容类型
type ContentType string

const (
	ContentPost          ContentType = "post"
	ContentVideo         ContentType = "video"
	ContentAnswer        ContentType = "answer"
	ContentArticle       ContentType = "article"
	ContentCommentThread ContentType = "comment-thread"
)

// LoginType 登录方式（扫码/手机号流程不在本服务内实现，只消费其结果）
type LoginType string

const (
	LoginQRCode LoginType = "qrcode"
	LoginPhone  LoginType = "phone"
	LoginCookie LoginType = "cookie"
)

// TargetKind 监控目标类型
type TargetKind string

const (
	TargetCreator TargetKind = "creator"
	TargetKeyword TargetKind = "keyword"
	TargetID      TargetKind = "id"
)

func (k TargetKind) Valid() bool {
	return k == TargetCreator || k == TargetKeyword || k == TargetID
}
