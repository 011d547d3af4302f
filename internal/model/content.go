package model

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Content 帖子/视频/文章的统一模型，平台特有字段放在 Extra
type Content struct {
	ID              uint64                    `gorm:"column:id;primaryKey;autoIncrement" json:"-" bson:"-"`
	Platform        PlatformType              `gorm:"column:platform;type:varchar(16);not null" json:"platform" bson:"platform"`
	ContentID       string                    `gorm:"column:content_id;type:varchar(64);not null" json:"content_id" bson:"content_id"`
	ContentType     ContentType               `gorm:"column:content_type;type:varchar(32)" json:"content_type" bson:"content_type"`
	AuthorID        string                    `gorm:"column:author_id;type:varchar(128)" json:"author_id" bson:"author_id"`
	AuthorName      string                    `gorm:"column:author_name;type:varchar(255)" json:"author_name" bson:"author_name"`
	AuthorAvatarURL string                    `gorm:"column:author_avatar_url;type:text" json:"author_avatar_url" bson:"author_avatar_url"`
	Title           string                    `gorm:"column:title;type:text" json:"title" bson:"title"`
	BodyText        string                    `gorm:"column:body_text;type:text" json:"body_text" bson:"body_text"`
	MediaURLs       StringList                `gorm:"column:media_urls" json:"media_urls" bson:"media_urls"`
	TagList         StringList                `gorm:"column:tag_list" json:"tag_list" bson:"tag_list"`
	ContentURL      string                    `gorm:"column:content_url;type:text" json:"content_url" bson:"content_url"`
	IPLocation      string                    `gorm:"column:ip_location;type:varchar(64)" json:"ip_location" bson:"ip_location"`
	CreatedAt       int64                     `gorm:"column:created_at;type:bigint;autoCreateTime:false" json:"created_at" bson:"created_at"` // 发布时间（秒）
	SourceKeyword   *string                   `gorm:"column:source_keyword;type:varchar(255)" json:"source_keyword" bson:"source_keyword"`
	LikeCount       int64                     `gorm:"column:like_count;type:bigint;default:0" json:"like_count" bson:"like_count"`
	CollectCount    int64                     `gorm:"column:collect_count;type:bigint;default:0" json:"collect_count" bson:"collect_count"`
	CommentCount    int64                     `gorm:"column:comment_count;type:bigint;default:0" json:"comment_count" bson:"comment_count"`
	ShareCount      int64                     `gorm:"column:share_count;type:bigint;default:0" json:"share_count" bson:"share_count"`
	ViewCount       int64                     `gorm:"column:view_count;type:bigint;default:0" json:"view_count" bson:"view_count"`
	Hot             HotScore                  `gorm:"embedded;embeddedPrefix:hot_" json:"hot_score" bson:"hot_score"`
	Extra           datatypes.JSONMap         `gorm:"column:extra" json:"extra,omitempty" bson:"extra,omitempty"`
	IngestedAt      time.Time                 `gorm:"column:ingested_at;autoCreateTime:false" json:"ingested_at" bson:"ingested_at"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at" bson:"updated_at"`

	// 以下字段只在内存中流转，不落库
	Tokens  map[string]string `gorm:"-" json:"-" bson:"-"` // 上下文令牌，如 xsec_token
	Partial bool              `gorm:"-" json:"-" bson:"-"` // 列表页条目，需要再拉详情
}

// Key 自然主键
func (c *Content) Key() string {
	return RecordKey(c.Platform, c.ContentID)
}

// Ref 构造详情请求所需的引用
func (c *Content) Ref() ContentRef {
	return ContentRef{ID: c.ContentID, Tokens: c.Tokens}
}

// ClampCounts 计数非负
func (c *Content) ClampCounts() {
	clamp(&c.LikeCount, &c.CollectCount, &c.CommentCount, &c.ShareCount, &c.ViewCount)
}

// Columns 表格类存储使用的列（声明顺序）
func (c *Content) Columns() []string {
	return []string{
		"platform", "content_id", "content_type", "author_id", "author_name", "author_avatar_url",
		"title", "body_text", "media_urls", "tag_list", "content_url", "ip_location", "created_at",
		"source_keyword", "like_count", "collect_count", "comment_count", "share_count", "view_count",
		"hot_level", "hot_score", "ingested_at", "updated_at",
	}
}

// Values 与 Columns 一一对应
func (c *Content) Values() []string {
	kw := ""
	if c.SourceKeyword != nil {
		kw = *c.SourceKeyword
	}
	return []string{
		string(c.Platform), c.ContentID, string(c.ContentType), c.AuthorID, c.AuthorName, c.AuthorAvatarURL,
		c.Title, c.BodyText, strings.Join(c.MediaURLs, ","), strings.Join(c.TagList, ","), c.ContentURL,
		c.IPLocation, itoa(c.CreatedAt), kw, itoa(c.LikeCount), itoa(c.CollectCount), itoa(c.CommentCount),
		itoa(c.ShareCount), itoa(c.ViewCount), string(c.Hot.Level), strconv.FormatFloat(c.Hot.Score, 'f', 2, 64),
		formatTime(c.IngestedAt), formatTime(c.UpdatedAt),
	}
}

// Comment 评论（一级/二级统一）
type Comment struct {
	ID              uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"-" bson:"-"`
	Platform        PlatformType      `gorm:"column:platform;type:varchar(16);not null" json:"platform" bson:"platform"`
	CommentID       string            `gorm:"column:comment_id;type:varchar(64);not null" json:"comment_id" bson:"comment_id"`
	ParentCommentID string            `gorm:"column:parent_comment_id;type:varchar(64)" json:"parent_comment_id" bson:"parent_comment_id"` // 空表示一级评论
	ContentID       string            `gorm:"column:content_id;type:varchar(64);not null" json:"content_id" bson:"content_id"`
	AuthorID        string            `gorm:"column:author_id;type:varchar(128)" json:"author_id" bson:"author_id"`
	AuthorName      string            `gorm:"column:author_name;type:varchar(255)" json:"author_name" bson:"author_name"`
	AuthorAvatarURL string            `gorm:"column:author_avatar_url;type:text" json:"author_avatar_url" bson:"author_avatar_url"`
	BodyText        string            `gorm:"column:body_text;type:text" json:"body_text" bson:"body_text"`
	LikeCount       int64             `gorm:"column:like_count;type:bigint;default:0" json:"like_count" bson:"like_count"`
	SubCommentCount int64             `gorm:"column:sub_comment_count;type:bigint;default:0" json:"sub_comment_count" bson:"sub_comment_count"`
	IPLocation      string            `gorm:"column:ip_location;type:varchar(64)" json:"ip_location" bson:"ip_location"`
	CreatedAt       int64             `gorm:"column:created_at;type:bigint;autoCreateTime:false" json:"created_at" bson:"created_at"`
	Extra           datatypes.JSONMap `gorm:"column:extra" json:"extra,omitempty" bson:"extra,omitempty"`
	IngestedAt      time.Time         `gorm:"column:ingested_at;autoCreateTime:false" json:"ingested_at" bson:"ingested_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at" bson:"updated_at"`

	ChildCursor  string `gorm:"-" json:"-" bson:"-"` // 一级评论自带的二级评论游标
	ChildHasMore bool   `gorm:"-" json:"-" bson:"-"`
}

func (c *Comment) Key() string {
	return RecordKey(c.Platform, c.CommentID)
}

func (c *Comment) IsRoot() bool {
	return c.ParentCommentID == ""
}

func (c *Comment) ClampCounts() {
	clamp(&c.LikeCount, &c.SubCommentCount)
}

func (c *Comment) Columns() []string {
	return []string{
		"platform", "comment_id", "parent_comment_id", "content_id", "author_id", "author_name",
		"author_avatar_url", "body_text", "like_count", "sub_comment_count", "ip_location", "created_at",
		"ingested_at", "updated_at",
	}
}

func (c *Comment) Values() []string {
	return []string{
		string(c.Platform), c.CommentID, c.ParentCommentID, c.ContentID, c.AuthorID, c.AuthorName,
		c.AuthorAvatarURL, c.BodyText, itoa(c.LikeCount), itoa(c.SubCommentCount), c.IPLocation,
		itoa(c.CreatedAt), formatTime(c.IngestedAt), formatTime(c.UpdatedAt),
	}
}

// Creator 创作者
type Creator struct {
	ID               uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"-" bson:"-"`
	Platform         PlatformType      `gorm:"column:platform;type:varchar(16);not null" json:"platform" bson:"platform"`
	UserID           string            `gorm:"column:user_id;type:varchar(128);not null" json:"user_id" bson:"user_id"`
	Handle           string            `gorm:"column:handle;type:varchar(128)" json:"handle" bson:"handle"`
	Nickname         string            `gorm:"column:nickname;type:varchar(255)" json:"nickname" bson:"nickname"`
	AvatarURL        string            `gorm:"column:avatar_url;type:text" json:"avatar_url" bson:"avatar_url"`
	Bio              string            `gorm:"column:bio;type:text" json:"bio" bson:"bio"`
	FollowerCount    int64             `gorm:"column:follower_count;type:bigint;default:0" json:"follower_count" bson:"follower_count"`
	FollowingCount   int64             `gorm:"column:following_count;type:bigint;default:0" json:"following_count" bson:"following_count"`
	InteractionCount int64             `gorm:"column:interaction_count;type:bigint;default:0" json:"interaction_count" bson:"interaction_count"`
	ContentCount     int64             `gorm:"column:content_count;type:bigint;default:0" json:"content_count" bson:"content_count"`
	IPLocation       string            `gorm:"column:ip_location;type:varchar(64)" json:"ip_location" bson:"ip_location"`
	Gender           string            `gorm:"column:gender;type:varchar(16)" json:"gender" bson:"gender"`
	Extra            datatypes.JSONMap `gorm:"column:extra" json:"extra,omitempty" bson:"extra,omitempty"`
	IngestedAt       time.Time         `gorm:"column:ingested_at;autoCreateTime:false" json:"ingested_at" bson:"ingested_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at" bson:"updated_at"`
}

func (c *Creator) Key() string {
	return RecordKey(c.Platform, c.UserID)
}

func (c *Creator) ClampCounts() {
	clamp(&c.FollowerCount, &c.FollowingCount, &c.InteractionCount, &c.ContentCount)
}

func (c *Creator) Columns() []string {
	return []string{
		"platform", "user_id", "handle", "nickname", "avatar_url", "bio", "follower_count",
		"following_count", "interaction_count", "content_count", "ip_location", "gender",
		"ingested_at", "updated_at",
	}
}

func (c *Creator) Values() []string {
	return []string{
		string(c.Platform), c.UserID, c.Handle, c.Nickname, c.AvatarURL, c.Bio, itoa(c.FollowerCount),
		itoa(c.FollowingCount), itoa(c.InteractionCount), itoa(c.ContentCount), c.IPLocation, c.Gender,
		formatTime(c.IngestedAt), formatTime(c.UpdatedAt),
	}
}

// StringList 以 JSON 数组形式落库的字符串列表
type StringList = datatypes.JSONSlice[string]

// ContentRef 详情/评论接口需要的内容引用
type ContentRef struct {
	ID     string
	Tokens map[string]string
}

// Token 取上下文令牌，不存在返回空串
func (r ContentRef) Token(name string) string {
	if r.Tokens == nil {
		return ""
	}
	return r.Tokens[name]
}

// CreatorRef 创作者引用（数字ID或路径ID均可）
type CreatorRef struct {
	ID     string
	Tokens map[string]string
}

// RecordKey 平台+ID 组合键
func RecordKey(p PlatformType, id string) string {
	return string(p) + ":" + id
}

// Record 所有可落盘记录的公共能力
type Record interface {
	Key() string
	Columns() []string
	Values() []string
}

func clamp(vs ...*int64) {
	for _, v := range vs {
		if *v < 0 {
			*v = 0
		}
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
