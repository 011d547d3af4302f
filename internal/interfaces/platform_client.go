package interfaces

import (
	"context"

	"SocialSync/internal/model"
)

// SearchOptions 搜索参数
type SearchOptions struct {
	PageSize int
	Sort     string // 平台排序方式，空为综合排序
	Cursor   string // 部分平台翻页依赖上一页返回的游标
}

// ContentPage 内容列表的一页
type ContentPage struct {
	Items   []*model.Content
	HasMore bool
	Cursor  string
}

// CommentPage 评论列表的一页
type CommentPage struct {
	Comments []*model.Comment
	HasMore  bool
	Cursor   string
}

// PlatformClient 所有平台必须实现的核心接口
type PlatformClient interface {
	Platform() model.PlatformType
	Search(ctx context.Context, keyword string, page int, opts SearchOptions) (ContentPage, error)
	GetContent(ctx context.Context, ref model.ContentRef) (*model.Content, error)
	GetRootComments(ctx context.Context, ref model.ContentRef, cursor string, limit int) (CommentPage, error)
	GetChildComments(ctx context.Context, root *model.Comment, cursor string, limit int) (CommentPage, error)
	GetCreator(ctx context.Context, ref model.CreatorRef) (*model.Creator, error)
	ListCreatorContent(ctx context.Context, creator *model.Creator, cursor string, limit int) (ContentPage, error)
	FetchMedia(ctx context.Context, url string) ([]byte, error)
	Ping(ctx context.Context) (bool, error)
	RefreshCookies(ctx context.Context) error
}
