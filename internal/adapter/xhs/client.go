// Package xhs 小红书客户端
package xhs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

const (
	codeIPBlocked    = 300012
	codeNoteAbnormal = -510001
)

func init() {
	adapter.Register(model.PlatformXHS, New)
}

// Client 小红书 PlatformClient
type Client struct {
	req    *adapter.Requester
	logger *logrus.Logger
	tokens sync.Map // note_id → xsec_token，二级评论接口需要
}

var _ interfaces.PlatformClient = (*Client)(nil)

func New(deps adapter.Deps) (interfaces.PlatformClient, error) {
	return &Client{
		req:    adapter.NewRequester(model.PlatformXHS, deps, decodeEnvelope),
		logger: deps.Logger,
	}, nil
}

func (c *Client) Platform() model.PlatformType {
	return model.PlatformXHS
}

// classify 业务码映射
func classify(code int, msg string) error {
	switch code {
	case codeIPBlocked:
		return crawlerr.New("xhs", code, msg, crawlerr.ErrForbidden)
	case codeNoteAbnormal:
		return crawlerr.New("xhs", code, msg, crawlerr.ErrNotFound)
	case 461, 471:
		return crawlerr.New("xhs", code, msg, crawlerr.ErrRateLimited)
	}
	return crawlerr.New("xhs", code, msg, crawlerr.ErrDataFetch)
}

func (c *Client) home() string {
	if h := c.req.HomeURL(); h != "" {
		return h
	}
	return webHost
}

func (c *Client) rememberToken(id, token string) {
	if id != "" && token != "" {
		c.tokens.Store(id, token)
	}
}

func (c *Client) token(id string, ref model.ContentRef) string {
	if t := ref.Token("xsec_token"); t != "" {
		return t
	}
	if v, ok := c.tokens.Load(id); ok {
		return v.(string)
	}
	return ""
}

// Search 关键词搜索笔记，返回列表卡片（需要再拉详情）
func (c *Client) Search(ctx context.Context, keyword string, page int, opts interfaces.SearchOptions) (interfaces.ContentPage, error) {
	sort := opts.Sort
	if sort == "" {
		sort = "general"
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	body := map[string]any{
		"keyword":   keyword,
		"page":      page,
		"page_size": pageSize,
		"search_id": strings.ReplaceAll(uuid.NewString(), "-", ""),
		"sort":      sort,
		"note_type": 0,
	}
	var res struct {
		HasMore bool         `json:"has_more"`
		Items   []searchItem `json:"items"`
	}
	if err := c.req.Do(ctx, adapter.Request{Op: "search", Method: "POST", URL: "/api/sns/web/v1/search/notes", Body: body}, &res); err != nil {
		return interfaces.ContentPage{}, err
	}

	out := interfaces.ContentPage{HasMore: res.HasMore}
	for _, item := range res.Items {
		// 过滤推荐词、热搜等非笔记条目
		if item.ModelType != "" && item.ModelType != "note" {
			continue
		}
		if item.ID == "" {
			continue
		}
		c.rememberToken(item.ID, item.XsecToken)
		out.Items = append(out.Items, toContent(item.NoteCard, item.ID, item.XsecToken, true))
	}
	return out, nil
}

// GetContent 详情接口，失败或为空时退回解析详情页
func (c *Client) GetContent(ctx context.Context, ref model.ContentRef) (*model.Content, error) {
	token := c.token(ref.ID, ref)
	source := ref.Token("xsec_source")
	if source == "" {
		source = "pc_search"
	}
	body := map[string]any{
		"source_note_id": ref.ID,
		"image_formats":  []string{"jpg", "webp", "avif"},
		"extra":          map[string]int{"need_body_topic": 1},
		"xsec_source":    source,
		"xsec_token":     token,
	}
	var res struct {
		Items []struct {
			NoteCard noteCard `json:"note_card"`
		} `json:"items"`
	}
	err := c.req.Do(ctx, adapter.Request{Op: "detail", Method: "POST", URL: "/api/sns/web/v1/feed", Body: body}, &res)
	if err == nil && len(res.Items) > 0 {
		c.rememberToken(ref.ID, token)
		return toContent(res.Items[0].NoteCard, ref.ID, token, false), nil
	}
	if err != nil && crawlerr.IsFatal(err) {
		return nil, err
	}
	if err != nil {
		c.logger.WithError(err).WithField("content_id", ref.ID).Debug("详情接口失败，尝试解析详情页")
	}

	page, herr := c.req.HTML(ctx, "detail_html", c.home()+"/explore/"+ref.ID+"?xsec_token="+url.QueryEscape(token)+"&xsec_source="+source)
	if herr != nil {
		if err != nil {
			return nil, err
		}
		return nil, herr
	}
	card, perr := noteFromHTML(page, ref.ID)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", crawlerr.ErrDataFetch, perr)
	}
	if card == nil {
		return nil, fmt.Errorf("xhs note %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toContent(*card, ref.ID, token, false), nil
}

// GetRootComments 一级评论；接口不支持条数参数，由调用方截断
func (c *Client) GetRootComments(ctx context.Context, ref model.ContentRef, cursor string, limit int) (interfaces.CommentPage, error) {
	q := url.Values{}
	q.Set("note_id", ref.ID)
	q.Set("cursor", cursor)
	q.Set("top_comment_id", "")
	q.Set("image_formats", "jpg,webp,avif")
	q.Set("xsec_token", c.token(ref.ID, ref))

	var res commentPage
	if err := c.req.Do(ctx, adapter.Request{Op: "comments", URL: "/api/sns/web/v2/comment/page", Query: q, Comments: true}, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{HasMore: res.HasMore, Cursor: res.Cursor}
	for _, item := range res.Comments {
		cm := toComment(item, ref.ID)
		cm.ParentCommentID = ""
		out.Comments = append(out.Comments, cm)
	}
	return out, nil
}

// GetChildComments 二级评论，从头翻页（一级评论里内嵌的少量子评论不单独处理）
func (c *Client) GetChildComments(ctx context.Context, root *model.Comment, cursor string, limit int) (interfaces.CommentPage, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("note_id", root.ContentID)
	q.Set("root_comment_id", root.CommentID)
	q.Set("num", strconv.Itoa(limit))
	q.Set("cursor", cursor)
	q.Set("image_formats", "jpg,webp,avif")
	q.Set("top_comment_id", "")
	q.Set("xsec_token", c.token(root.ContentID, model.ContentRef{}))

	var res commentPage
	if err := c.req.Do(ctx, adapter.Request{Op: "sub_comments", URL: "/api/sns/web/v2/comment/sub/page", Query: q, Comments: true}, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{HasMore: res.HasMore, Cursor: res.Cursor}
	for _, item := range res.Comments {
		cm := toComment(item, root.ContentID)
		if cm.ParentCommentID == "" {
			cm.ParentCommentID = root.CommentID
		}
		out.Comments = append(out.Comments, cm)
	}
	return out, nil
}

// GetCreator 解析创作者主页
func (c *Client) GetCreator(ctx context.Context, ref model.CreatorRef) (*model.Creator, error) {
	target := c.home() + "/user/profile/" + ref.ID
	if t, s := ref.Tokens["xsec_token"], ref.Tokens["xsec_source"]; t != "" && s != "" {
		target += "?xsec_token=" + t + "&xsec_source=" + s
	}
	page, err := c.req.HTML(ctx, "creator", target)
	if err != nil {
		return nil, err
	}
	data, err := creatorFromHTML(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawlerr.ErrDataFetch, err)
	}
	if data == nil {
		return nil, fmt.Errorf("xhs creator %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	creator := toCreator(ref.ID, *data)
	return creator, nil
}

// ListCreatorContent 创作者笔记列表，cursor 为上一页最后一条笔记ID
func (c *Client) ListCreatorContent(ctx context.Context, creator *model.Creator, cursor string, limit int) (interfaces.ContentPage, error) {
	if limit <= 0 {
		limit = 30
	}
	q := url.Values{}
	q.Set("num", strconv.Itoa(limit))
	q.Set("cursor", cursor)
	q.Set("user_id", creator.UserID)
	q.Set("xsec_token", "")
	q.Set("xsec_source", "pc_feed")

	var res struct {
		Notes   []noteCard `json:"notes"`
		Cursor  string     `json:"cursor"`
		HasMore bool       `json:"has_more"`
	}
	if err := c.req.Do(ctx, adapter.Request{Op: "creator_posts", URL: "/api/sns/web/v1/user_posted", Query: q}, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	out := interfaces.ContentPage{HasMore: res.HasMore, Cursor: res.Cursor}
	for _, n := range res.Notes {
		if n.NoteID == "" {
			continue
		}
		c.rememberToken(n.NoteID, n.XsecToken)
		item := toContent(n, n.NoteID, n.XsecToken, true)
		if item.AuthorID == "" {
			item.AuthorID = creator.UserID
			item.AuthorName = creator.Nickname
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (c *Client) FetchMedia(ctx context.Context, u string) ([]byte, error) {
	return c.req.Fetch(ctx, u)
}

// Ping 查询当前登录用户
func (c *Client) Ping(ctx context.Context) (bool, error) {
	if err := c.req.SyncCookies(ctx); err != nil {
		return false, err
	}
	var me struct {
		Guest  bool   `json:"guest"`
		UserID string `json:"user_id"`
	}
	if err := c.req.Do(ctx, adapter.Request{Op: "ping", URL: "/api/sns/web/v2/user/me"}, &me); err != nil {
		return false, err
	}
	return !me.Guest && me.UserID != "", nil
}

func (c *Client) RefreshCookies(ctx context.Context) error {
	return c.req.RefreshCookies(ctx)
}
